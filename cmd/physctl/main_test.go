package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/physics-telemetry/pkg/anonymize"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestPseudonym(t *testing.T) {
	out, err := execute(t, "pseudonym", "--key", "secret", "alice", "bob")
	require.NoError(t, err)

	anon, err := anonymize.New([]byte("secret"))
	require.NoError(t, err)
	assert.Equal(t,
		"alice\t"+anon.Pseudonym("alice")+"\nbob\t"+anon.Pseudonym("bob")+"\n",
		out)
}

func TestPseudonym_NoKey(t *testing.T) {
	t.Setenv("PHYSCTL_TEST_EMPTY", "")
	_, err := execute(t, "pseudonym", "--key", "", "--key-env", "PHYSCTL_TEST_EMPTY", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no key")
}

func TestDiagnose(t *testing.T) {
	out, err := execute(t, "diagnose", "energy", "0.8", "0.05", "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "SENSOR")
	assert.Contains(t, out, "EMERGENCY")

	_, err = execute(t, "diagnose", "energy", "lots")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"lots" is not a number`)
}

func TestReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
events:
  - entity: alice
    event: {amount: 50, frequency: 2}
    repeat: 2
`), 0o644))

	out, err := execute(t, "replay", "-f", path, "-o", "json")
	require.NoError(t, err)

	var report struct {
		Events int `json:"events"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 2, report.Events)
	assert.False(t, strings.Contains(out, "alice"))
}
