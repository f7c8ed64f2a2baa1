package anonymize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_KeyValidation(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrEmptyKey)

	_, err = New([]byte(strings.Repeat("k", 65)))
	assert.Error(t, err)

	a, err := New([]byte("secret"))
	require.NoError(t, err)
	assert.NotNil(t, a)
}

func TestPseudonym(t *testing.T) {
	a, err := New([]byte("secret"), WithPrefix("ent_"))
	require.NoError(t, err)

	p1 := a.Pseudonym("student-42")
	p2 := a.Pseudonym("student-42")
	p3 := a.Pseudonym("student-43")

	assert.Equal(t, p1, p2, "pseudonyms are stable")
	assert.NotEqual(t, p1, p3)
	assert.True(t, strings.HasPrefix(p1, "ent_"))
	assert.Len(t, p1, len("ent_")+DefaultLength)
	assert.NotContains(t, p1, "student")
	assert.Empty(t, a.Pseudonym(""))
}

func TestPseudonym_KeyMatters(t *testing.T) {
	a, _ := New([]byte("key-a"))
	b, _ := New([]byte("key-b"))
	assert.NotEqual(t, a.Pseudonym("student-42"), b.Pseudonym("student-42"))
}

func TestWithLength(t *testing.T) {
	a, _ := New([]byte("k"), WithLength(32))
	assert.Len(t, a.Pseudonym("x"), 32)

	b, _ := New([]byte("k"), WithLength(3))
	assert.Len(t, b.Pseudonym("x"), DefaultLength, "out-of-range lengths are ignored")
}
