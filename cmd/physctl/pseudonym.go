package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alem-hub/physics-telemetry/pkg/anonymize"
)

var pseudonymFlags struct {
	key    string
	keyEnv string
}

var pseudonymCmd = &cobra.Command{
	Use:   "pseudonym ID...",
	Short: "Print the pseudonym a worker would store for each entity ID",
	Long: `Pseudonym computes the keyed pseudonym of each raw entity ID, the same way a
worker configured with the same ANONYMIZE_KEY does. Use it to find an entity
in dashboards and logs without the worker ever seeing the raw ID again.

Usage:
  physctl pseudonym alice bob               # key from $ANONYMIZE_KEY
  physctl pseudonym --key secret alice`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPseudonym,
}

func init() {
	f := pseudonymCmd.Flags()
	f.StringVar(&pseudonymFlags.key, "key", "", "Pseudonym key (overrides --key-env)")
	f.StringVar(&pseudonymFlags.keyEnv, "key-env", "ANONYMIZE_KEY", "Environment variable holding the key")
}

func runPseudonym(cmd *cobra.Command, args []string) error {
	key := pseudonymFlags.key
	if key == "" {
		key = os.Getenv(pseudonymFlags.keyEnv)
	}
	if key == "" {
		return errors.New("no key: pass --key or set $" + pseudonymFlags.keyEnv)
	}

	anon, err := anonymize.New([]byte(key))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, id := range args {
		fmt.Fprintf(out, "%s\t%s\n", id, anon.Pseudonym(id))
	}
	return nil
}
