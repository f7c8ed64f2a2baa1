package main

import (
	"github.com/spf13/cobra"

	"github.com/alem-hub/physics-telemetry/pkg/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	verbose bool
}

var rootCmd = &cobra.Command{
	Use:   "physctl",
	Short: "Operator tooling for the physics telemetry pipeline",
	Long: "physctl replays scripted sessions through an in-process pipeline,\n" +
		"diagnoses sensor series and talks to the job API of a running worker.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&rootFlags.verbose, "verbose", "v", false, "Log pipeline activity to stderr")

	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(diagnoseCmd)
	rootCmd.AddCommand(pseudonymCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.Version = version
}

// commandLogger is silent unless --verbose is set.
func commandLogger(cmd *cobra.Command) *logger.Logger {
	if !rootFlags.verbose {
		return logger.Nop()
	}
	return logger.New(logger.Options{Output: cmd.ErrOrStderr(), Level: logger.LevelDebug})
}
