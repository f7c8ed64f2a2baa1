package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/alem-hub/physics-telemetry/internal/interface/cli"
)

var diagnoseFlags struct {
	output string
}

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose SENSOR VALUE...",
	Short: "Run a series of sensor readings through the diagnostic engine",
	Long: `Diagnose records each value in order and prints the reading, any anomaly
and its prescription. Sensors: ENERGY, INERTIA, SIGMA, DENSITY, MOMENTUM.

Usage:
  physctl diagnose energy 0.8 0.4 0.15
  physctl diagnose inertia 10 14 -o json`,
	Args: cobra.MinimumNArgs(2),
	RunE: runDiagnose,
}

func init() {
	diagnoseCmd.Flags().StringVarP(&diagnoseFlags.output, "output", "o", "table", "Output format: table, json or yaml")
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	values := make([]float64, 0, len(args)-1)
	for _, a := range args[1:] {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return fmt.Errorf("value %q is not a number", a)
		}
		values = append(values, v)
	}

	findings, err := cli.NewReplayer(commandLogger(cmd)).Diagnose(cmd.Context(), args[0], values)
	if err != nil {
		return err
	}
	if diagnoseFlags.output == "table" {
		return cli.RenderFindings(cmd.OutOrStdout(), findings)
	}
	return cli.Render(cmd.OutOrStdout(), diagnoseFlags.output, findings)
}
