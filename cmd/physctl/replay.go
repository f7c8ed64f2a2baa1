package main

import (
	"github.com/spf13/cobra"

	"github.com/alem-hub/physics-telemetry/internal/interface/cli"
)

var replayFlags struct {
	files    []string
	output   string
	parallel int
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay scenario files through in-process pipelines",
	Long: `Replay feeds the events and readings of a scenario file through a fresh
pipeline with a manual clock and prints the final dashboard, payload and
correlations. Replays of the same file produce the same report.

Several files are replayed concurrently, each against its own pipeline,
and printed as a list keyed by file name.

Usage:
  physctl replay -f scenario.yaml
  physctl replay -f - -o yaml < scenario.yaml
  physctl replay -f a.yaml -f b.yaml --parallel 2`,
	Args: cobra.NoArgs,
	RunE: runReplay,
}

func init() {
	f := replayCmd.Flags()
	f.StringArrayVarP(&replayFlags.files, "file", "f", nil, "Scenario file (YAML), or - for stdin; repeatable")
	f.StringVarP(&replayFlags.output, "output", "o", "json", "Output format: json or yaml")
	f.IntVar(&replayFlags.parallel, "parallel", 4, "Maximum scenarios replayed at once")
	_ = replayCmd.MarkFlagRequired("file")
}

type fileReport struct {
	File   string      `json:"file" yaml:"file"`
	Report *cli.Report `json:"report" yaml:"report"`
}

func runReplay(cmd *cobra.Command, _ []string) error {
	scenarios := make([]*cli.Scenario, 0, len(replayFlags.files))
	for _, path := range replayFlags.files {
		s, err := cli.LoadScenario(path)
		if err != nil {
			return err
		}
		scenarios = append(scenarios, s)
	}

	reports, err := cli.NewReplayer(commandLogger(cmd)).ReplayAll(cmd.Context(), scenarios, replayFlags.parallel)
	if err != nil {
		return err
	}
	if len(reports) == 1 {
		return cli.Render(cmd.OutOrStdout(), replayFlags.output, reports[0])
	}

	out := make([]fileReport, len(reports))
	for i, r := range reports {
		out[i] = fileReport{File: replayFlags.files[i], Report: r}
	}
	return cli.Render(cmd.OutOrStdout(), replayFlags.output, out)
}
