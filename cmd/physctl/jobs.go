package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alem-hub/physics-telemetry/internal/interface/cli"
)

var jobsFlags struct {
	addr    string
	apiKey  string
	timeout time.Duration
	output  string
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List the scheduled jobs of a running worker",
	Long: `Jobs queries the job API of a running worker.

Usage:
  physctl jobs --addr http://localhost:8080
  physctl jobs run payload_publish --api-key KEY`,
	Args: cobra.NoArgs,
	RunE: runJobsList,
}

var jobsRunCmd = &cobra.Command{
	Use:   "run NAME",
	Short: "Run a job now and print its result",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRun,
}

func init() {
	f := jobsCmd.PersistentFlags()
	f.StringVar(&jobsFlags.addr, "addr", envOr("PHYSCTL_ADDR", "http://localhost:8080"), "Worker base URL (default: $PHYSCTL_ADDR)")
	f.StringVar(&jobsFlags.apiKey, "api-key", os.Getenv("PHYSCTL_API_KEY"), "API key for write routes (default: $PHYSCTL_API_KEY)")
	f.DurationVar(&jobsFlags.timeout, "timeout", 2*time.Minute, "Request timeout")
	f.StringVarP(&jobsFlags.output, "output", "o", "table", "Output format: table, json or yaml")

	jobsCmd.AddCommand(jobsRunCmd)
}

func jobsClient() *cli.JobsClient {
	return cli.NewJobsClient(jobsFlags.addr, jobsFlags.apiKey, jobsFlags.timeout)
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	list, err := jobsClient().List(cmd.Context())
	if err != nil {
		return err
	}
	if jobsFlags.output == "table" {
		return cli.RenderJobs(cmd.OutOrStdout(), list, time.Now())
	}
	return cli.Render(cmd.OutOrStdout(), jobsFlags.output, list)
}

func runJobsRun(cmd *cobra.Command, args []string) error {
	res, err := jobsClient().Run(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jobsFlags.output != "table" {
		return cli.Render(cmd.OutOrStdout(), jobsFlags.output, res)
	}

	status := "ok"
	switch {
	case res.Skipped:
		status = "skipped"
	case !res.Success:
		status = "failed: " + res.Error
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s in %s\n", res.JobName, status, res.Duration.Round(time.Millisecond))
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
