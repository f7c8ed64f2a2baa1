package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alem-hub/physics-telemetry/internal/infrastructure/scheduler"
	"github.com/alem-hub/physics-telemetry/pkg/retry"
	"github.com/alem-hub/physics-telemetry/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RENDERING
// ══════════════════════════════════════════════════════════════════════════════

// Render writes v as "json" or "yaml".
func Render(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// RenderFindings prints one line per reading, plus the prescription of
// each anomaly.
func RenderFindings(w io.Writer, findings []Finding) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SENSOR\tVALUE\tDELTA\tTREND\tSEVERITY\tMESSAGE")
	for _, f := range findings {
		severity, message := "-", ""
		if a := f.Anomaly; a != nil {
			severity, message = string(a.Severity), a.Message
		}
		fmt.Fprintf(tw, "%s\t%.3f\t%+.3f\t%s\t%s\t%s\n",
			f.Reading.SensorType, f.Reading.Value, f.Reading.Delta, f.Reading.Trend, severity, message)
		if p := f.Prescription; p != nil {
			fmt.Fprintf(tw, "\t\t\t\t→ %s (urgency %s, packs %v)\n", p.Diagnosis, p.Urgency, p.PackIDs())
		}
	}
	return tw.Flush()
}

// ══════════════════════════════════════════════════════════════════════════════
// JOB API CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// JobsClient talks to the job endpoints of a running worker. Listing is
// retried on transport errors and 5xx answers; running a job is not.
type JobsClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retrier *retry.Retrier
}

// NewJobsClient creates a client. apiKey is only needed to run jobs.
func NewJobsClient(baseURL, apiKey string, timeout time.Duration) *JobsClient {
	return &JobsClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		retrier: retry.New(retry.WithMaxAttempts(3), retry.WithInitialDelay(200*time.Millisecond)),
	}
}

type envelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// List returns the registered jobs.
func (c *JobsClient) List(ctx context.Context) ([]scheduler.JobInfo, error) {
	var env envelope[[]scheduler.JobInfo]
	err := c.retrier.Do(ctx, func(ctx context.Context) error {
		env = envelope[[]scheduler.JobInfo]{}
		return c.do(ctx, http.MethodGet, "/api/v1/jobs", &env)
	})
	if err != nil {
		return nil, err
	}
	return env.Data, nil
}

// Run triggers a job and waits for its result.
func (c *JobsClient) Run(ctx context.Context, name string) (*scheduler.JobResult, error) {
	var env envelope[*scheduler.JobResult]
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs/"+name+"/run", &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

func (c *JobsClient) do(ctx context.Context, method, path string, out interface{ failure() error }) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return retry.Retryable(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	err = json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(out)
	if err == nil {
		err = out.failure()
	}
	if err == nil {
		return nil
	}
	err = fmt.Errorf("%s %s: status %d: %w", method, path, resp.StatusCode, err)
	if resp.StatusCode >= http.StatusInternalServerError {
		return retry.Retryable(err)
	}
	return err
}

func (e *envelope[T]) failure() error {
	if e.Success {
		return nil
	}
	if e.Error == nil {
		return fmt.Errorf("request failed")
	}
	return fmt.Errorf("%s: %s", e.Error.Code, e.Error.Message)
}

// RenderJobs prints the jobs as a table with times relative to now.
func RenderJobs(w io.Writer, list []scheduler.JobInfo, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSCHEDULE\tSTATE\tLAST RUN\tNEXT RUN\tRUNS\tFAILS")
	for _, j := range list {
		state := "enabled"
		switch {
		case j.Running:
			state = "running"
		case !j.Enabled:
			state = "disabled"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			j.Name, j.Schedule, state,
			timeutil.FormatRelative(j.LastRun, now),
			timeutil.FormatRelative(j.NextRun, now),
			j.RunCount, j.FailCount,
		)
	}
	return tw.Flush()
}
