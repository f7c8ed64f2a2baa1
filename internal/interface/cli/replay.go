package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/physics-telemetry/config"
	"github.com/alem-hub/physics-telemetry/internal/application"
	"github.com/alem-hub/physics-telemetry/internal/application/command"
	"github.com/alem-hub/physics-telemetry/internal/application/query"
	"github.com/alem-hub/physics-telemetry/internal/domain/converter"
	"github.com/alem-hub/physics-telemetry/internal/domain/diagnostic"
	"github.com/alem-hub/physics-telemetry/internal/domain/pattern"
	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
	"github.com/alem-hub/physics-telemetry/internal/infrastructure/scheduler/jobs"
	"github.com/alem-hub/physics-telemetry/pkg/anonymize"
	"github.com/alem-hub/physics-telemetry/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPLAY
// ══════════════════════════════════════════════════════════════════════════════

// Finding is one sensor reading and what the diagnostic engine made of it.
type Finding struct {
	Reading      diagnostic.SensorReading `json:"reading" yaml:"reading"`
	Anomaly      *diagnostic.Anomaly      `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
	Prescription *diagnostic.Prescription `json:"prescription,omitempty" yaml:"prescription,omitempty"`
}

// Report is the outcome of a replay.
type Report struct {
	Events       int                          `json:"events" yaml:"events"`
	Rejected     int                          `json:"rejected_by_pii_screen" yaml:"rejected_by_pii_screen"`
	Findings     []Finding                    `json:"findings,omitempty" yaml:"findings,omitempty"`
	Dashboard    *application.Dashboard       `json:"dashboard" yaml:"dashboard"`
	Payload      *pattern.Payload             `json:"payload" yaml:"payload"`
	Correlations *query.GetCorrelationsResult `json:"correlations" yaml:"correlations"`
}

// replayClock is a manual clock shared by every engine of a replay.
type replayClock struct {
	now atomic.Int64
}

func (c *replayClock) Now() time.Time          { return time.Unix(0, c.now.Load()).UTC() }
func (c *replayClock) Advance(d time.Duration) { c.now.Add(int64(d)) }

// Replayer runs scenarios against fresh in-process pipelines.
type Replayer struct {
	log *logger.Logger
}

// NewReplayer creates a replayer. log may be nil.
func NewReplayer(log *logger.Logger) *Replayer {
	if log == nil {
		log = logger.Nop()
	}
	return &Replayer{log: log}
}

// pipelineFor builds a deterministic pipeline: manual clock, sequential
// anomaly IDs and the scenario's feature overrides.
func (r *Replayer) pipelineFor(key string, start time.Time, features map[string]bool) (*application.Pipeline, *replayClock, error) {
	anon, err := anonymize.New([]byte(key))
	if err != nil {
		return nil, nil, err
	}

	flags := config.NewFeatureFlags()
	for name, on := range features {
		toggle := flags.DisableFeature
		if on {
			toggle = flags.EnableFeature
		}
		if err := toggle(name); err != nil {
			return nil, nil, fmt.Errorf("feature %q: %w", name, err)
		}
	}

	clk := &replayClock{}
	clk.now.Store(start.UnixNano())

	var seq atomic.Int64
	p, err := application.New(anon,
		application.WithFeatures(flags),
		application.WithLogger(r.log),
		application.WithClock(clk.Now),
		application.WithAnomalyIDs(func() string {
			return fmt.Sprintf("anomaly-%d", seq.Add(1))
		}),
	)
	if err != nil {
		return nil, nil, err
	}
	return p, clk, nil
}

// Replay feeds the scenario through a fresh pipeline and reports the final
// dashboard, payload and correlations. Events rejected by the PII screen
// are counted, not fatal.
func (r *Replayer) Replay(ctx context.Context, s *Scenario) (*Report, error) {
	p, clk, err := r.pipelineFor(s.Key, s.Start, s.Features)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}

	if s.Goal != nil {
		if _, err := command.NewSetGoalHandler(p).Handle(ctx, command.SetGoalCommand{Goal: *s.Goal}); err != nil {
			return nil, fmt.Errorf("replay: %w", err)
		}
	}

	report := &Report{}
	record := command.NewRecordEventHandler(p)
	for i, ev := range s.Events {
		for n := 0; n < ev.Repeat; n++ {
			// recording wipes the map, and a repeat needs the values again
			event := converter.RawEvent(maps.Clone(ev.Event))
			_, err := record.Handle(ctx, command.RecordEventCommand{
				EntityID:      ev.Entity,
				Event:         event,
				Position:      ev.Position,
				Connections:   ev.Connections,
				Attributes:    ev.Attributes,
				CorrelationID: fmt.Sprintf("replay-%d-%d", i, n),
			})
			switch {
			case errors.Is(err, shared.ErrPIIDetected):
				report.Rejected++
			case err != nil:
				return nil, fmt.Errorf("replay: events[%d]: %w", i, err)
			default:
				report.Events++
			}
			clk.Advance(s.Step)
		}
	}

	decay := jobs.NewEntropyDecayJob(p, slog.New(slog.NewTextHandler(io.Discard, nil)))
	for i := 0; i < s.DecayTicks; i++ {
		if err := decay.Run(ctx); err != nil {
			return nil, fmt.Errorf("replay: %w", err)
		}
		clk.Advance(s.Step)
	}

	for _, series := range s.Readings {
		findings, err := diagnose(ctx, p, series.Sensor, series.Values)
		if err != nil {
			return nil, fmt.Errorf("replay: %w", err)
		}
		report.Findings = append(report.Findings, findings...)
	}

	return r.collect(ctx, p, report)
}

// ReplayAll replays independent scenarios concurrently, at most parallel at
// a time. Reports come back in the order of the input. The first failure
// cancels the rest.
func (r *Replayer) ReplayAll(ctx context.Context, scenarios []*Scenario, parallel int) ([]*Report, error) {
	reports := make([]*Report, len(scenarios))
	g, gctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, s := range scenarios {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			report, err := r.Replay(gctx, s)
			if err != nil {
				return fmt.Errorf("scenario %d: %w", i, err)
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// Diagnose feeds one sensor series through a fresh diagnostic engine.
func (r *Replayer) Diagnose(ctx context.Context, sensor string, values []float64) ([]Finding, error) {
	p, _, err := r.pipelineFor(defaultReplayKey, time.Unix(0, 0).UTC(), nil)
	if err != nil {
		return nil, fmt.Errorf("diagnose: %w", err)
	}
	findings, err := diagnose(ctx, p, sensor, values)
	if err != nil {
		return nil, fmt.Errorf("diagnose: %w", err)
	}
	return findings, nil
}

func diagnose(ctx context.Context, p *application.Pipeline, sensor string, values []float64) ([]Finding, error) {
	h := command.NewRecordReadingHandler(p, nil)
	out := make([]Finding, 0, len(values))
	for _, v := range values {
		res, err := h.Handle(ctx, command.RecordReadingCommand{Sensor: sensor, Value: v})
		if err != nil {
			return nil, err
		}
		out = append(out, Finding{Reading: res.Reading, Anomaly: res.Anomaly, Prescription: res.Prescription})
	}
	return out, nil
}

func (r *Replayer) collect(ctx context.Context, p *application.Pipeline, report *Report) (*Report, error) {
	dash, err := query.NewGetDashboardHandler(p, nil).Handle(ctx, query.GetDashboardQuery{Fresh: true})
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	report.Dashboard = dash.Dashboard

	if report.Payload, err = query.NewGetPayloadHandler(p).Handle(ctx, query.GetPayloadQuery{}); err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}

	if report.Correlations, err = query.NewGetCorrelationsHandler(p).Handle(ctx, query.GetCorrelationsQuery{Rebuild: true}); err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	return report, nil
}
