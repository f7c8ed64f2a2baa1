// Package jobs contains the scheduled jobs of the telemetry worker. Every
// job touches the engines only through application.Pipeline.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/alem-hub/physics-telemetry/internal/application"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENTROPY DECAY JOB
// ══════════════════════════════════════════════════════════════════════════════

// EntropyDecayJob applies one entropy decay tick to every entity.
type EntropyDecayJob struct {
	pipeline *application.Pipeline
	logger   *slog.Logger

	ticks atomic.Int64
}

// NewEntropyDecayJob creates a new entropy decay job.
func NewEntropyDecayJob(pipeline *application.Pipeline, logger *slog.Logger) *EntropyDecayJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntropyDecayJob{pipeline: pipeline, logger: logger.With("job", "entropy_decay")}
}

// Name returns the job name.
func (j *EntropyDecayJob) Name() string { return "entropy_decay" }

// Description returns the job description.
func (j *EntropyDecayJob) Description() string {
	return "Decays kinetic and potential energy and velocity of every entity"
}

// Run executes one decay tick.
func (j *EntropyDecayJob) Run(ctx context.Context) error {
	var touched int
	err := j.pipeline.Do(ctx, func(e *application.Engines) error {
		touched = e.Physics.ApplyEntropyDecay()
		return nil
	})
	if err != nil {
		return fmt.Errorf("entropy decay: %w", err)
	}

	// One log line per minute at the default 1s interval.
	if n := j.ticks.Add(1); n%60 == 0 {
		j.logger.Debug("entropy decay", "ticks", n, "entities", touched)
	}
	return nil
}

// Ticks returns how many decay ticks have run.
func (j *EntropyDecayJob) Ticks() int64 {
	return j.ticks.Load()
}
