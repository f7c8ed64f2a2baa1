package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/physics-telemetry/internal/application"
)

// ══════════════════════════════════════════════════════════════════════════════
// SWEEP HISTORY JOB
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotPruner deletes stored payload snapshots older than a cutoff.
type SnapshotPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SweepHistoryConfig contains configuration for the sweep job.
type SweepHistoryConfig struct {
	// ActivityRetention is how long an idle entity's activity is kept.
	ActivityRetention time.Duration

	// SnapshotRetention is how long published payloads are kept. Zero
	// keeps them forever.
	SnapshotRetention time.Duration
}

// DefaultSweepHistoryConfig returns sensible defaults.
func DefaultSweepHistoryConfig() SweepHistoryConfig {
	return SweepHistoryConfig{
		ActivityRetention: 7 * 24 * time.Hour,
		SnapshotRetention: 90 * 24 * time.Hour,
	}
}

// SweepStats contains statistics from one sweep.
type SweepStats struct {
	Patterns  int
	Samples   int
	Activity  int
	Snapshots int64
}

// SweepHistoryJob evicts aged patterns, correlation samples and idle
// activity logs, then prunes old payload snapshots.
type SweepHistoryJob struct {
	pipeline *application.Pipeline
	pruner   SnapshotPruner
	config   SweepHistoryConfig
	logger   *slog.Logger
}

// NewSweepHistoryJob creates a new sweep job. pruner may be nil.
func NewSweepHistoryJob(pipeline *application.Pipeline, pruner SnapshotPruner, config SweepHistoryConfig, logger *slog.Logger) *SweepHistoryJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepHistoryJob{
		pipeline: pipeline,
		pruner:   pruner,
		config:   config,
		logger:   logger.With("job", "sweep_history"),
	}
}

// Name returns the job name.
func (j *SweepHistoryJob) Name() string { return "sweep_history" }

// Description returns the job description.
func (j *SweepHistoryJob) Description() string {
	return "Evicts aged patterns, correlation samples and idle activity"
}

// Run executes one sweep.
func (j *SweepHistoryJob) Run(ctx context.Context) error {
	_, err := j.Sweep(ctx)
	return err
}

// Sweep executes one sweep and reports what it removed.
func (j *SweepHistoryJob) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	now := j.pipeline.Now()

	err := j.pipeline.Do(ctx, func(e *application.Engines) error {
		stats.Patterns = e.Patterns.Sweep()
		stats.Samples = e.Correlation.Evict()
		if j.config.ActivityRetention > 0 {
			stats.Activity = e.PruneActivity(now.Add(-j.config.ActivityRetention))
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("sweep history: %w", err)
	}

	if j.pruner != nil && j.config.SnapshotRetention > 0 {
		n, err := j.pruner.DeleteOlderThan(ctx, now.Add(-j.config.SnapshotRetention))
		if err != nil {
			return stats, fmt.Errorf("sweep history: %w", err)
		}
		stats.Snapshots = n
	}

	j.logger.Info("history swept",
		"patterns", stats.Patterns,
		"samples", stats.Samples,
		"activity", stats.Activity,
		"snapshots", stats.Snapshots,
	)
	return stats, nil
}
