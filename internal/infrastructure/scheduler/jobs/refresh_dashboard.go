package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/physics-telemetry/config"
	"github.com/alem-hub/physics-telemetry/internal/application"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH DASHBOARD JOB
// ══════════════════════════════════════════════════════════════════════════════

// RefreshDashboardJob builds the dashboard and stores it in the cache, so
// dashboard reads can be served without taking the pipeline lock.
type RefreshDashboardJob struct {
	pipeline *application.Pipeline
	cache    application.DashboardCache
	ttl      time.Duration
	logger   *slog.Logger
}

// NewRefreshDashboardJob creates a new refresh job. ttl should outlive the
// refresh interval.
func NewRefreshDashboardJob(pipeline *application.Pipeline, cache application.DashboardCache, ttl time.Duration, logger *slog.Logger) *RefreshDashboardJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshDashboardJob{
		pipeline: pipeline,
		cache:    cache,
		ttl:      ttl,
		logger:   logger.With("job", "refresh_dashboard"),
	}
}

// Name returns the job name.
func (j *RefreshDashboardJob) Name() string { return "refresh_dashboard" }

// Description returns the job description.
func (j *RefreshDashboardJob) Description() string {
	return "Builds the dashboard snapshot and writes it to the cache"
}

// Run builds and caches the dashboard. It is a no-op while the dashboard
// cache flag is off.
func (j *RefreshDashboardJob) Run(ctx context.Context) error {
	if !j.pipeline.Enabled(config.FeatureDashboardCache, "") {
		return nil
	}

	var d *application.Dashboard
	if err := j.pipeline.Do(ctx, func(e *application.Engines) error {
		d = application.BuildDashboard(e, j.pipeline.Now())
		return nil
	}); err != nil {
		return fmt.Errorf("refresh dashboard: %w", err)
	}

	if err := j.cache.SetDashboard(ctx, d, j.ttl); err != nil {
		return fmt.Errorf("refresh dashboard: %w", err)
	}
	j.logger.Debug("dashboard cached", "entities", d.System.Entities, "patterns", d.Patterns)
	return nil
}
