// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/alem-hub/physics-telemetry/config"
	"github.com/alem-hub/physics-telemetry/internal/application"
	"github.com/alem-hub/physics-telemetry/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET DASHBOARD QUERY
// Physics state, network value, success factors, latest findings per sensor.
// ══════════════════════════════════════════════════════════════════════════════

// GetDashboardQuery contains the parameters of a dashboard read.
type GetDashboardQuery struct {
	// Fresh bypasses the cache.
	Fresh bool
}

// GetDashboardResult contains the dashboard and where it came from.
type GetDashboardResult struct {
	Dashboard *application.Dashboard `json:"dashboard"`
	FromCache bool                   `json:"from_cache"`
}

// GetDashboardHandler handles dashboard reads.
type GetDashboardHandler struct {
	pipeline *application.Pipeline
	cache    application.DashboardCache
	log      *logger.Logger
}

// NewGetDashboardHandler creates a new handler. cache may be nil.
func NewGetDashboardHandler(pipeline *application.Pipeline, cache application.DashboardCache) *GetDashboardHandler {
	return &GetDashboardHandler{
		pipeline: pipeline,
		cache:    cache,
		log:      pipeline.Logger().With(logger.Operation("get_dashboard")),
	}
}

// Handle executes the dashboard query. A cache failure falls back to the
// engines.
func (h *GetDashboardHandler) Handle(ctx context.Context, query GetDashboardQuery) (*GetDashboardResult, error) {
	if !query.Fresh {
		if d, err := h.tryGetFromCache(ctx); err == nil {
			return &GetDashboardResult{Dashboard: d, FromCache: true}, nil
		}
	}

	var d *application.Dashboard
	err := h.pipeline.Do(ctx, func(e *application.Engines) error {
		d = application.BuildDashboard(e, h.pipeline.Now())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get_dashboard: %w", err)
	}
	return &GetDashboardResult{Dashboard: d}, nil
}

// tryGetFromCache reads the cached dashboard when caching is enabled.
func (h *GetDashboardHandler) tryGetFromCache(ctx context.Context) (*application.Dashboard, error) {
	if h.cache == nil || !h.pipeline.Enabled(config.FeatureDashboardCache, "") {
		return nil, errors.New("cache not available")
	}
	d, err := h.cache.GetDashboard(ctx)
	if err != nil {
		h.log.Debug("dashboard cache miss", logger.Err(err))
		return nil, err
	}
	return d, nil
}
