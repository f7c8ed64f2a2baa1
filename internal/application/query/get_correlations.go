package query

import (
	"context"
	"fmt"

	"github.com/alem-hub/physics-telemetry/internal/application"
	"github.com/alem-hub/physics-telemetry/internal/domain/correlation"
	"github.com/alem-hub/physics-telemetry/internal/domain/diagnostic"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET CORRELATIONS QUERY
// Entity metric correlations plus sensor correlations, known and discovered.
// ══════════════════════════════════════════════════════════════════════════════

// GetCorrelationsQuery contains the parameters of a correlations read.
type GetCorrelationsQuery struct {
	// Rebuild forces a matrix rebuild before reading.
	Rebuild bool
}

// GetCorrelationsResult is the combined correlation view.
type GetCorrelationsResult struct {
	Matrix         correlation.Matrix                 `json:"matrix"`
	SuccessFactors []correlation.SuccessFactor        `json:"success_factors"`
	Entities       int                                `json:"entities"`
	Rebuilt        bool                               `json:"rebuilt"`
	Known          []diagnostic.KnownCorrelation      `json:"known_sensor_correlations"`
	Discovered     []diagnostic.DiscoveredCorrelation `json:"discovered_sensor_correlations"`
}

// GetCorrelationsHandler handles correlation reads.
type GetCorrelationsHandler struct {
	pipeline *application.Pipeline
}

// NewGetCorrelationsHandler creates a new handler.
func NewGetCorrelationsHandler(pipeline *application.Pipeline) *GetCorrelationsHandler {
	return &GetCorrelationsHandler{pipeline: pipeline}
}

// Handle executes the correlations query.
func (h *GetCorrelationsHandler) Handle(ctx context.Context, query GetCorrelationsQuery) (*GetCorrelationsResult, error) {
	result := &GetCorrelationsResult{}
	err := h.pipeline.Do(ctx, func(e *application.Engines) error {
		if query.Rebuild {
			result.Rebuilt = e.Correlation.UpdateCorrelations()
		}
		result.Matrix = e.Correlation.Matrix()
		result.SuccessFactors = e.Correlation.SuccessFactors()
		result.Entities = e.Correlation.EntityCount()
		result.Known = e.Diagnostic.KnownCorrelations()
		result.Discovered = e.Diagnostic.DiscoveredCorrelations()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get_correlations: %w", err)
	}
	return result, nil
}
