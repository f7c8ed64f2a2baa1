package query

import (
	"context"
	"fmt"

	"github.com/alem-hub/physics-telemetry/internal/application"
	"github.com/alem-hub/physics-telemetry/internal/domain/pattern"
	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PAYLOAD QUERY
// The aggregate pattern payload as it would be published.
// ══════════════════════════════════════════════════════════════════════════════

// GetPayloadQuery contains the parameters of a payload read.
type GetPayloadQuery struct {
	// RequireQualified fails with shared.ErrNoQualifiedPatterns instead of
	// returning an empty payload.
	RequireQualified bool
}

// GetPayloadHandler handles payload reads.
type GetPayloadHandler struct {
	pipeline *application.Pipeline
}

// NewGetPayloadHandler creates a new handler.
func NewGetPayloadHandler(pipeline *application.Pipeline) *GetPayloadHandler {
	return &GetPayloadHandler{pipeline: pipeline}
}

// Handle generates the payload. Generation sweeps aged patterns, so it is a
// write under the lock even though it reads like a query.
func (h *GetPayloadHandler) Handle(ctx context.Context, query GetPayloadQuery) (*pattern.Payload, error) {
	var payload pattern.Payload
	err := h.pipeline.Do(ctx, func(e *application.Engines) error {
		payload = e.Patterns.GeneratePayload()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get_payload: %w", err)
	}
	if query.RequireQualified && payload.Summary.QualifiedPatterns == 0 {
		return nil, fmt.Errorf("get_payload: %w", shared.ErrNoQualifiedPatterns)
	}
	return &payload, nil
}
