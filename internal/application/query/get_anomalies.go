package query

import (
	"context"
	"fmt"

	"github.com/alem-hub/physics-telemetry/internal/application"
	"github.com/alem-hub/physics-telemetry/internal/domain/diagnostic"
	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET ANOMALIES QUERY
// Past anomalies of one sensor, read from the anomaly log rather than the
// engine, which only remembers the latest one.
// ══════════════════════════════════════════════════════════════════════════════

// MaxAnomalyLimit caps a single anomaly log read.
const MaxAnomalyLimit = 200

// AnomalyLog reads stored anomalies, newest first.
type AnomalyLog interface {
	Recent(ctx context.Context, sensor diagnostic.SensorType, limit int) ([]application.Finding, error)
}

// GetAnomaliesQuery contains the parameters of an anomaly log read.
type GetAnomaliesQuery struct {
	Sensor string
	Limit  int
}

// Validate validates the query and normalises the limit.
func (q *GetAnomaliesQuery) Validate() error {
	if _, err := diagnostic.ParseSensorType(q.Sensor); err != nil {
		return err
	}
	if q.Limit < 0 {
		return shared.ErrNegativeValue
	}
	if q.Limit == 0 {
		q.Limit = 20
	}
	q.Limit = min(q.Limit, MaxAnomalyLimit)
	return nil
}

// GetAnomaliesResult is the answer to an anomaly log read.
type GetAnomaliesResult struct {
	Sensor    diagnostic.SensorType `json:"sensor"`
	Anomalies []application.Finding `json:"anomalies"`
}

// GetAnomaliesHandler handles anomaly log reads.
type GetAnomaliesHandler struct {
	log AnomalyLog
}

// NewGetAnomaliesHandler creates a new handler.
func NewGetAnomaliesHandler(log AnomalyLog) *GetAnomaliesHandler {
	return &GetAnomaliesHandler{log: log}
}

// Handle reads the log.
func (h *GetAnomaliesHandler) Handle(ctx context.Context, query GetAnomaliesQuery) (*GetAnomaliesResult, error) {
	if err := query.Validate(); err != nil {
		return nil, fmt.Errorf("get_anomalies: validation failed: %w", err)
	}
	sensor, _ := diagnostic.ParseSensorType(query.Sensor)

	found, err := h.log.Recent(ctx, sensor, query.Limit)
	if err != nil {
		return nil, fmt.Errorf("get_anomalies: %w", shared.WrapError("diagnostic", "Recent", shared.ErrExternalService, "anomaly log read failed", err))
	}
	if found == nil {
		found = []application.Finding{}
	}
	return &GetAnomaliesResult{Sensor: sensor, Anomalies: found}, nil
}
