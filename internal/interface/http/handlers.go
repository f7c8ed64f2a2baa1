package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/alem-hub/physics-telemetry/internal/application/command"
	"github.com/alem-hub/physics-telemetry/internal/application/query"
	"github.com/alem-hub/physics-telemetry/internal/domain/converter"
	"github.com/alem-hub/physics-telemetry/internal/domain/diagnostic"
	"github.com/alem-hub/physics-telemetry/internal/domain/pattern"
	"github.com/alem-hub/physics-telemetry/internal/domain/physics"
	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
	"github.com/alem-hub/physics-telemetry/internal/infrastructure/scheduler"
	"github.com/alem-hub/physics-telemetry/internal/interface/http/handlers"
	"github.com/alem-hub/physics-telemetry/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"name":    "physics-telemetry",
		"version": s.config.Version,
		"endpoints": map[string]string{
			"health":       "/health",
			"events":       "POST /api/v1/events",
			"readings":     "POST /api/v1/readings",
			"dashboard":    "/api/v1/dashboard",
			"payload":      "/api/v1/payload",
			"correlations": "/api/v1/correlations",
			"goal":         "PUT|DELETE /api/v1/goal",
			"jobs":         "/api/v1/jobs",
		},
	})
}

// handleHealth reports liveness of the critical dependencies.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{
			"status":  "healthy",
			"uptime":  s.Uptime().String(),
			"version": s.config.Version,
		})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

// handleReady handles the readiness probe endpoint.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// INGESTION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// recordEventRequest is the body of POST /api/v1/events.
type recordEventRequest struct {
	EntityID    string         `json:"entity_id"`
	Event       map[string]any `json:"event"`
	Position    *physics.Vec3  `json:"position,omitempty"`
	Connections []string       `json:"connections,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// recordEventResponse never echoes the raw entity ID or event values.
type recordEventResponse struct {
	EntityID   string                    `json:"entity_id"`
	Features   converter.FeatureVector   `json:"features"`
	Prediction *physics.Prediction       `json:"prediction,omitempty"`
	Reaction   *physics.Reaction         `json:"reaction,omitempty"`
	Friction   *converter.FrictionReport `json:"friction,omitempty"`
	Pattern    *pattern.Pattern          `json:"pattern,omitempty"`
	Connected  int                       `json:"connected"`
}

// handleRecordEvent handles POST /api/v1/events
func (s *Server) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	if s.deps.RecordEventHandler == nil {
		writeNotImplemented(w, r, "record event")
		return
	}

	var req recordEventRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	res, err := s.deps.RecordEventHandler.Handle(r.Context(), command.RecordEventCommand{
		EntityID:      req.EntityID,
		Event:         converter.RawEvent(req.Event),
		Position:      req.Position,
		Connections:   req.Connections,
		Attributes:    req.Attributes,
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusAccepted, recordEventResponse{
		EntityID:   res.EntityID,
		Features:   res.Features,
		Prediction: res.Prediction,
		Reaction:   res.Reaction,
		Friction:   res.Friction,
		Pattern:    res.Pattern,
		Connected:  res.Connected,
	})
}

// recordReadingRequest is the body of POST /api/v1/readings.
type recordReadingRequest struct {
	Sensor string   `json:"sensor"`
	Value  *float64 `json:"value"`
}

type recordReadingResponse struct {
	Reading                diagnostic.SensorReading `json:"reading"`
	Anomaly                *diagnostic.Anomaly      `json:"anomaly,omitempty"`
	Prescription           *diagnostic.Prescription `json:"prescription,omitempty"`
	DiscoveredCorrelations int                      `json:"discovered_correlations"`
}

// handleRecordReading handles POST /api/v1/readings
func (s *Server) handleRecordReading(w http.ResponseWriter, r *http.Request) {
	if s.deps.RecordReadingHandler == nil {
		writeNotImplemented(w, r, "record reading")
		return
	}

	var req recordReadingRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Value == nil {
		writeJSONError(w, r, http.StatusBadRequest, "validation_failed", "value is required")
		return
	}

	res, err := s.deps.RecordReadingHandler.Handle(r.Context(), command.RecordReadingCommand{
		Sensor:        req.Sensor,
		Value:         *req.Value,
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusAccepted, recordReadingResponse{
		Reading:                res.Reading,
		Anomaly:                res.Anomaly,
		Prescription:           res.Prescription,
		DiscoveredCorrelations: res.DiscoveredCorrelations,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// GOAL HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleSetGoal handles PUT /api/v1/goal
func (s *Server) handleSetGoal(w http.ResponseWriter, r *http.Request) {
	if s.deps.SetGoalHandler == nil {
		writeNotImplemented(w, r, "set goal")
		return
	}

	var goal physics.Goal
	if !s.decodeBody(w, r, &goal) {
		return
	}

	res, err := s.deps.SetGoalHandler.Handle(r.Context(), command.SetGoalCommand{Goal: goal})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]*physics.Goal{"goal": res.Goal})
}

// handleClearGoal handles DELETE /api/v1/goal
func (s *Server) handleClearGoal(w http.ResponseWriter, r *http.Request) {
	if s.deps.SetGoalHandler == nil {
		writeNotImplemented(w, r, "set goal")
		return
	}

	if _, err := s.deps.SetGoalHandler.Handle(r.Context(), command.SetGoalCommand{Clear: true}); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════════════════════
// READ HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetDashboard handles GET /api/v1/dashboard?fresh=true
func (s *Server) handleGetDashboard(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetDashboardHandler == nil {
		writeNotImplemented(w, r, "dashboard")
		return
	}

	res, err := s.deps.GetDashboardHandler.Handle(r.Context(), query.GetDashboardQuery{
		Fresh: getQueryParamBool(r, "fresh"),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleGetPayload handles GET /api/v1/payload?qualified=true
func (s *Server) handleGetPayload(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetPayloadHandler == nil {
		writeNotImplemented(w, r, "payload")
		return
	}

	payload, err := s.deps.GetPayloadHandler.Handle(r.Context(), query.GetPayloadQuery{
		RequireQualified: getQueryParamBool(r, "qualified"),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, payload)
}

// handlePublishPayload handles POST /api/v1/payload/publish?force=true
func (s *Server) handlePublishPayload(w http.ResponseWriter, r *http.Request) {
	if s.deps.PublishPayloadHandler == nil {
		writeNotImplemented(w, r, "payload publishing")
		return
	}

	res, err := s.deps.PublishPayloadHandler.Handle(r.Context(), command.PublishPayloadCommand{
		Force: getQueryParamBool(r, "force"),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Skipped {
		status = http.StatusOK
	}
	writeJSON(w, r, status, map[string]any{
		"payload_id": res.PayloadID,
		"skipped":    res.Skipped,
		"payload":    res.Payload,
	})
}

// handleGetCorrelations handles GET /api/v1/correlations?rebuild=true
func (s *Server) handleGetCorrelations(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetCorrelationsHandler == nil {
		writeNotImplemented(w, r, "correlations")
		return
	}

	res, err := s.deps.GetCorrelationsHandler.Handle(r.Context(), query.GetCorrelationsQuery{
		Rebuild: getQueryParamBool(r, "rebuild"),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleGetAnomalies handles GET /api/v1/anomalies?sensor=ENERGY&limit=20
func (s *Server) handleGetAnomalies(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetAnomaliesHandler == nil {
		writeNotImplemented(w, r, "anomaly log")
		return
	}

	limit, ok := getQueryParamInt(r, "limit", 0)
	if !ok {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
		return
	}

	res, err := s.deps.GetAnomaliesHandler.Handle(r.Context(), query.GetAnomaliesQuery{
		Sensor: r.URL.Query().Get("sensor"),
		Limit:  limit,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// JOB HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeNotImplemented(w, r, "scheduler")
		return
	}
	writeJSON(w, r, http.StatusOK, s.deps.Jobs.ListJobs())
}

// handleRunJob handles POST /api/v1/jobs/{name}/run
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeNotImplemented(w, r, "scheduler")
		return
	}

	res, err := s.deps.Jobs.RunNow(r.Context(), r.PathValue("name"))
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		writeJSONError(w, r, http.StatusNotFound, "job_not_found", "No job with that name")
	case errors.Is(err, scheduler.ErrJobBusy):
		writeJSONError(w, r, http.StatusConflict, "job_busy", "Job is already running")
	case res != nil:
		// a failed run is still a completed request
		writeJSON(w, r, http.StatusOK, res)
	default:
		s.writeDomainError(w, r, err)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// decodeBody decodes a JSON body into dst, writing the error response
// itself when it fails.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err == nil && dec.More() {
		err = errors.New("body must contain a single JSON value")
	}
	switch {
	case err == nil:
		return true
	case handlers.IsBodyTooLarge(err):
		writeJSONError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
	case errors.Is(err, io.EOF):
		writeJSONError(w, r, http.StatusBadRequest, "invalid_body", "Request body is empty")
	default:
		writeJSONError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
	}
	return false
}

// writeDomainError maps application errors onto HTTP status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, shared.ErrPIIDetected):
		writeJSONError(w, r, http.StatusUnprocessableEntity, "pii_detected", "Input rejected by the PII screen")
	case shared.IsValidation(err):
		writeJSONError(w, r, http.StatusBadRequest, "validation_failed", err.Error())
	case shared.IsNotFound(err):
		writeJSONError(w, r, http.StatusNotFound, "not_found", err.Error())
	case shared.IsInsufficientData(err):
		writeJSONError(w, r, http.StatusConflict, "insufficient_data", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeJSONError(w, r, http.StatusGatewayTimeout, "timeout", "Request timed out")
	case errors.Is(err, context.Canceled):
		writeJSONError(w, r, http.StatusServiceUnavailable, "canceled", "Request was canceled")
	case shared.IsExternalService(err):
		s.logger.Warn("dependency unavailable", logger.Err(err), logger.String("path", r.URL.Path))
		writeJSONError(w, r, http.StatusServiceUnavailable, "service_unavailable", "A dependency is unavailable")
	default:
		s.logger.Error("request failed", logger.Err(err), logger.String("path", r.URL.Path))
		writeJSONError(w, r, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
	}
}

func writeNotImplemented(w http.ResponseWriter, r *http.Request, what string) {
	writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", what+" is not configured")
}
