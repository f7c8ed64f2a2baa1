package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/alem-hub/physics-telemetry/config"
	"github.com/alem-hub/physics-telemetry/internal/application"
	"github.com/alem-hub/physics-telemetry/internal/domain/diagnostic"
	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
	"github.com/alem-hub/physics-telemetry/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD READING COMMAND
// Records one sensor reading and, when a rule fires, prescribes action packs
// and refreshes the discovered sensor correlations.
// ══════════════════════════════════════════════════════════════════════════════

// AnomalySink persists anomalies and their prescriptions outside the
// process. A nil sink is allowed.
type AnomalySink interface {
	SaveAnomaly(ctx context.Context, a *diagnostic.Anomaly, p *diagnostic.Prescription) error
}

// RecordReadingCommand contains one sensor reading.
type RecordReadingCommand struct {
	// Sensor is one of ENERGY, INERTIA, SIGMA, DENSITY, MOMENTUM.
	Sensor string

	Value float64

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c RecordReadingCommand) Validate() error {
	if _, err := diagnostic.ParseSensorType(c.Sensor); err != nil {
		return err
	}
	if !shared.IsFinite(c.Value) {
		return shared.ErrInvalidReading
	}
	return nil
}

// RecordReadingResult contains the outcome of one reading.
type RecordReadingResult struct {
	Reading diagnostic.SensorReading

	// Anomaly is nil when no rule fired.
	Anomaly *diagnostic.Anomaly

	// Prescription is nil without an anomaly or with prescriptions off.
	Prescription *diagnostic.Prescription

	// DiscoveredCorrelations is the number of sensor pairs above the
	// discovery threshold after the refresh.
	DiscoveredCorrelations int
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecordReadingHandler handles the RecordReadingCommand.
type RecordReadingHandler struct {
	pipeline *application.Pipeline
	sink     AnomalySink
	log      *logger.Logger
}

// NewRecordReadingHandler creates a new RecordReadingHandler.
func NewRecordReadingHandler(pipeline *application.Pipeline, sink AnomalySink) *RecordReadingHandler {
	return &RecordReadingHandler{
		pipeline: pipeline,
		sink:     sink,
		log:      pipeline.Logger().With(logger.Operation("record_reading")),
	}
}

// Handle executes the record reading command.
func (h *RecordReadingHandler) Handle(ctx context.Context, cmd RecordReadingCommand) (*RecordReadingResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("record_reading: validation failed: %w", err)
	}
	sensor, _ := diagnostic.ParseSensorType(cmd.Sensor)
	prescribe := h.pipeline.Enabled(config.FeaturePrescriptions, "")

	result := &RecordReadingResult{}
	err := h.pipeline.Do(ctx, func(e *application.Engines) error {
		reading, ok := e.Diagnostic.RecordReading(sensor, cmd.Value)
		if !ok {
			return shared.ErrInvalidReading
		}
		result.Reading = reading

		a := e.Diagnostic.DetectAnomaly(sensor)
		if a == nil {
			return nil
		}
		result.Anomaly = a

		ev := shared.NewAnomalyDetectedEvent(a.ID, string(a.SensorType), string(a.Severity), a.Value, a.Threshold, a.Message, len(a.RootCauses))
		ev.CorrelationID = cmd.CorrelationID
		e.Emit(ev)

		if prescribe {
			p := e.Diagnostic.GeneratePrescription(a)
			result.Prescription = p

			pev := shared.NewPrescriptionGeneratedEvent(a.ID, p.Diagnosis, packNames(p), p.Confidence, p.Urgency)
			pev.CorrelationID = cmd.CorrelationID
			e.Emit(pev)
		}

		result.DiscoveredCorrelations = e.Diagnostic.RefreshCorrelations()
		e.SetFinding(sensor, application.Finding{Anomaly: a, Prescription: result.Prescription})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record_reading: %w", err)
	}

	if result.Anomaly != nil && h.sink != nil {
		// the reading is already recorded; a sink failure must not undo it
		if err := h.sink.SaveAnomaly(ctx, result.Anomaly, result.Prescription); err != nil {
			h.log.Error("failed to persist anomaly",
				logger.SensorType(string(sensor)),
				logger.Err(err),
			)
		}
	}

	return result, nil
}

func packNames(p *diagnostic.Prescription) []string {
	ids := p.PackIDs()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

// IsBadReading reports whether err came from an invalid sensor or value.
func IsBadReading(err error) bool {
	return errors.Is(err, shared.ErrUnknownSensor) || errors.Is(err, shared.ErrInvalidReading)
}
