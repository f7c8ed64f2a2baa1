// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/alem-hub/physics-telemetry/config"
	"github.com/alem-hub/physics-telemetry/internal/application"
	"github.com/alem-hub/physics-telemetry/internal/domain/converter"
	"github.com/alem-hub/physics-telemetry/internal/domain/correlation"
	"github.com/alem-hub/physics-telemetry/internal/domain/pattern"
	"github.com/alem-hub/physics-telemetry/internal/domain/physics"
	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
	"github.com/alem-hub/physics-telemetry/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD EVENT COMMAND
// Feeds one raw activity event through converter, physics map, pattern
// extractor and correlation engine.
// ══════════════════════════════════════════════════════════════════════════════

// RecordEventCommand contains one raw event of an entity.
type RecordEventCommand struct {
	// EntityID is the raw caller-side ID. It is pseudonymised before it
	// touches any engine.
	EntityID string

	// Event is consumed: every value is nil after Handle returns, whether
	// or not the event was recorded.
	Event converter.RawEvent

	// Position moves the entity when set.
	Position *physics.Vec3

	// Connections are raw IDs of peers the entity interacted with. Peers
	// unknown to the physics map are skipped.
	Connections []string

	// Attributes is an open bag screened for PII. Numeric values become
	// physics attributes (e.g. "automation_reliance").
	Attributes map[string]any

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c RecordEventCommand) Validate() error {
	if _, err := shared.NewEntityID(c.EntityID); err != nil {
		return err
	}
	if c.Event == nil {
		return errors.New("record_event: event is required")
	}
	if c.Position != nil && !c.Position.IsFinite() {
		return errors.New("record_event: position must be finite")
	}
	return nil
}

// RecordEventResult contains the outcome of one event.
type RecordEventResult struct {
	// EntityID is the pseudonym the event was recorded under.
	EntityID string

	Features   converter.FeatureVector
	Prediction *physics.Prediction
	Reaction   *physics.Reaction

	// Friction is set when friction analysis ran.
	Friction *converter.FrictionReport

	// Pattern is nil when extraction is disabled.
	Pattern *pattern.Pattern

	// Connected counts peers that were linked.
	Connected int
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecordEventHandler handles the RecordEventCommand.
type RecordEventHandler struct {
	pipeline *application.Pipeline
	log      *logger.Logger
}

// NewRecordEventHandler creates a new RecordEventHandler.
func NewRecordEventHandler(pipeline *application.Pipeline) *RecordEventHandler {
	return &RecordEventHandler{
		pipeline: pipeline,
		log:      pipeline.Logger().With(logger.Operation("record_event")),
	}
}

// Handle executes the record event command. An event rejected by the PII
// screen is still destroyed and leaves no trace in any engine.
func (h *RecordEventHandler) Handle(ctx context.Context, cmd RecordEventCommand) (*RecordEventResult, error) {
	defer cmd.Event.Destroy()

	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("record_event: validation failed: %w", shared.WrapError("pipeline", "RecordEvent", shared.ErrValidation, "invalid command", err))
	}

	id := h.pipeline.Pseudonym(cmd.EntityID)
	result := &RecordEventResult{EntityID: id}

	err := h.pipeline.Do(ctx, func(e *application.Engines) error {
		// screen before Convert wipes the values
		reason, clean := pattern.ScreenPII(cmd.Event)
		if clean {
			reason, clean = pattern.ScreenPII(cmd.Attributes)
		}

		goal := e.GoalPoint()
		if h.pipeline.Enabled(config.FeatureFrictionAnalysis, id) {
			report := e.Converter.ConvertWithFriction(cmd.Event, goal, h.pipeline.SuccessVector())
			result.Features = report.Features
			result.Friction = &report
		} else {
			result.Features = e.Converter.Convert(cmd.Event, goal)
		}

		if !clean {
			h.log.Warn("event rejected by PII screen", logger.EntityID(id), logger.Reason(string(reason)))
			ev := shared.NewPatternRejectedEvent(id, string(reason))
			ev.CorrelationID = cmd.CorrelationID
			e.Emit(ev)
			return shared.ErrPIIDetected
		}

		h.applyPhysics(e, id, cmd, result)

		activity := e.TouchActivity(id, result.Features.Timestamp, result.Features.Velocity)
		if h.pipeline.Enabled(config.FeaturePatternExtraction, id) {
			result.Pattern = e.Patterns.Extract(pattern.Input{
				Features:      result.Features,
				Prediction:    result.Prediction,
				ActivityTimes: activity.Times,
				Attributes:    cmd.Attributes,
				SampleCount:   activity.SampleCount,
				Variance:      activity.Variance,
			})
		}

		if !e.Correlation.IngestPhysics(id, correlationFeatures(e.Physics, id, result)) {
			return shared.ErrUnknownPhysicsKey
		}

		if p := result.Prediction; p != nil {
			node, _ := e.Physics.Node(id)
			ev := shared.NewEntityMovedEvent(id, p.SuccessProbability, p.Flow, node.Kinetic, node.Potential)
			ev.CorrelationID = cmd.CorrelationID
			e.Emit(ev)
		}
		if result.Pattern != nil {
			ev := shared.NewPatternExtractedEvent(result.Pattern.ID, result.Pattern.Type, result.Pattern.Confidence)
			ev.CorrelationID = cmd.CorrelationID
			e.Emit(ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record_event: %w", err)
	}

	h.log.Debug("event recorded",
		logger.EntityID(id),
		logger.Float64("mass", result.Features.Mass),
		logger.Int("connected", result.Connected),
	)
	return result, nil
}

// applyPhysics places the entity, links its peers, applies the event's
// momentum as a force and predicts the next action.
func (h *RecordEventHandler) applyPhysics(e *application.Engines, id string, cmd RecordEventCommand, result *RecordEventResult) {
	f := result.Features

	var start physics.Vec3
	if cmd.Position != nil {
		start = *cmd.Position
	}
	if _, created := e.Physics.AddNode(id, f.Mass, start); !created {
		e.Physics.SetMass(id, f.Mass)
	}

	for _, peer := range cmd.Connections {
		if e.Physics.Connect(id, h.pipeline.Pseudonym(peer)) {
			result.Connected++
		}
	}

	for key, v := range cmd.Attributes {
		if x, ok := numericAttribute(v); ok {
			e.Physics.SetAttribute(id, key, x)
		}
	}

	result.Reaction = e.Physics.ApplyForce(id, f.Momentum)

	if cmd.Position != nil {
		result.Prediction = e.Physics.MoveNode(id, *cmd.Position)
	} else {
		result.Prediction = e.Physics.PredictActionChange(id)
	}
}

// correlationFeatures is the allow-listed metric set of one event.
func correlationFeatures(m *physics.Map, id string, result *RecordEventResult) map[string]float64 {
	features := result.Features.Metrics()
	if p := result.Prediction; p != nil {
		features[correlation.MetricSuccessProbability] = p.SuccessProbability
		features[correlation.MetricFlow] = p.Flow
	}
	if g, ok := m.ConnectionGravity(id); ok {
		features[correlation.MetricConnectionGravity] = g
	}
	if node, ok := m.Node(id); ok {
		if v, ok := node.Attributes[correlation.MetricAutomationReliance]; ok {
			features[correlation.MetricAutomationReliance] = v
		}
	}
	return features
}

func numericAttribute(v any) (float64, bool) {
	var x float64
	switch n := v.(type) {
	case float64:
		x = n
	case float32:
		x = float64(n)
	case int:
		x = float64(n)
	case int64:
		x = float64(n)
	default:
		return 0, false
	}
	return x, shared.IsFinite(x)
}
