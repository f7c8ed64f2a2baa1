// Package shared contains common domain errors and events used across the
// pipeline packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each one is emitted by the application pipeline after
// a core engine call changes state.
const (
	// Entity events
	EventEntityAdded EventType = "physics.entity_added"
	EventEntityMoved EventType = "physics.entity_moved"

	// Pattern events
	EventPatternExtracted EventType = "pattern.extracted"
	EventPatternRejected  EventType = "pattern.rejected"
	EventPayloadPublished EventType = "pattern.payload_published"

	// Correlation events
	EventCorrelationsRebuilt EventType = "correlation.rebuilt"

	// Diagnostic events
	EventAnomalyDetected       EventType = "diagnostic.anomaly_detected"
	EventPrescriptionGenerated EventType = "diagnostic.prescription_generated"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Physics Events
// ═══════════════════════════════════════════════════════════════════════════

// EntityMovedEvent is emitted after an entity moves and a prediction is made.
type EntityMovedEvent struct {
	BaseEvent
	SuccessProbability float64 `json:"success_probability"`
	Flow               float64 `json:"flow"`
	Kinetic            float64 `json:"kinetic"`
	Potential          float64 `json:"potential"`
}

// Payload implements Event interface.
func (e EntityMovedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"success_probability": e.SuccessProbability,
		"flow":                e.Flow,
		"kinetic":             e.Kinetic,
		"potential":           e.Potential,
	}
}

// NewEntityMovedEvent creates a new EntityMovedEvent. entityID must already
// be pseudonymised.
func NewEntityMovedEvent(entityID string, successProbability, flow, kinetic, potential float64) EntityMovedEvent {
	return EntityMovedEvent{
		BaseEvent:          NewBaseEvent(EventEntityMoved, entityID),
		SuccessProbability: successProbability,
		Flow:               flow,
		Kinetic:            kinetic,
		Potential:          potential,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Pattern Events
// ═══════════════════════════════════════════════════════════════════════════

// PatternExtractedEvent is emitted when a feature vector passed the PII
// screen and was retained as a pattern.
type PatternExtractedEvent struct {
	BaseEvent
	PatternType string  `json:"pattern_type"`
	Confidence  float64 `json:"confidence"`
}

// Payload implements Event interface.
func (e PatternExtractedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"pattern_type": e.PatternType,
		"confidence":   e.Confidence,
	}
}

// NewPatternExtractedEvent creates a new PatternExtractedEvent.
func NewPatternExtractedEvent(patternID, patternType string, confidence float64) PatternExtractedEvent {
	return PatternExtractedEvent{
		BaseEvent:   NewBaseEvent(EventPatternExtracted, patternID),
		PatternType: patternType,
		Confidence:  confidence,
	}
}

// PatternRejectedEvent is emitted when the PII screen rejected an input.
// It carries the rejection reason only, never the offending value.
type PatternRejectedEvent struct {
	BaseEvent
	Reason string `json:"reason"`
}

// Payload implements Event interface.
func (e PatternRejectedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"reason": e.Reason,
	}
}

// NewPatternRejectedEvent creates a new PatternRejectedEvent.
func NewPatternRejectedEvent(entityID, reason string) PatternRejectedEvent {
	return PatternRejectedEvent{
		BaseEvent: NewBaseEvent(EventPatternRejected, entityID),
		Reason:    reason,
	}
}

// PayloadPublishedEvent is emitted after an aggregate payload reached a sink.
type PayloadPublishedEvent struct {
	BaseEvent
	QualifiedPatterns int    `json:"qualified_patterns"`
	Sink              string `json:"sink"`
}

// Payload implements Event interface.
func (e PayloadPublishedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"qualified_patterns": e.QualifiedPatterns,
		"sink":               e.Sink,
	}
}

// NewPayloadPublishedEvent creates a new PayloadPublishedEvent.
func NewPayloadPublishedEvent(payloadID string, qualified int, sink string) PayloadPublishedEvent {
	return PayloadPublishedEvent{
		BaseEvent:         NewBaseEvent(EventPayloadPublished, payloadID),
		QualifiedPatterns: qualified,
		Sink:              sink,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Correlation Events
// ═══════════════════════════════════════════════════════════════════════════

// CorrelationsRebuiltEvent is emitted when the correlation matrix was rebuilt.
type CorrelationsRebuiltEvent struct {
	BaseEvent
	Entities       int `json:"entities"`
	Metrics        int `json:"metrics"`
	SuccessFactors int `json:"success_factors"`
}

// Payload implements Event interface.
func (e CorrelationsRebuiltEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"entities":        e.Entities,
		"metrics":         e.Metrics,
		"success_factors": e.SuccessFactors,
	}
}

// NewCorrelationsRebuiltEvent creates a new CorrelationsRebuiltEvent.
func NewCorrelationsRebuiltEvent(entities, metrics, successFactors int) CorrelationsRebuiltEvent {
	return CorrelationsRebuiltEvent{
		BaseEvent:      NewBaseEvent(EventCorrelationsRebuilt, "correlation"),
		Entities:       entities,
		Metrics:        metrics,
		SuccessFactors: successFactors,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Diagnostic Events
// ═══════════════════════════════════════════════════════════════════════════

// AnomalyDetectedEvent is emitted when a sensor reading triggered a rule.
type AnomalyDetectedEvent struct {
	BaseEvent
	SensorType string  `json:"sensor_type"`
	Severity   string  `json:"severity"`
	Value      float64 `json:"value"`
	Threshold  float64 `json:"threshold"`
	Message    string  `json:"message"`
	RootCauses int     `json:"root_causes"`
}

// Payload implements Event interface.
func (e AnomalyDetectedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"sensor_type": e.SensorType,
		"severity":    e.Severity,
		"value":       e.Value,
		"threshold":   e.Threshold,
		"message":     e.Message,
		"root_causes": e.RootCauses,
	}
}

// NewAnomalyDetectedEvent creates a new AnomalyDetectedEvent.
func NewAnomalyDetectedEvent(anomalyID, sensorType, severity string, value, threshold float64, message string, rootCauses int) AnomalyDetectedEvent {
	return AnomalyDetectedEvent{
		BaseEvent:  NewBaseEvent(EventAnomalyDetected, anomalyID),
		SensorType: sensorType,
		Severity:   severity,
		Value:      value,
		Threshold:  threshold,
		Message:    message,
		RootCauses: rootCauses,
	}
}

// PrescriptionGeneratedEvent is emitted with the prescription for an anomaly.
type PrescriptionGeneratedEvent struct {
	BaseEvent
	Diagnosis   string   `json:"diagnosis"`
	ActionPacks []string `json:"action_packs"`
	Confidence  float64  `json:"confidence"`
	Urgency     string   `json:"urgency"`
}

// Payload implements Event interface.
func (e PrescriptionGeneratedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"diagnosis":    e.Diagnosis,
		"action_packs": e.ActionPacks,
		"confidence":   e.Confidence,
		"urgency":      e.Urgency,
	}
}

// NewPrescriptionGeneratedEvent creates a new PrescriptionGeneratedEvent.
// The aggregate is the anomaly the prescription answers.
func NewPrescriptionGeneratedEvent(anomalyID, diagnosis string, packs []string, confidence float64, urgency string) PrescriptionGeneratedEvent {
	return PrescriptionGeneratedEvent{
		BaseEvent:   NewBaseEvent(EventPrescriptionGenerated, anomalyID),
		Diagnosis:   diagnosis,
		ActionPacks: packs,
		Confidence:  confidence,
		Urgency:     urgency,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
