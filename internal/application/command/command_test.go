package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/physics-telemetry/config"
	"github.com/alem-hub/physics-telemetry/internal/application"
	"github.com/alem-hub/physics-telemetry/internal/domain/converter"
	"github.com/alem-hub/physics-telemetry/internal/domain/diagnostic"
	"github.com/alem-hub/physics-telemetry/internal/domain/pattern"
	"github.com/alem-hub/physics-telemetry/internal/domain/physics"
	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
	"github.com/alem-hub/physics-telemetry/pkg/anonymize"
)

// ════════════════════════════════════════════════════════════════════════════
// Test doubles
// ════════════════════════════════════════════════════════════════════════════

type recorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *recorder) Publish(ev shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []shared.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]shared.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.EventType()
	}
	return out
}

func (r *recorder) last() shared.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

type memorySink struct {
	mu       sync.Mutex
	failures int
	failWith error
	saved    map[string]pattern.Payload
	calls    int
}

func (s *memorySink) SavePayload(_ context.Context, id string, p pattern.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		if s.failWith != nil {
			return s.failWith
		}
		return fmt.Errorf("connection refused: %w", shared.ErrServiceUnavailable)
	}
	if s.saved == nil {
		s.saved = make(map[string]pattern.Payload)
	}
	s.saved[id] = p
	return nil
}

func (s *memorySink) Name() string { return "memory" }

type anomalyLog struct {
	saved []*diagnostic.Anomaly
	err   error
}

func (l *anomalyLog) SaveAnomaly(_ context.Context, a *diagnostic.Anomaly, _ *diagnostic.Prescription) error {
	if l.err != nil {
		return l.err
	}
	l.saved = append(l.saved, a)
	return nil
}

func newPipeline(t *testing.T, opts ...application.Option) (*application.Pipeline, *recorder, *anonymize.Anonymizer) {
	t.Helper()
	anon, err := anonymize.New([]byte("test-key"))
	require.NoError(t, err)
	rec := &recorder{}
	p, err := application.New(anon, append([]application.Option{application.WithPublisher(rec)}, opts...)...)
	require.NoError(t, err)
	return p, rec, anon
}

func dashboard(t *testing.T, p *application.Pipeline) *application.Dashboard {
	t.Helper()
	var d *application.Dashboard
	require.NoError(t, p.Do(context.Background(), func(e *application.Engines) error {
		d = application.BuildDashboard(e, time.Now())
		return nil
	}))
	return d
}

// ════════════════════════════════════════════════════════════════════════════
// RecordEvent
// ════════════════════════════════════════════════════════════════════════════

func TestRecordEvent(t *testing.T) {
	p, rec, anon := newPipeline(t)
	h := NewRecordEventHandler(p)

	raw := converter.RawEvent{"amount": 99.0, "frequency": 2.0}
	res, err := h.Handle(context.Background(), RecordEventCommand{
		EntityID: "student-1",
		Event:    raw,
		Attributes: map[string]any{
			"automation_reliance": 0.4,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, anon.Pseudonym("student-1"), res.EntityID)
	assert.NotContains(t, res.EntityID, "student")
	for k, v := range raw {
		assert.Nil(t, v, "raw key %q must be destroyed", k)
	}

	assert.InDelta(t, 2.0, res.Features.Mass, 1e-9)
	require.NotNil(t, res.Prediction)
	require.NotNil(t, res.Friction)
	require.NotNil(t, res.Pattern)
	require.NotNil(t, res.Reaction)
	assert.InDelta(t, 4*physics.EfficiencyFactor, res.Reaction.Value, 1e-9)

	assert.Equal(t, []shared.EventType{shared.EventEntityMoved, shared.EventPatternExtracted}, rec.types())

	d := dashboard(t, p)
	assert.Equal(t, 2, d.System.Entities, "primary plus the new entity")
	assert.Equal(t, 1, d.Entities)
	assert.Equal(t, 1, d.Patterns)
}

func TestRecordEvent_PIIRejected(t *testing.T) {
	p, rec, anon := newPipeline(t)
	h := NewRecordEventHandler(p)

	raw := converter.RawEvent{"amount": 10.0, "contact": "jane@example.com"}
	_, err := h.Handle(context.Background(), RecordEventCommand{EntityID: "student-1", Event: raw})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrPIIDetected)

	assert.Nil(t, raw["contact"], "rejected events are still destroyed")
	assert.Nil(t, raw["amount"])

	d := dashboard(t, p)
	assert.Equal(t, 1, d.System.Entities, "no entity was added")
	assert.Zero(t, d.Entities)
	assert.Zero(t, d.Patterns)

	ev, ok := rec.last().(shared.PatternRejectedEvent)
	require.True(t, ok)
	assert.Equal(t, string(pattern.ReasonEmail), ev.Reason)
	assert.Equal(t, anon.Pseudonym("student-1"), ev.AggregateID())
}

func TestRecordEvent_PIIInAttributes(t *testing.T) {
	p, _, _ := newPipeline(t)
	h := NewRecordEventHandler(p)

	_, err := h.Handle(context.Background(), RecordEventCommand{
		EntityID:   "student-1",
		Event:      converter.RawEvent{"amount": 1.0},
		Attributes: map[string]any{"full_name": "Jane Doe"},
	})
	assert.ErrorIs(t, err, shared.ErrPIIDetected)
}

func TestRecordEvent_Validation(t *testing.T) {
	p, _, _ := newPipeline(t)
	h := NewRecordEventHandler(p)

	_, err := h.Handle(context.Background(), RecordEventCommand{Event: converter.RawEvent{}})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(context.Background(), RecordEventCommand{EntityID: "x"})
	assert.True(t, shared.IsValidation(err))
}

func TestRecordEvent_FeatureFlags(t *testing.T) {
	flags := config.NewFeatureFlags()
	require.NoError(t, flags.DisableFeature(config.FeaturePatternExtraction))
	require.NoError(t, flags.DisableFeature(config.FeatureFrictionAnalysis))

	p, rec, _ := newPipeline(t, application.WithFeatures(flags))
	h := NewRecordEventHandler(p)

	res, err := h.Handle(context.Background(), RecordEventCommand{
		EntityID: "student-1",
		Event:    converter.RawEvent{"amount": 5.0},
	})
	require.NoError(t, err)
	assert.Nil(t, res.Pattern)
	assert.Nil(t, res.Friction)
	assert.Equal(t, []shared.EventType{shared.EventEntityMoved}, rec.types())
}

func TestRecordEvent_ConnectionsAndMove(t *testing.T) {
	p, _, _ := newPipeline(t)
	h := NewRecordEventHandler(p)
	ctx := context.Background()

	_, err := h.Handle(ctx, RecordEventCommand{EntityID: "a", Event: converter.RawEvent{"amount": 9.0}})
	require.NoError(t, err)

	pos := physics.Vec3{X: 1}
	res, err := h.Handle(ctx, RecordEventCommand{
		EntityID:    "b",
		Event:       converter.RawEvent{"amount": 9.0},
		Connections: []string{"a", "ghost"},
		Position:    &pos,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Connected, "unknown peers are skipped")

	res, err = h.Handle(ctx, RecordEventCommand{
		EntityID: "b",
		Event:    converter.RawEvent{"amount": 9.0},
		Position: &physics.Vec3{X: 2},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Prediction)
	assert.Equal(t, 1, dashboard(t, p).System.Connections)
}

func TestRecordEvent_RebuildsCorrelationsEveryTenthEntity(t *testing.T) {
	p, rec, _ := newPipeline(t)
	h := NewRecordEventHandler(p)

	for i := 0; i < 10; i++ {
		_, err := h.Handle(context.Background(), RecordEventCommand{
			EntityID: fmt.Sprintf("student-%d", i),
			Event:    converter.RawEvent{"amount": float64(10 * (i + 1)), "frequency": float64(i)},
		})
		require.NoError(t, err)
	}

	assert.Contains(t, rec.types(), shared.EventCorrelationsRebuilt)
	assert.NotEmpty(t, dashboard(t, p).SuccessFactors)
}

func TestRecordEvent_CancelledContext(t *testing.T) {
	p, _, _ := newPipeline(t)
	h := NewRecordEventHandler(p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.Handle(ctx, RecordEventCommand{EntityID: "a", Event: converter.RawEvent{}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecordEvent_DestroysEventOnError(t *testing.T) {
	p, _, _ := newPipeline(t)
	h := NewRecordEventHandler(p)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name  string
		ctx   context.Context
		id    string
		check func(error) bool
	}{
		{"blank entity", context.Background(), "   ", shared.IsValidation},
		{"cancelled context", cancelled, "a", func(err error) bool { return errors.Is(err, context.Canceled) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := converter.RawEvent{"amount": 99.0, "note": "a@b.com"}
			_, err := h.Handle(tt.ctx, RecordEventCommand{EntityID: tt.id, Event: raw})
			require.Error(t, err)
			assert.True(t, tt.check(err), err)

			require.Len(t, raw, 2)
			for k, v := range raw {
				assert.Nil(t, v, "raw key %q must be destroyed", k)
			}
		})
	}
}

// ════════════════════════════════════════════════════════════════════════════
// RecordReading
// ════════════════════════════════════════════════════════════════════════════

func TestRecordReading_EnergyCascade(t *testing.T) {
	p, rec, _ := newPipeline(t, application.WithAnomalyIDs(func() string { return "anomaly-1" }))
	sink := &anomalyLog{}
	h := NewRecordReadingHandler(p, sink)
	ctx := context.Background()

	for _, v := range []float64{0.65, 0.55, 0.45, 0.30} {
		res, err := h.Handle(ctx, RecordReadingCommand{Sensor: "energy", Value: v})
		require.NoError(t, err)
		assert.Nil(t, res.Anomaly)
	}

	res, err := h.Handle(ctx, RecordReadingCommand{Sensor: "ENERGY", Value: 0.18})
	require.NoError(t, err)
	require.NotNil(t, res.Anomaly)
	require.NotNil(t, res.Prescription)
	assert.Equal(t, diagnostic.SeverityWarning, res.Anomaly.Severity)
	assert.Equal(t, "anomaly-1", res.Prescription.AnomalyID)
	assert.Equal(t, []diagnostic.ActionPackID{diagnostic.PackResourceReallocation, diagnostic.PackRecoveryProtocol}, res.Prescription.PackIDs())

	assert.Equal(t, []shared.EventType{shared.EventAnomalyDetected, shared.EventPrescriptionGenerated}, rec.types())
	require.Len(t, sink.saved, 1)

	findings := dashboard(t, p).Findings
	require.Len(t, findings, 1)
	assert.Equal(t, diagnostic.SensorEnergy, findings[0].Anomaly.SensorType)
}

func TestRecordReading_SinkFailureIsNotFatal(t *testing.T) {
	p, _, _ := newPipeline(t)
	h := NewRecordReadingHandler(p, &anomalyLog{err: errors.New("db down")})

	res, err := h.Handle(context.Background(), RecordReadingCommand{Sensor: "MOMENTUM", Value: 0.05})
	require.NoError(t, err)
	assert.NotNil(t, res.Anomaly)
}

func TestRecordReading_PrescriptionsDisabled(t *testing.T) {
	flags := config.NewFeatureFlags()
	require.NoError(t, flags.DisableFeature(config.FeaturePrescriptions))
	p, rec, _ := newPipeline(t, application.WithFeatures(flags))
	h := NewRecordReadingHandler(p, nil)

	res, err := h.Handle(context.Background(), RecordReadingCommand{Sensor: "DENSITY", Value: 0.1})
	require.NoError(t, err)
	require.NotNil(t, res.Anomaly)
	assert.Nil(t, res.Prescription)
	assert.Equal(t, []shared.EventType{shared.EventAnomalyDetected}, rec.types())
}

func TestRecordReading_Validation(t *testing.T) {
	p, _, _ := newPipeline(t)
	h := NewRecordReadingHandler(p, nil)

	_, err := h.Handle(context.Background(), RecordReadingCommand{Sensor: "PRESSURE", Value: 1})
	assert.ErrorIs(t, err, shared.ErrUnknownSensor)
	assert.True(t, IsBadReading(err))

	_, err = h.Handle(context.Background(), RecordReadingCommand{Sensor: "SIGMA", Value: nan()})
	assert.ErrorIs(t, err, shared.ErrInvalidReading)
}

func nan() float64 {
	var zero float64
	return zero / zero
}

// ════════════════════════════════════════════════════════════════════════════
// SetGoal
// ════════════════════════════════════════════════════════════════════════════

func TestSetGoal(t *testing.T) {
	p, _, _ := newPipeline(t)
	h := NewSetGoalHandler(p)
	ctx := context.Background()

	res, err := h.Handle(ctx, SetGoalCommand{Goal: physics.Goal{Position: physics.Vec3{X: 3, Y: 4}, TargetMass: 5}})
	require.NoError(t, err)
	require.NotNil(t, res.Goal)
	assert.Equal(t, 5.0, res.Goal.TargetMass)
	require.NotNil(t, dashboard(t, p).System.Goal)

	_, err = h.Handle(ctx, SetGoalCommand{Goal: physics.Goal{TargetMass: -1}})
	assert.True(t, shared.IsValidation(err))

	res, err = h.Handle(ctx, SetGoalCommand{Clear: true})
	require.NoError(t, err)
	assert.Nil(t, res.Goal)
	assert.Nil(t, dashboard(t, p).System.Goal)
}

// ════════════════════════════════════════════════════════════════════════════
// PublishPayload
// ════════════════════════════════════════════════════════════════════════════

func fastPublishConfig() PublishPayloadHandlerConfig {
	return PublishPayloadHandlerConfig{
		MaxRetries:       3,
		RetryBaseDelay:   time.Millisecond,
		RetryMaxDelay:    2 * time.Millisecond,
		BreakerThreshold: 5,
		BreakerTimeout:   time.Minute,
	}
}

func seedPatterns(t *testing.T, p *application.Pipeline, n int) {
	t.Helper()
	h := NewRecordEventHandler(p)
	for i := 0; i < n; i++ {
		_, err := h.Handle(context.Background(), RecordEventCommand{
			EntityID: "student-1",
			Event:    converter.RawEvent{"amount": 50.0, "frequency": 10.0},
		})
		require.NoError(t, err)
	}
}

func TestPublishPayload_NoQualifiedPatterns(t *testing.T) {
	p, _, _ := newPipeline(t)
	sink := &memorySink{}
	h := NewPublishPayloadHandler(p, sink, fastPublishConfig())

	_, err := h.Handle(context.Background(), PublishPayloadCommand{})
	assert.ErrorIs(t, err, shared.ErrNoQualifiedPatterns)
	assert.Zero(t, sink.calls)
}

func TestPublishPayload_RetriesTransientFailures(t *testing.T) {
	p, rec, _ := newPipeline(t)
	// one sample gives confidence 0.5 + 0.003 + 0.2 = 0.703
	seedPatterns(t, p, 1)

	sink := &memorySink{failures: 2}
	h := NewPublishPayloadHandler(p, sink, fastPublishConfig())

	res, err := h.Handle(context.Background(), PublishPayloadCommand{})
	require.NoError(t, err)
	assert.Equal(t, 3, sink.calls)
	assert.Contains(t, sink.saved, res.PayloadID)
	assert.Equal(t, 1, res.Payload.Summary.QualifiedPatterns)

	ev, ok := rec.last().(shared.PayloadPublishedEvent)
	require.True(t, ok)
	assert.Equal(t, "memory", ev.Sink)
}

func TestPublishPayload_GivesUp(t *testing.T) {
	p, _, _ := newPipeline(t)
	seedPatterns(t, p, 1)

	sink := &memorySink{failures: 10}
	h := NewPublishPayloadHandler(p, sink, fastPublishConfig())

	_, err := h.Handle(context.Background(), PublishPayloadCommand{})
	require.Error(t, err)
	assert.True(t, shared.IsExternalService(err))
	assert.Equal(t, 3, sink.calls)
}

func TestPublishPayload_RejectionIsNotRetried(t *testing.T) {
	p, _, _ := newPipeline(t)
	seedPatterns(t, p, 1)

	sink := &memorySink{failures: 10, failWith: shared.WrapError("sink", "SavePayload", shared.ErrInvalidID, "payload id is not a uuid", nil)}
	h := NewPublishPayloadHandler(p, sink, fastPublishConfig())

	for i := 0; i < 6; i++ {
		_, err := h.Handle(context.Background(), PublishPayloadCommand{})
		require.Error(t, err)
		assert.ErrorIs(t, err, shared.ErrInvalidID)
	}
	assert.Equal(t, 6, sink.calls, "one call per publication")
	assert.False(t, h.Breaker().IsOpen(), "rejections say nothing about sink health")
}

func TestPublishPayload_Disabled(t *testing.T) {
	flags := config.NewFeatureFlags()
	require.NoError(t, flags.DisableFeature(config.FeaturePayloadPublish))
	p, _, _ := newPipeline(t, application.WithFeatures(flags))
	sink := &memorySink{}
	h := NewPublishPayloadHandler(p, sink, fastPublishConfig())

	res, err := h.Handle(context.Background(), PublishPayloadCommand{})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, sink.calls)
}
