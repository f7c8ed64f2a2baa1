package messaging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
)

func syncBus() *InMemoryEventBus {
	cfg := DefaultInMemoryEventBusConfig()
	cfg.AsyncMode = false
	cfg.Logger = slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return NewInMemoryEventBus(cfg)
}

func TestInMemoryEventBus_RoutesByType(t *testing.T) {
	bus := syncBus()

	var typed, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventAnomalyDetected, func(ev shared.Event) error {
		typed = append(typed, ev.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(ev shared.Event) error {
		all = append(all, ev.EventType())
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewAnomalyDetectedEvent("a1", "energy", "high", 0.2, 0.3, "low", 2)))
	require.NoError(t, bus.Publish(shared.NewPatternRejectedEvent("ent", "email_pattern")))

	assert.Equal(t, []shared.EventType{shared.EventAnomalyDetected}, typed)
	assert.Equal(t, []shared.EventType{shared.EventAnomalyDetected, shared.EventPatternRejected}, all)

	snap := bus.Metrics().Snapshot()
	assert.EqualValues(t, 2, snap.TotalPublished)
	assert.EqualValues(t, 3, snap.TotalHandlerExecs)
}

func TestInMemoryEventBus_HandlerFailuresAreContained(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("nope") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("boom") }))

	assert.NoError(t, bus.Publish(shared.NewCorrelationsRebuiltEvent(10, 2, 1)))
	snap := bus.Metrics().Snapshot()
	assert.Equal(t, 0.0, snap.HandlerSuccessRate)
}

func TestInMemoryEventBus_AsyncAndClose(t *testing.T) {
	cfg := DefaultInMemoryEventBusConfig()
	cfg.WorkerPoolSize = 2
	bus := NewInMemoryEventBus(cfg)

	var mu sync.Mutex
	count := 0
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		time.Sleep(time.Millisecond)
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(shared.NewPatternExtractedEvent("p", "purchase", 0.8)))
	}
	require.NoError(t, bus.Close())
	mu.Lock()
	assert.Equal(t, 5, count)
	mu.Unlock()

	assert.ErrorIs(t, bus.Publish(shared.NewPatternExtractedEvent("p", "purchase", 0.8)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventEntityMoved, func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestDecodeEnvelope(t *testing.T) {
	data, err := json.Marshal(eventEnvelope{
		InstanceID:  "other",
		EventType:   shared.EventPayloadPublished,
		AggregateID: "payload-1",
		Payload:     map[string]interface{}{"qualified_patterns": 4},
	})
	require.NoError(t, err)

	ev, self, err := decodeEnvelope(string(data), "me")
	require.NoError(t, err)
	assert.False(t, self)
	assert.Equal(t, shared.EventPayloadPublished, ev.EventType())
	assert.Equal(t, "payload-1", ev.AggregateID())
	assert.EqualValues(t, 4, ev.Payload()["qualified_patterns"])

	_, self, err = decodeEnvelope(string(data), "other")
	require.NoError(t, err)
	assert.True(t, self)

	_, _, err = decodeEnvelope(`{"instance_id":"x"}`, "me")
	assert.ErrorIs(t, err, ErrEventNotSupported)

	_, _, err = decodeEnvelope("not json", "me")
	assert.Error(t, err)
}

func TestLogEvents(t *testing.T) {
	var buf bytes.Buffer
	handler := LogEvents(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))

	require.NoError(t, handler(shared.NewEntityMovedEvent("ent", 0.5, 1, 2, 3)))
	assert.Empty(t, buf.String(), "entity moves log at debug")

	require.NoError(t, handler(shared.NewPatternRejectedEvent("ent", "email_pattern")))
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "pattern.rejected")
}
