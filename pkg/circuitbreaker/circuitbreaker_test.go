package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
)

var errSink = errors.New("sink down")

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func fail(context.Context) error    { return errSink }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	var transitions []string
	cb := New("test",
		WithFailureThreshold(3),
		WithOnStateChange(func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}),
	)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errSink)
	}
	assert.True(t, cb.IsOpen())
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)
	assert.Equal(t, []string{"closed->open"}, transitions)
	assert.Equal(t, 3, cb.Counts().TotalFailures)
}

func TestCircuitBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	cb := New("test", WithFailureThreshold(2))
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, succeed)
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenTrial(t *testing.T) {
	clk := &fakeClock{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	cb := New("test", WithFailureThreshold(1), WithTimeout(time.Minute), WithClock(clk.Now))
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.True(t, cb.IsOpen())

	clk.Advance(59 * time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)

	clk.Advance(time.Second)
	err := cb.Execute(ctx, func(ctx context.Context) error {
		assert.Equal(t, StateHalfOpen, cb.State())
		assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrTooManyRequests, "one trial at a time")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clk := &fakeClock{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	cb := New("test", WithFailureThreshold(1), WithTimeout(time.Second), WithClock(clk.Now))
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clk.Advance(time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, fail), errSink)
	assert.True(t, cb.IsOpen())

	clk.Advance(500 * time.Millisecond)
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen, "open timeout restarts on reopen")
}

func TestCircuitBreaker_CallerErrorsDoNotTrip(t *testing.T) {
	cb := New("cache", WithFailureThreshold(1))
	ctx := context.Background()

	callerErrs := []error{
		fmt.Errorf("get: %w", shared.ErrNotFound),
		shared.WrapError("sink", "Publish", shared.ErrValidation, "bad id", nil),
		shared.ErrPIIDetected,
		context.Canceled,
	}
	for _, want := range callerErrs {
		err := cb.Execute(ctx, func(context.Context) error { return want })
		assert.ErrorIs(t, err, want)
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, Counts{Requests: 4, TotalSuccesses: 4, ConsecutiveSuccesses: 4}, cb.Counts())

	_ = cb.Execute(ctx, func(context.Context) error { return shared.ErrPayloadSinkUnavailable })
	assert.True(t, cb.IsOpen())
}

func TestPresets(t *testing.T) {
	sink := SinkBreaker(0, 0, nil)
	assert.Equal(t, "payload-sink", sink.Name())
	assert.Equal(t, 5, sink.config.failureThreshold, "zero keeps the default")
	assert.Equal(t, 30*time.Second, sink.config.timeout)

	cache := CacheBreaker(nil)
	assert.Equal(t, "dashboard-cache", cache.Name())
	assert.Equal(t, 3, cache.config.failureThreshold)
	assert.Equal(t, 10*time.Second, cache.config.timeout)
}
