package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/physics-telemetry/config"
	"github.com/alem-hub/physics-telemetry/internal/domain/diagnostic"
	"github.com/alem-hub/physics-telemetry/internal/domain/physics"
	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
	"github.com/alem-hub/physics-telemetry/pkg/anonymize"
)

// reentrantPublisher calls back into the pipeline from Publish, which only
// works if events are published after the lock is released.
type reentrantPublisher struct {
	p      *Pipeline
	seen   []shared.EventType
	failOn shared.EventType
}

func (r *reentrantPublisher) Publish(ev shared.Event) error {
	r.seen = append(r.seen, ev.EventType())
	if ev.EventType() == r.failOn {
		return errors.New("bus closed")
	}
	return r.p.Do(context.Background(), func(*Engines) error { return nil })
}

func newTestPipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	anon, err := anonymize.New([]byte("test-key"))
	require.NoError(t, err)
	p, err := New(anon, opts...)
	require.NoError(t, err)
	return p
}

func TestNew_RequiresPseudonymizer(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, anonymize.ErrEmptyKey)
}

func TestDo_PublishesAfterUnlock(t *testing.T) {
	pub := &reentrantPublisher{failOn: shared.EventPatternRejected}
	p := newTestPipeline(t, WithPublisher(pub))
	pub.p = p

	boom := errors.New("boom")
	err := p.Do(context.Background(), func(e *Engines) error {
		e.Emit(shared.NewPatternRejectedEvent("ent", "email_pattern"))
		e.Emit(shared.NewCorrelationsRebuiltEvent(10, 3, 1))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []shared.EventType{shared.EventPatternRejected, shared.EventCorrelationsRebuilt}, pub.seen,
		"events are published in order even when fn fails or a publish errors")
}

func TestDo_CancelledContext(t *testing.T) {
	p := newTestPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := p.Do(ctx, func(*Engines) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

type countingPublisher struct{ seen []shared.EventType }

func (c *countingPublisher) Publish(ev shared.Event) error {
	c.seen = append(c.seen, ev.EventType())
	return nil
}

func TestDo_PanicReleasesLock(t *testing.T) {
	pub := &countingPublisher{}
	p := newTestPipeline(t, WithPublisher(pub))

	assert.PanicsWithValue(t, "engine bug", func() {
		_ = p.Do(context.Background(), func(e *Engines) error {
			e.Emit(shared.NewPatternRejectedEvent("ent", "email_pattern"))
			panic("engine bug")
		})
	})

	done := make(chan error, 1)
	go func() {
		done <- p.Do(context.Background(), func(e *Engines) error {
			e.Emit(shared.NewCorrelationsRebuiltEvent(1, 1, 0))
			return nil
		})
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Do blocked after a panicking call")
	}
	assert.Equal(t, []shared.EventType{shared.EventCorrelationsRebuilt}, pub.seen,
		"events of the panicking call are dropped")
}

func TestTouchActivity(t *testing.T) {
	p := newTestPipeline(t)
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, p.Do(context.Background(), func(e *Engines) error {
		var a Activity
		for i := 0; i < ActivityLimit+5; i++ {
			a = e.TouchActivity("ent", start.Add(time.Duration(i)*time.Minute), float64(i%2)*100)
		}
		assert.Len(t, a.Times, ActivityLimit)
		assert.Equal(t, ActivityLimit+5, a.SampleCount)
		assert.Equal(t, start.Add(5*time.Minute), a.Times[0])
		assert.InDelta(t, 0.25, a.Variance, 1e-12, "alternating 0 and 1 after scaling")
		return nil
	}))
}

func TestReset(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	require.NoError(t, p.Do(ctx, func(e *Engines) error {
		e.Physics.AddNode("ent", 2, physics.Vec3{})
		e.Physics.SetGoal(physics.Goal{TargetMass: 3})
		e.TouchActivity("ent", time.Now(), 10)
		e.SetFinding(diagnostic.SensorEnergy, Finding{Anomaly: &diagnostic.Anomaly{ID: "a"}})
		return nil
	}))

	p.Reset()

	require.NoError(t, p.Do(ctx, func(e *Engines) error {
		assert.Equal(t, 1, e.Physics.Len())
		assert.Nil(t, e.GoalPoint())
		assert.Empty(t, e.Findings())
		assert.Equal(t, 1, e.TouchActivity("ent", time.Now(), 10).SampleCount)
		return nil
	}))
}

func TestEnabled_UsesEntityRollout(t *testing.T) {
	flags := config.NewFeatureFlags()
	require.NoError(t, flags.SetRolloutPercent(config.FeatureFrictionAnalysis, 0))
	flags.SetEntityOverride("ent_a", config.FeatureFrictionAnalysis, true)

	p := newTestPipeline(t, WithFeatures(flags))
	assert.True(t, p.Enabled(config.FeatureFrictionAnalysis, "ent_a"))
	assert.False(t, p.Enabled(config.FeatureFrictionAnalysis, "ent_b"))
	assert.False(t, p.Enabled(config.FeatureFrictionAnalysis, ""))
}

func TestFindings_SensorOrder(t *testing.T) {
	p := newTestPipeline(t)
	require.NoError(t, p.Do(context.Background(), func(e *Engines) error {
		e.SetFinding(diagnostic.SensorMomentum, Finding{Anomaly: &diagnostic.Anomaly{ID: "m"}})
		e.SetFinding(diagnostic.SensorEnergy, Finding{Anomaly: &diagnostic.Anomaly{ID: "e"}})

		f := e.Findings()
		require.Len(t, f, 2)
		assert.Equal(t, "e", f[0].Anomaly.ID)
		assert.Equal(t, "m", f[1].Anomaly.ID)
		return nil
	}))
}
