package pattern

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/physics-telemetry/internal/domain/converter"
	"github.com/alem-hub/physics-telemetry/internal/domain/physics"
	"github.com/alem-hub/physics-telemetry/pkg/logger"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func features(mass, velocity, friction, entropy float64) converter.FeatureVector {
	return converter.FeatureVector{
		Mass:            mass,
		Velocity:        velocity,
		Momentum:        mass * velocity,
		KineticEnergy:   0.5 * mass * velocity * velocity,
		PotentialEnergy: mass * 10,
		Friction:        friction,
		Entropy:         entropy,
	}
}

func TestScreenPII(t *testing.T) {
	tests := []struct {
		name   string
		attrs  map[string]any
		pass   bool
		reason Reason
	}{
		{"nil bag", nil, true, ReasonNone},
		{"email field with value", map[string]any{"email": "a@b.com"}, false, ReasonPIIField},
		{"email field empty", map[string]any{"email": ""}, true, ReasonNone},
		{"email field absent value", map[string]any{"email": nil}, true, ReasonNone},
		{"email inside free text", map[string]any{"note": "write to x.y@school.kz"}, false, ReasonEmail},
		{"phone inside free text", map[string]any{"note": "call +7 701 234 5678"}, false, ReasonPhone},
		{"nested map", map[string]any{"contact": map[string]any{"x": "a@b.com"}}, false, ReasonEmail},
		{"nested slice", map[string]any{"tags": []any{"ok", "8 (701) 234-56-78"}}, false, ReasonPhone},
		{"pii field variants", map[string]any{"First-Name": "Aigerim"}, false, ReasonPIIField},
		{"email-shaped key", map[string]any{"a@b.com": true}, false, ReasonEmail},
		{"iso date is not a phone", map[string]any{"started": "2025-03-10"}, true, ReasonNone},
		{"date with clock", map[string]any{"started": "2026-10-16 10:30"}, true, ReasonNone},
		{"rfc3339 timestamp", map[string]any{"at": "2026-10-16T10:30:00.123+05:00"}, true, ReasonNone},
		{"time value", map[string]any{"at": time.Date(2026, 10, 16, 10, 30, 0, 0, time.UTC)}, true, ReasonNone},
		{"phone next to a date", map[string]any{"note": "2026-10-16 10:30 call +7 701 234 5678"}, false, ReasonPhone},
		{"short digit runs", map[string]any{"cohort": "2024-spring", "room": "12-34"}, true, ReasonNone},
		{"phone as float", map[string]any{"contact": float64(87011234567)}, false, ReasonPhone},
		{"phone as int", map[string]any{"score": 77012345678}, false, ReasonPhone},
		{"phone as json number", map[string]any{"x": json.Number("87011234567")}, false, ReasonPhone},
		{"phone as nested number", map[string]any{"tags": []any{1.5, int64(7012345678)}}, false, ReasonPhone},
		{"numeric pii field", map[string]any{"phone": 87011234567}, false, ReasonPIIField},
		{"zero pii field", map[string]any{"phone": 0}, true, ReasonNone},
		{"amounts pass", map[string]any{"amount": 1500000.0, "ratio": 0.25, "delta": -12345678901.0}, true, ReasonNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, ok := ScreenPII(tt.attrs)
			assert.Equal(t, tt.pass, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestExtract_RejectsPII(t *testing.T) {
	var buf bytes.Buffer
	var reasons []Reason
	e := NewExtractor(
		WithLogger(logger.New(logger.Options{Output: &buf, Level: logger.LevelDebug})),
		WithRejectHook(func(r Reason) { reasons = append(reasons, r) }),
	)

	p := e.Extract(Input{
		Features:   features(1, 10, 0.5, 0.2),
		Attributes: map[string]any{"email": "a@b.com"},
	})

	assert.Nil(t, p)
	assert.Zero(t, e.Len())
	assert.Equal(t, []Reason{ReasonPIIField}, reasons)
	assert.Contains(t, buf.String(), string(ReasonPIIField))
	assert.NotContains(t, buf.String(), "a@b.com", "the rejected value is never logged")
}

func TestExtract_EmptyPIIFieldPasses(t *testing.T) {
	e := NewExtractor()
	p := e.Extract(Input{
		Features:   features(1, 10, 0.5, 0.2),
		Attributes: map[string]any{"email": ""},
	})
	require.NotNil(t, p)
	assert.Equal(t, 1, e.Len())
}

func TestExtract_Buckets(t *testing.T) {
	clock := newClock()
	e := NewExtractor(WithClock(clock.Now))
	day := clock.t.Truncate(24 * time.Hour)

	p := e.Extract(Input{
		Features: features(4, 30, 0.3, 0.2),
		Prediction: &physics.Prediction{
			SuccessProbability: 0.8,
			Flow:               0.002,
		},
		ActivityTimes: []time.Time{
			day.Add(9 * time.Hour),
			day.Add(10 * time.Hour),
			day.Add(22 * time.Hour),
		},
		SampleCount: 50,
		Variance:    0.5,
	})
	require.NotNil(t, p)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, TypeBehavioral, p.Type)
	assert.Equal(t, clock.t, p.Timestamp)
	assert.Equal(t, Behavior{
		ActivityLevel: LevelMedium,
		MassLevel:     LevelMedium,
		ActiveHours:   HoursMorning,
		Engagement:    EngagementEngaged,
		GrowthPhase:   PhaseExpansion,
	}, p.Behavior)
	assert.InDelta(t, 0.75, p.Confidence, 1e-12)
	assert.InDelta(t, 0.8, p.Physics.Stability, 1e-12)
	assert.True(t, p.Physics.HasPrediction)
	assert.Len(t, p.Impact, 4)
}

func TestQuartileLevel(t *testing.T) {
	assert.Equal(t, LevelLow, quartileLevel(0, 0, 100))
	assert.Equal(t, LevelLow, quartileLevel(24.9, 0, 100))
	assert.Equal(t, LevelMedium, quartileLevel(25, 0, 100))
	assert.Equal(t, LevelHigh, quartileLevel(60, 0, 100))
	assert.Equal(t, LevelVeryHigh, quartileLevel(100, 0, 100))
	assert.Equal(t, LevelVeryHigh, quartileLevel(1e9, 0, 100))
	assert.Equal(t, LevelLow, quartileLevel(-5, 0, 100))
}

func TestDominantHours(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, HoursUnknown, dominantHours(nil))
	assert.Equal(t, HoursEvening, dominantHours([]time.Time{base.Add(19 * time.Hour), base.Add(23 * time.Hour), base.Add(7 * time.Hour)}))
	assert.Equal(t, HoursNight, dominantHours([]time.Time{base.Add(1 * time.Hour), base.Add(13 * time.Hour)}), "ties go to the earlier bucket")
}

func TestConfidence(t *testing.T) {
	assert.InDelta(t, 0.7, Confidence(0, 0), 1e-12)
	assert.InDelta(t, 0.95, Confidence(100, 0), 1e-12)
	assert.InDelta(t, 0.95, Confidence(1000, 0), 1e-12)
	assert.InDelta(t, 0.75, Confidence(50, 0.5), 1e-12)
	assert.InDelta(t, 0.53, Confidence(10, 1), 1e-12)
	assert.InDelta(t, 0.5, Confidence(-4, 7), 1e-12)
}

func TestExtract_AgeEviction(t *testing.T) {
	clock := newClock()
	e := NewExtractor(WithClock(clock.Now))

	e.Extract(Input{Features: features(1, 1, 0.5, 0.5)})
	clock.Advance(29 * 24 * time.Hour)
	e.Extract(Input{Features: features(1, 1, 0.5, 0.5)})
	assert.Equal(t, 2, e.Len())

	clock.Advance(2 * 24 * time.Hour)
	e.Extract(Input{Features: features(1, 1, 0.5, 0.5)})
	assert.Equal(t, 2, e.Len(), "the first pattern is older than 30 days")

	clock.Advance(60 * 24 * time.Hour)
	assert.Equal(t, 2, e.Sweep())
	assert.Zero(t, e.Len())
}

func TestExtract_CountCap(t *testing.T) {
	e := NewExtractor(WithMaxPatterns(3))
	var last *Pattern
	for i := 0; i < 5; i++ {
		last = e.Extract(Input{Features: features(1, float64(i), 0.5, 0.5)})
	}
	require.Equal(t, 3, e.Len())
	patterns := e.Patterns()
	assert.Equal(t, last.ID, patterns[2].ID)
	assert.Equal(t, 2.0, patterns[0].Physics.Velocity)

	e.Clear()
	assert.Zero(t, e.Len())
}

func TestGeneratePayload(t *testing.T) {
	clock := newClock()
	e := NewExtractor(WithClock(clock.Now))

	e.Extract(Input{Features: features(2, 80, 0.2, 0.1), SampleCount: 100})
	clock.Advance(time.Hour)
	e.Extract(Input{Features: features(4, 90, 0.3, 0.9), SampleCount: 100})
	clock.Advance(time.Hour)
	e.Extract(Input{Features: features(6, 10, 0.4, 0.9), SampleCount: 100})
	// confidence 0.5, filtered out
	e.Extract(Input{Features: features(9, 0, 0.9, 1), SampleCount: 0, Variance: 1})

	p := e.GeneratePayload()

	assert.Equal(t, 4, p.Summary.TotalPatterns)
	assert.Equal(t, 3, p.Summary.QualifiedPatterns)
	assert.Equal(t, MinConfidence, p.Summary.MinConfidence)
	assert.InDelta(t, 0.95, p.Summary.MeanConfidence, 1e-9)
	assert.Equal(t, clock.t.Add(-2*time.Hour), p.Summary.WindowStart)
	assert.Equal(t, clock.t, p.Summary.WindowEnd)

	mass := p.PhysicsDistribution["mass"]
	assert.InDelta(t, 4.0, mass.Mean, 1e-9)
	assert.Equal(t, 2.0, mass.Min)
	assert.Equal(t, 6.0, mass.Max)
	assert.Equal(t, 3, mass.Count)
	assert.Equal(t, Histogram{Low: 1, Medium: 2}, mass.Histogram)

	entropy := p.PhysicsDistribution["entropy"]
	assert.Equal(t, Histogram{Low: 1, High: 2}, entropy.Histogram)

	_, hasSuccess := p.PhysicsDistribution["success_probability"]
	assert.False(t, hasSuccess, "no pattern carried a prediction")

	assert.Equal(t, 2, p.BehaviorDistribution["activity_level"][LevelVeryHigh])
	assert.Equal(t, 1, p.BehaviorDistribution["activity_level"][LevelLow])

	friction := p.Impacts["friction"]
	assert.Equal(t, 3, friction.SampleSize)
	assert.InDelta(t, 1.0, friction.PositiveRatio, 1e-9)

	keys := make([]string, 0, len(p.Insights))
	for _, in := range p.Insights {
		keys = append(keys, in.Key)
	}
	assert.Equal(t, []string{"activity_high", "entropy_high"}, keys)

	assert.False(t, p.Privacy.PIIContained)
	assert.False(t, p.Privacy.IndividualIdentifiable)
	assert.NotEmpty(t, p.Privacy.AnonymizationLevel)
}

func TestGeneratePayload_StableInsight(t *testing.T) {
	e := NewExtractor()
	for i := 0; i < 4; i++ {
		e.Extract(Input{Features: features(1, 10, 0.5, 0.1), SampleCount: 100})
	}

	p := e.GeneratePayload()

	byKey := map[string]Insight{}
	for _, in := range p.Insights {
		byKey[in.Key] = in
	}
	require.Contains(t, byKey, "stability_high")
	assert.InDelta(t, 0.9, byKey["stability_high"].Value, 1e-9)
	assert.Contains(t, byKey, "momentum_low")
	assert.NotContains(t, byKey, "entropy_high")
}

func TestGeneratePayload_Empty(t *testing.T) {
	e := NewExtractor()
	p := e.GeneratePayload()

	assert.Zero(t, p.Summary.QualifiedPatterns)
	assert.Empty(t, p.PhysicsDistribution)
	assert.Empty(t, p.Insights)

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	var top map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &top))
	for _, key := range []string{"summary", "physics_distribution", "behavior_distribution", "impacts", "insights", "privacy"} {
		assert.Contains(t, top, key)
	}
	assert.Contains(t, string(raw), `"pii_contained":false`)
}
