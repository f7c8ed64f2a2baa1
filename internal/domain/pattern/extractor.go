// Package pattern turns feature vectors into anonymised, bucketed patterns
// and aggregates retained patterns into a payload that is safe to transmit.
//
// Every input passes a heuristic PII screen first. Patterns hold only
// ordinal buckets and bounded numbers; no entity ID and no attribute value
// is ever copied into one.
package pattern

import (
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/physics-telemetry/internal/domain/converter"
	"github.com/alem-hub/physics-telemetry/internal/domain/physics"
	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
	"github.com/alem-hub/physics-telemetry/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONSTANTS
// ══════════════════════════════════════════════════════════════════════════════

const (
	// MaxPatternAge is how long a pattern is retained.
	MaxPatternAge = 30 * 24 * time.Hour

	// DefaultMaxPatterns caps the history regardless of age.
	DefaultMaxPatterns = 10000

	// MinConfidence is the lowest confidence aggregated into a payload.
	MinConfidence = 0.6

	// TypeBehavioral is the only pattern type produced today.
	TypeBehavioral = "behavioral"

	// sampleSaturation is the sample count at which the sample bonus stops growing.
	sampleSaturation = 100.0
)

// ══════════════════════════════════════════════════════════════════════════════
// TYPES
// ══════════════════════════════════════════════════════════════════════════════

// Input is one feature vector plus context for extraction.
type Input struct {
	Features   converter.FeatureVector
	Prediction *physics.Prediction

	// ActivityTimes are the moments the entity was active; only the hour of
	// day is used.
	ActivityTimes []time.Time

	// Attributes is an optional open bag screened for PII. Nothing from it
	// is copied into the pattern.
	Attributes map[string]any

	SampleCount int
	Variance    float64
}

// PhysicsSnapshot is the bounded numeric part of a pattern.
type PhysicsSnapshot struct {
	Mass               float64 `json:"mass"`
	Velocity           float64 `json:"velocity"`
	Momentum           float64 `json:"momentum"`
	Energy             float64 `json:"energy"`
	Friction           float64 `json:"friction"`
	Entropy            float64 `json:"entropy"`
	Stability          float64 `json:"stability"`
	SuccessProbability float64 `json:"success_probability"`
	Flow               float64 `json:"flow"`
	HasPrediction      bool    `json:"has_prediction"`
}

// Behavior is the ordinal fingerprint of a pattern.
type Behavior struct {
	ActivityLevel string `json:"activity_level"`
	MassLevel     string `json:"mass_level"`
	ActiveHours   string `json:"active_hours"`
	Engagement    string `json:"engagement"`
	GrowthPhase   string `json:"growth_phase"`
}

// Impact is a signed per-feature score in [-1, 1].
type Impact struct {
	Feature string  `json:"feature"`
	Score   float64 `json:"score"`
}

// Meta describes how a pattern was produced.
type Meta struct {
	SampleCount int     `json:"sample_count"`
	Variance    float64 `json:"variance"`
	Version     string  `json:"version"`
}

// Pattern is an anonymised summary of one feature vector.
type Pattern struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Timestamp  time.Time       `json:"timestamp"`
	Physics    PhysicsSnapshot `json:"physics"`
	Behavior   Behavior        `json:"behavior"`
	Impact     []Impact        `json:"impact"`
	Confidence float64         `json:"confidence"`
	Meta       Meta            `json:"meta"`
}

const patternVersion = "1"

// ══════════════════════════════════════════════════════════════════════════════
// EXTRACTOR
// ══════════════════════════════════════════════════════════════════════════════

// Extractor produces patterns and keeps a bounded, age-evicted history.
type Extractor struct {
	log         *logger.Logger
	now         func() time.Time
	maxPatterns int
	onReject    func(Reason)

	patterns []*Pattern
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger used for rejections.
func WithLogger(l *logger.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.log = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithMaxPatterns overrides DefaultMaxPatterns.
func WithMaxPatterns(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxPatterns = n
		}
	}
}

// WithRejectHook registers a callback invoked with the reason of every
// rejected input.
func WithRejectHook(fn func(Reason)) Option {
	return func(e *Extractor) {
		e.onReject = fn
	}
}

// NewExtractor creates an Extractor.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		log:         logger.Nop(),
		now:         time.Now,
		maxPatterns: DefaultMaxPatterns,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With(logger.Component("pattern_extractor"))
	return e
}

// Extract screens in for PII and, if it passes, buckets it into a Pattern
// that is appended to the history. Rejected input returns nil.
func (e *Extractor) Extract(in Input) *Pattern {
	if reason, ok := ScreenPII(in.Attributes); !ok {
		e.log.Warn("input rejected by PII screen", logger.Reason(string(reason)))
		if e.onReject != nil {
			e.onReject(reason)
		}
		return nil
	}

	now := e.now()
	e.sweep(now)

	f := in.Features
	snap := PhysicsSnapshot{
		Mass:      f.Mass,
		Velocity:  f.Velocity,
		Momentum:  f.Momentum,
		Energy:    f.KineticEnergy + f.PotentialEnergy,
		Friction:  f.Friction,
		Entropy:   f.Entropy,
		Stability: shared.Clamp01(1 - f.Entropy),
	}
	if in.Prediction != nil {
		snap.SuccessProbability = in.Prediction.SuccessProbability
		snap.Flow = in.Prediction.Flow
		snap.HasPrediction = true
	}

	p := &Pattern{
		ID:        uuid.NewString(),
		Type:      TypeBehavioral,
		Timestamp: now,
		Physics:   snap,
		Behavior: Behavior{
			ActivityLevel: quartileLevel(f.Velocity, converter.MinVelocity, converter.MaxVelocity),
			MassLevel:     quartileLevel(f.Mass, converter.MinMass, converter.MaxMass),
			ActiveHours:   dominantHours(in.ActivityTimes),
			Engagement:    engagement(f),
			GrowthPhase:   growthPhase(f.Mass),
		},
		Impact:     impacts(snap),
		Confidence: Confidence(in.SampleCount, in.Variance),
		Meta: Meta{
			SampleCount: max(in.SampleCount, 0),
			Variance:    math.Max(in.Variance, 0),
			Version:     patternVersion,
		},
	}

	e.patterns = append(e.patterns, p)
	if over := len(e.patterns) - e.maxPatterns; over > 0 {
		e.patterns = slices.Delete(e.patterns, 0, over)
	}

	e.log.Debug("pattern extracted",
		logger.PatternID(p.ID),
		logger.Float64("confidence", p.Confidence),
	)
	return p
}

// Confidence is 0.5, plus up to 0.3 for sample count and up to 0.2 for low
// variance, capped at 0.95.
func Confidence(sampleCount int, variance float64) float64 {
	samples := math.Min(math.Max(float64(sampleCount), 0)/sampleSaturation, 1)
	v := variance
	if !shared.IsFinite(v) || v > 1 {
		v = 1
	}
	if v < 0 {
		v = 0
	}
	return shared.CapConfidence(0.5 + 0.3*samples + 0.2*(1-v))
}

// Sweep evicts patterns older than MaxPatternAge and returns how many
// were removed.
func (e *Extractor) Sweep() int {
	return e.sweep(e.now())
}

func (e *Extractor) sweep(now time.Time) int {
	cutoff := now.Add(-MaxPatternAge)
	before := len(e.patterns)
	e.patterns = slices.DeleteFunc(e.patterns, func(p *Pattern) bool {
		return p.Timestamp.Before(cutoff)
	})
	return before - len(e.patterns)
}

// Patterns returns copies of the retained patterns, oldest first.
func (e *Extractor) Patterns() []Pattern {
	out := make([]Pattern, 0, len(e.patterns))
	for _, p := range e.patterns {
		c := *p
		c.Impact = slices.Clone(p.Impact)
		out = append(out, c)
	}
	return out
}

// Len returns the number of retained patterns.
func (e *Extractor) Len() int {
	return len(e.patterns)
}

// Clear drops every retained pattern.
func (e *Extractor) Clear() {
	e.patterns = nil
}
