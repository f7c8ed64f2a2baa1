// Package converter turns one raw behavioural event into a bounded physics
// feature vector and destroys the raw event in the process.
//
// The raw event is consumed: when Convert returns, every key of the map the
// caller passed in holds nil and the converter keeps no reference to any of
// the original values. This is a hard privacy contract, not an optimisation.
package converter

import (
	"math"
	"time"

	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TYPES
// ══════════════════════════════════════════════════════════════════════════════

// RawEvent is an arbitrary key/value record supplied by a caller, e.g.
// {"amount": 120, "frequency": 3, "progressX": 0.4}. It is only valid for the
// duration of a single Convert call.
type RawEvent map[string]any

// Point is a 2D position used for goal direction.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// FeatureVector is the bounded numeric summary of one raw event. It is
// immutable once produced.
type FeatureVector struct {
	Mass            float64   `json:"mass"`
	Velocity        float64   `json:"velocity"`
	Direction       float64   `json:"direction"`
	Momentum        float64   `json:"momentum"`
	KineticEnergy   float64   `json:"kinetic_energy"`
	PotentialEnergy float64   `json:"potential_energy"`
	Friction        float64   `json:"friction"`
	Entropy         float64   `json:"entropy"`
	Timestamp       time.Time `json:"timestamp"`
}

// Metrics returns the vector as a metric map using the physics allow-list
// key names.
func (f FeatureVector) Metrics() map[string]float64 {
	return map[string]float64{
		"mass":             f.Mass,
		"velocity":         f.Velocity,
		"direction":        f.Direction,
		"momentum":         f.Momentum,
		"kinetic_energy":   f.KineticEnergy,
		"potential_energy": f.PotentialEnergy,
		"friction":         f.Friction,
		"entropy":          f.Entropy,
	}
}

// Bounds of the feature vector.
const (
	MinMass     = 0.1
	MaxMass     = 10.0
	MinVelocity = 0.0
	MaxVelocity = 100.0
	MinFriction = 0.1
	MaxFriction = 0.9
	MinEntropy  = 0.0
	MaxEntropy  = 1.0

	// PotentialPerMass converts mass into stored potential energy.
	PotentialPerMass = 10.0
)

// ══════════════════════════════════════════════════════════════════════════════
// CONVERTER
// ══════════════════════════════════════════════════════════════════════════════

// Converter is stateless apart from its clock.
type Converter struct {
	now func() time.Time
}

// Option configures a Converter.
type Option func(*Converter)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Converter) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a Converter.
func New(opts ...Option) *Converter {
	c := &Converter{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Convert extracts a FeatureVector from raw and then nulls every key of raw.
// goal may be nil. A nil raw event is a contract violation and panics.
func (c *Converter) Convert(raw RawEvent, goal *Point) FeatureVector {
	if raw == nil {
		panic(shared.ErrNilRawEvent)
	}

	s := readSignals(raw)
	raw.Destroy()
	raw = nil

	mass := shared.Clamp(s.massSignal(), MinMass, MaxMass)
	velocity := shared.Clamp(s.frequency+s.rate+math.Abs(s.delta), MinVelocity, MaxVelocity)

	var direction float64
	if goal != nil {
		direction = normalizeAngle(math.Atan2(goal.Y-s.progressY, goal.X-s.progressX))
	}

	return FeatureVector{
		Mass:            mass,
		Velocity:        velocity,
		Direction:       direction,
		Momentum:        mass * velocity,
		KineticEnergy:   0.5 * mass * velocity * velocity,
		PotentialEnergy: mass * PotentialPerMass,
		Friction:        shared.Clamp(0.5+0.3*s.complexity+0.05*s.obstacles-0.2*s.support, MinFriction, MaxFriction),
		Entropy:         shared.Clamp(s.variance+float64(s.fieldCount)/50+s.noise, MinEntropy, MaxEntropy),
		Timestamp:       c.now(),
	}
}

// BatchConvert converts every event in order. Each element is destroyed the
// same way Convert destroys a single event. Nil elements are skipped.
func (c *Converter) BatchConvert(events []RawEvent, goal *Point) []FeatureVector {
	out := make([]FeatureVector, 0, len(events))
	for i := range events {
		if events[i] == nil {
			continue
		}
		out = append(out, c.Convert(events[i], goal))
	}
	return out
}

// Destroy overwrites every key with the nil sentinel. Safe on a nil event.
func (raw RawEvent) Destroy() {
	for k := range raw {
		raw[k] = nil
	}
}

// normalizeAngle maps an angle into (-π, π].
func normalizeAngle(a float64) float64 {
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	return a
}
