// Package correlation keeps per-entity aggregates of physics metrics,
// rebuilds a cross-metric Pearson matrix from them and derives success
// factors and a network value score.
//
// Entity IDs reaching this package are expected to be pseudonyms. The engine
// performs no I/O and takes no locks.
package correlation

import (
	"slices"
	"time"

	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
	"github.com/alem-hub/physics-telemetry/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONSTANTS
// ══════════════════════════════════════════════════════════════════════════════

// Metric names accepted by IngestPhysics.
const (
	MetricMass               = "mass"
	MetricVelocity           = "velocity"
	MetricDirection          = "direction"
	MetricMomentum           = "momentum"
	MetricKineticEnergy      = "kinetic_energy"
	MetricPotentialEnergy    = "potential_energy"
	MetricFriction           = "friction"
	MetricEntropy            = "entropy"
	MetricSuccessProbability = "success_probability"
	MetricConnectionGravity  = "connection_gravity"
	MetricAutomationReliance = "automation_reliance"
	MetricFlow               = "flow"
)

var allowList = map[string]struct{}{
	MetricMass:               {},
	MetricVelocity:           {},
	MetricDirection:          {},
	MetricMomentum:           {},
	MetricKineticEnergy:      {},
	MetricPotentialEnergy:    {},
	MetricFriction:           {},
	MetricEntropy:            {},
	MetricSuccessProbability: {},
	MetricConnectionGravity:  {},
	MetricAutomationReliance: {},
	MetricFlow:               {},
}

// AllowedMetrics returns the allow-list in sorted order.
func AllowedMetrics() []string {
	out := make([]string, 0, len(allowList))
	for k := range allowList {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

const (
	// SampleWindow is how long an ingested sample is kept.
	SampleWindow = 90 * 24 * time.Hour

	// RebuildEvery triggers a rebuild on every Nth distinct entity.
	RebuildEvery = 10

	// MinSampleSize is the number of entities with aggregates a rebuild needs.
	MinSampleSize = 10

	// CorrelationThreshold is the minimum |r| of a success factor.
	CorrelationThreshold = 0.3

	// MaxSamplesPerEntity bounds history independently of age.
	MaxSamplesPerEntity = 1000
)

// ══════════════════════════════════════════════════════════════════════════════
// TYPES
// ══════════════════════════════════════════════════════════════════════════════

// Aggregate summarises one metric of one entity.
type Aggregate struct {
	Mean     float64 `json:"mean"`
	Slope    float64 `json:"slope"`
	Variance float64 `json:"variance"`
	Latest   float64 `json:"latest"`
	Count    int     `json:"count"`
}

// Matrix maps metric -> metric -> Pearson coefficient.
type Matrix map[string]map[string]float64

// clone returns a deep copy.
func (m Matrix) clone() Matrix {
	out := make(Matrix, len(m))
	for k, row := range m {
		r := make(map[string]float64, len(row))
		for kk, v := range row {
			r[kk] = v
		}
		out[k] = r
	}
	return out
}

// RebuildStats describes one completed matrix rebuild.
type RebuildStats struct {
	Entities       int
	Metrics        int
	SuccessFactors int
}

type sample struct {
	at     time.Time
	values map[string]float64
}

type entityHistory struct {
	samples    []sample
	aggregates map[string]Aggregate
}

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// Engine owns the per-entity histories and the current matrix.
type Engine struct {
	log       *logger.Logger
	now       func() time.Time
	onRebuild func(RebuildStats)

	entities map[string]*entityHistory
	distinct int
	matrix   Matrix
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRebuildHook registers a callback run after every successful rebuild.
func WithRebuildHook(fn func(RebuildStats)) Option {
	return func(e *Engine) {
		e.onRebuild = fn
	}
}

// NewEngine creates an empty Engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		log: logger.Nop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With(logger.Component("correlation_engine"))
	e.Reset()
	return e
}

// Reset drops every entity and the matrix.
func (e *Engine) Reset() {
	e.entities = make(map[string]*entityHistory)
	e.distinct = 0
	e.matrix = Matrix{}
}

// IngestPhysics appends one sample for an entity. The whole call is
// rejected if the ID is empty, the map is empty, any key is outside the
// allow-list or any value is not finite.
func (e *Engine) IngestPhysics(entityID string, features map[string]float64) bool {
	if entityID == "" || len(features) == 0 {
		return false
	}
	for k, v := range features {
		if _, ok := allowList[k]; !ok {
			e.log.Debug("physics sample rejected", logger.Reason("unknown_key"))
			return false
		}
		if !shared.IsFinite(v) {
			e.log.Debug("physics sample rejected", logger.Reason("non_finite_value"))
			return false
		}
	}

	now := e.now()
	h, ok := e.entities[entityID]
	if !ok {
		h = &entityHistory{}
		e.entities[entityID] = h
		e.distinct++
	}

	values := make(map[string]float64, len(features))
	for k, v := range features {
		values[k] = v
	}
	h.samples = append(h.samples, sample{at: now, values: values})
	h.trim(now)
	h.recompute()

	if !ok && e.distinct%RebuildEvery == 0 {
		e.UpdateCorrelations()
	}
	return true
}

// trim drops samples outside the window and beyond the count cap.
func (h *entityHistory) trim(now time.Time) int {
	cutoff := now.Add(-SampleWindow)
	before := len(h.samples)
	h.samples = slices.DeleteFunc(h.samples, func(s sample) bool {
		return s.at.Before(cutoff)
	})
	if over := len(h.samples) - MaxSamplesPerEntity; over > 0 {
		h.samples = slices.Delete(h.samples, 0, over)
	}
	return before - len(h.samples)
}

func (h *entityHistory) recompute() {
	series := make(map[string][]float64)
	for _, s := range h.samples {
		for k, v := range s.values {
			series[k] = append(series[k], v)
		}
	}
	h.aggregates = make(map[string]Aggregate, len(series))
	for k, xs := range series {
		h.aggregates[k] = Aggregate{
			Mean:     shared.Mean(xs),
			Slope:    shared.Slope(xs),
			Variance: shared.Variance(xs),
			Latest:   xs[len(xs)-1],
			Count:    len(xs),
		}
	}
}

// Aggregates returns a copy of an entity's per-metric aggregates.
func (e *Engine) Aggregates(entityID string) (map[string]Aggregate, bool) {
	h, ok := e.entities[entityID]
	if !ok {
		return nil, false
	}
	out := make(map[string]Aggregate, len(h.aggregates))
	for k, v := range h.aggregates {
		out[k] = v
	}
	return out, true
}

// EntityCount returns the number of entities currently holding samples.
func (e *Engine) EntityCount() int {
	return len(e.entities)
}

// Matrix returns a copy of the current correlation matrix.
func (e *Engine) Matrix() Matrix {
	return e.matrix.clone()
}

// Evict applies the sample window to every entity, dropping entities left
// without samples. It returns the number of samples removed.
func (e *Engine) Evict() int {
	now := e.now()
	removed := 0
	for id, h := range e.entities {
		if n := h.trim(now); n > 0 {
			removed += n
			h.recompute()
		}
		if len(h.samples) == 0 {
			delete(e.entities, id)
		}
	}
	return removed
}
