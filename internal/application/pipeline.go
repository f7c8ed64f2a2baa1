// Package application wires the core engines into one pipeline and exposes
// it to the command and query handlers.
//
// The engines themselves are single-threaded. Pipeline owns one instance of
// each and serialises every call through a single mutex, so handlers only
// ever touch engine state inside Do.
package application

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/alem-hub/physics-telemetry/config"
	"github.com/alem-hub/physics-telemetry/internal/domain/converter"
	"github.com/alem-hub/physics-telemetry/internal/domain/correlation"
	"github.com/alem-hub/physics-telemetry/internal/domain/diagnostic"
	"github.com/alem-hub/physics-telemetry/internal/domain/pattern"
	"github.com/alem-hub/physics-telemetry/internal/domain/physics"
	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
	"github.com/alem-hub/physics-telemetry/pkg/anonymize"
	"github.com/alem-hub/physics-telemetry/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// COLLABORATORS
// ══════════════════════════════════════════════════════════════════════════════

// FeatureToggles decides whether an optional pipeline stage runs.
// *config.FeatureFlags satisfies it.
type FeatureToggles interface {
	IsEnabled(feature string, ctx *config.FeatureContext) bool
}

// Pseudonymizer maps raw entity IDs to stable pseudonyms.
// *anonymize.Anonymizer satisfies it.
type Pseudonymizer interface {
	Pseudonym(id string) string
}

// ActivityLimit bounds the per-entity activity timestamps and velocity
// samples kept for pattern extraction.
const ActivityLimit = 48

// ══════════════════════════════════════════════════════════════════════════════
// ENGINES
// ══════════════════════════════════════════════════════════════════════════════

// Engines is the state guarded by the pipeline lock. A value is only valid
// inside the Do callback that received it.
type Engines struct {
	Converter   *converter.Converter
	Physics     *physics.Map
	Patterns    *pattern.Extractor
	Correlation *correlation.Engine
	Diagnostic  *diagnostic.Engine

	activity map[string]*activityLog
	findings map[diagnostic.SensorType]Finding
	pending  []shared.Event
}

type activityLog struct {
	times      []time.Time
	velocities []float64
	samples    int
}

// Finding is the latest anomaly of a sensor and, when prescriptions are
// enabled, the prescription that answered it.
type Finding struct {
	Anomaly      *diagnostic.Anomaly      `json:"anomaly"`
	Prescription *diagnostic.Prescription `json:"prescription,omitempty"`
}

// Activity is the recent activity of one entity.
type Activity struct {
	Times []time.Time

	// SampleCount counts every recorded event, not only the retained ones.
	SampleCount int

	// Variance is the population variance of recent velocities scaled to
	// [0, 1].
	Variance float64
}

// Emit queues an event. Queued events are published after Do releases the
// lock, in emission order.
func (e *Engines) Emit(events ...shared.Event) {
	e.pending = append(e.pending, events...)
}

// TouchActivity records that entityID was active at t with the given
// velocity and returns the updated activity.
func (e *Engines) TouchActivity(entityID string, t time.Time, velocity float64) Activity {
	log, ok := e.activity[entityID]
	if !ok {
		log = &activityLog{}
		e.activity[entityID] = log
	}
	log.samples++
	log.times = append(log.times, t)
	log.velocities = append(log.velocities, velocity/converter.MaxVelocity)
	if over := len(log.times) - ActivityLimit; over > 0 {
		log.times = slices.Delete(log.times, 0, over)
		log.velocities = slices.Delete(log.velocities, 0, over)
	}

	return Activity{
		Times:       slices.Clone(log.times),
		SampleCount: log.samples,
		Variance:    shared.Variance(log.velocities),
	}
}

// PruneActivity forgets entities whose last activity is before cutoff and
// returns how many were dropped.
func (e *Engines) PruneActivity(cutoff time.Time) int {
	dropped := 0
	for id, log := range e.activity {
		if n := len(log.times); n == 0 || log.times[n-1].Before(cutoff) {
			delete(e.activity, id)
			dropped++
		}
	}
	return dropped
}

// SetFinding stores the latest finding for a sensor.
func (e *Engines) SetFinding(sensor diagnostic.SensorType, f Finding) {
	e.findings[sensor] = f
}

// Findings returns the latest finding per sensor in sensor order.
func (e *Engines) Findings() []Finding {
	out := make([]Finding, 0, len(e.findings))
	for _, s := range diagnostic.SensorTypes() {
		if f, ok := e.findings[s]; ok {
			out = append(out, f)
		}
	}
	return out
}

// GoalPoint projects the physics goal onto the converter plane. It returns
// nil without a goal.
func (e *Engines) GoalPoint() *converter.Point {
	g, ok := e.Physics.Goal()
	if !ok {
		return nil
	}
	return &converter.Point{X: g.Position.X, Y: g.Position.Y}
}

func (e *Engines) reset() {
	e.Physics.Reset()
	e.Patterns.Clear()
	e.Correlation.Reset()
	e.Diagnostic.Reset()
	e.activity = make(map[string]*activityLog)
	e.findings = make(map[diagnostic.SensorType]Finding)
}

// ══════════════════════════════════════════════════════════════════════════════
// PIPELINE
// ══════════════════════════════════════════════════════════════════════════════

// Pipeline serialises access to the engines and carries the collaborators
// every handler needs.
type Pipeline struct {
	mu      sync.Mutex
	engines *Engines

	pseudonyms Pseudonymizer
	publisher  shared.EventPublisher
	features   FeatureToggles
	log        *logger.Logger
	now        func() time.Time
	success    converter.Point
}

// Option configures a Pipeline.
type Option func(*pipelineOptions)

type pipelineOptions struct {
	publisher shared.EventPublisher
	features  FeatureToggles
	log       *logger.Logger
	now       func() time.Time
	success   converter.Point
	newID     func() string
}

// WithPublisher sets where domain events go. Without one events are dropped.
func WithPublisher(p shared.EventPublisher) Option {
	return func(o *pipelineOptions) {
		o.publisher = p
	}
}

// WithFeatures sets the feature toggles. The default enables everything
// that is enabled in config.NewFeatureFlags.
func WithFeatures(f FeatureToggles) Option {
	return func(o *pipelineOptions) {
		if f != nil {
			o.features = f
		}
	}
}

// WithLogger sets the pipeline logger. Engines log through child loggers.
func WithLogger(l *logger.Logger) Option {
	return func(o *pipelineOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// WithClock overrides the time source of every engine.
func WithClock(now func() time.Time) Option {
	return func(o *pipelineOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithSuccessVector sets the reference direction for friction analysis.
func WithSuccessVector(p converter.Point) Option {
	return func(o *pipelineOptions) {
		o.success = p
	}
}

// WithAnomalyIDs overrides anomaly ID generation.
func WithAnomalyIDs(fn func() string) Option {
	return func(o *pipelineOptions) {
		o.newID = fn
	}
}

// New builds a pipeline with fresh engines. The pseudonymizer is required.
func New(pseudonyms Pseudonymizer, opts ...Option) (*Pipeline, error) {
	if pseudonyms == nil {
		return nil, fmt.Errorf("application: %w", anonymize.ErrEmptyKey)
	}

	o := pipelineOptions{
		features: config.NewFeatureFlags(),
		log:      logger.Nop(),
		now:      time.Now,
		success:  converter.Point{X: 1, Y: 1},
	}
	for _, opt := range opts {
		opt(&o)
	}

	p := &Pipeline{
		pseudonyms: pseudonyms,
		publisher:  o.publisher,
		features:   o.features,
		log:        o.log.With(logger.Component("pipeline")),
		now:        o.now,
		success:    o.success,
	}

	eng := &Engines{
		Converter: converter.New(converter.WithClock(o.now)),
		Physics:   physics.NewMap(),
		Patterns: pattern.NewExtractor(
			pattern.WithLogger(o.log),
			pattern.WithClock(o.now),
		),
		Diagnostic: diagnostic.NewEngine(
			diagnostic.WithLogger(o.log),
			diagnostic.WithClock(o.now),
			diagnostic.WithIDGenerator(o.newID),
		),
	}
	eng.Correlation = correlation.NewEngine(
		correlation.WithLogger(o.log),
		correlation.WithClock(o.now),
		correlation.WithRebuildHook(func(s correlation.RebuildStats) {
			// runs inside IngestPhysics, so the lock is already held
			eng.Emit(shared.NewCorrelationsRebuiltEvent(s.Entities, s.Metrics, s.SuccessFactors))
		}),
	)
	eng.activity = make(map[string]*activityLog)
	eng.findings = make(map[diagnostic.SensorType]Finding)
	p.engines = eng

	return p, nil
}

// Do runs fn with exclusive access to the engines. Events emitted by fn
// are published after the lock is released, even when fn fails. If fn
// panics its events are dropped and the lock is released.
func (p *Pipeline) Do(ctx context.Context, fn func(*Engines) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	events, err := p.locked(fn)
	p.publish(events)
	return err
}

func (p *Pipeline) locked(fn func(*Engines) error) (events []shared.Event, err error) {
	p.mu.Lock()
	defer func() {
		events = p.engines.pending
		p.engines.pending = nil
		p.mu.Unlock()
	}()
	return nil, fn(p.engines)
}

// Publish sends events that do not originate inside Do.
func (p *Pipeline) Publish(events ...shared.Event) {
	p.publish(events)
}

func (p *Pipeline) publish(events []shared.Event) {
	if p.publisher == nil {
		return
	}
	for _, ev := range events {
		if err := p.publisher.Publish(ev); err != nil {
			p.log.Warn("failed to publish event",
				logger.String("event_type", string(ev.EventType())),
				logger.Err(err),
			)
		}
	}
}

// Reset returns every engine to its initial state.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.engines.reset()
}

// Pseudonym returns the pseudonym of a raw entity ID. Raw IDs never reach
// engine state.
func (p *Pipeline) Pseudonym(id string) string {
	return p.pseudonyms.Pseudonym(id)
}

// Enabled reports whether feature is on for the entity pseudonym, which may
// be empty for global stages.
func (p *Pipeline) Enabled(feature, entityID string) bool {
	var ctx *config.FeatureContext
	if entityID != "" {
		ctx = &config.FeatureContext{EntityID: entityID}
	}
	return p.features.IsEnabled(feature, ctx)
}

// SuccessVector returns the reference direction for friction analysis.
func (p *Pipeline) SuccessVector() converter.Point {
	return p.success
}

// Logger returns the pipeline logger.
func (p *Pipeline) Logger() *logger.Logger {
	return p.log
}

// Now returns the pipeline clock reading.
func (p *Pipeline) Now() time.Time {
	return p.now()
}
