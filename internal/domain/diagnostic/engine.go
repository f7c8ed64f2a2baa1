// Package diagnostic runs rule-based anomaly detection over streams of scalar
// sensor readings, attributes root causes from a static correlation table and
// prescribes ranked action packs.
//
// Each sensor type cycles independently through record, detect and,
// optionally, correlate and prescribe. The engine holds bounded history only
// and performs no I/O.
package diagnostic

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
	"github.com/alem-hub/physics-telemetry/pkg/logger"
)

// Engine owns per-sensor reading history and discovered correlations.
type Engine struct {
	log   *logger.Logger
	now   func() time.Time
	newID func() string

	history    map[SensorType][]SensorReading
	discovered map[string]DiscoveredCorrelation
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

// WithIDGenerator overrides anomaly ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// NewEngine creates an Engine with empty history.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		log:   logger.Nop(),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With(logger.Component("diagnostic_engine"))
	e.Reset()
	return e
}

// Reset drops all readings and discovered correlations.
func (e *Engine) Reset() {
	e.history = make(map[SensorType][]SensorReading, len(sensorTypes))
	e.discovered = make(map[string]DiscoveredCorrelation)
}

// RecordReading appends a reading with its delta and trend relative to the
// previous reading of the same sensor. The first reading of a sensor has
// delta 0. It reports false for an unknown sensor or a non-finite value.
func (e *Engine) RecordReading(sensor SensorType, value float64) (SensorReading, bool) {
	if !sensor.IsValid() || !shared.IsFinite(value) {
		return SensorReading{}, false
	}

	r := SensorReading{
		SensorType: sensor,
		Value:      value,
		Trend:      TrendStable,
		Timestamp:  e.now(),
	}
	h := e.history[sensor]
	if len(h) > 0 {
		r.Delta = relativeDelta(h[len(h)-1].Value, value)
		r.Trend = trendOf(r.Delta)
	}

	h = append(h, r)
	if over := len(h) - HistoryLimit; over > 0 {
		h = slices.Delete(h, 0, over)
	}
	e.history[sensor] = h
	return r, true
}

// DetectAnomaly evaluates the latest reading of sensor against its rule
// family. It returns nil when there are no readings or no rule matches.
func (e *Engine) DetectAnomaly(sensor SensorType) *Anomaly {
	latest, ok := e.Latest(sensor)
	if !ok {
		return nil
	}
	f, ok := evaluate(latest)
	if !ok {
		return nil
	}

	a := &Anomaly{
		ID:         e.newID(),
		SensorType: sensor,
		Severity:   f.severity,
		Value:      latest.Value,
		Threshold:  f.threshold,
		Message:    f.message,
		Timestamp:  latest.Timestamp,
		RootCauses: e.rootCauses(sensor),
	}
	e.log.Warn("anomaly detected",
		logger.SensorType(string(sensor)),
		logger.Severity(string(a.Severity)),
		logger.Float64("value", a.Value),
		logger.Float64("threshold", a.Threshold),
		logger.Int("root_causes", len(a.RootCauses)),
	)
	return a
}

// Ingest records a reading and runs detection on it. At most one anomaly
// results per call.
func (e *Engine) Ingest(sensor SensorType, value float64) *Anomaly {
	if _, ok := e.RecordReading(sensor, value); !ok {
		return nil
	}
	return e.DetectAnomaly(sensor)
}

// Latest returns the most recent reading of sensor.
func (e *Engine) Latest(sensor SensorType) (SensorReading, bool) {
	h := e.history[sensor]
	if len(h) == 0 {
		return SensorReading{}, false
	}
	return h[len(h)-1], true
}

// History returns a copy of sensor's readings in arrival order.
func (e *Engine) History(sensor SensorType) []SensorReading {
	return slices.Clone(e.history[sensor])
}
