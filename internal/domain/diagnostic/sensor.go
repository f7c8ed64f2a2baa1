package diagnostic

import (
	"math"
	"strings"
	"time"

	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SENSOR TYPES
// ══════════════════════════════════════════════════════════════════════════════

// SensorType names an independent stream of scalar readings.
type SensorType string

const (
	SensorEnergy   SensorType = "ENERGY"
	SensorInertia  SensorType = "INERTIA"
	SensorSigma    SensorType = "SIGMA"
	SensorDensity  SensorType = "DENSITY"
	SensorMomentum SensorType = "MOMENTUM"
)

var sensorTypes = []SensorType{SensorEnergy, SensorInertia, SensorSigma, SensorDensity, SensorMomentum}

// SensorTypes returns every known sensor type.
func SensorTypes() []SensorType {
	return append([]SensorType(nil), sensorTypes...)
}

// IsValid reports whether s is a known sensor type.
func (s SensorType) IsValid() bool {
	switch s {
	case SensorEnergy, SensorInertia, SensorSigma, SensorDensity, SensorMomentum:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (s SensorType) String() string {
	return string(s)
}

// ParseSensorType accepts a sensor name in any case.
func ParseSensorType(s string) (SensorType, error) {
	t := SensorType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", shared.ErrUnknownSensor
	}
	return t, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// READINGS
// ══════════════════════════════════════════════════════════════════════════════

// Trend is the direction of a reading relative to the previous one.
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendStable  Trend = "stable"
)

const (
	// HistoryLimit caps the readings kept per sensor type.
	HistoryLimit = 100

	// TrendThreshold is the relative change beyond which a trend is not stable.
	TrendThreshold = 0.05

	// deltaFloor keeps the relative delta finite for tiny previous values.
	deltaFloor = 0.01
)

// SensorReading is one recorded value with its change from the previous
// reading of the same sensor type.
type SensorReading struct {
	SensorType SensorType `json:"sensor_type"`
	Value      float64    `json:"value"`
	Delta      float64    `json:"delta"`
	Trend      Trend      `json:"trend"`
	Timestamp  time.Time  `json:"timestamp"`
}

func relativeDelta(prev, v float64) float64 {
	return (v - prev) / math.Max(prev, deltaFloor)
}

func trendOf(delta float64) Trend {
	switch {
	case delta > TrendThreshold:
		return TrendRising
	case delta < -TrendThreshold:
		return TrendFalling
	default:
		return TrendStable
	}
}
