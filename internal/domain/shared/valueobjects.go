package shared

import (
	"math"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENTITY ID
// ══════════════════════════════════════════════════════════════════════════════

// EntityID identifies a participant (student, class, school) in the pipeline.
// Outside the physics map it is always a pseudonym, never a raw account ID.
type EntityID string

// IsValid checks if the entity ID is non-empty.
func (e EntityID) IsValid() bool {
	return strings.TrimSpace(string(e)) != ""
}

// String returns the string representation of EntityID.
func (e EntityID) String() string {
	return string(e)
}

// NewEntityID validates and creates an EntityID.
func NewEntityID(id string) (EntityID, error) {
	e := EntityID(strings.TrimSpace(id))
	if !e.IsValid() {
		return "", NewDomainError("shared", "NewEntityID", ErrInvalidID, "entity ID must not be empty")
	}
	return e, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// NUMERIC HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// MaxConfidence is the ceiling for every confidence score in the pipeline.
const MaxConfidence = 0.95

// Clamp limits v to [lo, hi]. NaN collapses to lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp01 limits v to [0, 1].
func Clamp01(v float64) float64 {
	return Clamp(v, 0, 1)
}

// CapConfidence limits a confidence score to [0, MaxConfidence].
func CapConfidence(v float64) float64 {
	return Clamp(v, 0, MaxConfidence)
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
