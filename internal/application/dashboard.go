package application

import (
	"context"
	"time"

	"github.com/alem-hub/physics-telemetry/internal/domain/correlation"
	"github.com/alem-hub/physics-telemetry/internal/domain/physics"
)

// Dashboard is a point-in-time view over every engine. It holds pseudonyms
// and aggregates only, so it can be cached and served as is.
type Dashboard struct {
	System         physics.SystemState         `json:"system"`
	Network        correlation.NetworkValue    `json:"network"`
	SuccessFactors []correlation.SuccessFactor `json:"success_factors"`
	Findings       []Finding                   `json:"findings"`
	Patterns       int                         `json:"patterns"`
	Entities       int                         `json:"correlated_entities"`
	GeneratedAt    time.Time                   `json:"generated_at"`
}

// BuildDashboard reads the dashboard from the engines. Call it inside Do.
func BuildDashboard(e *Engines, now time.Time) *Dashboard {
	return &Dashboard{
		System:         e.Physics.State(),
		Network:        e.Correlation.NetworkValue(),
		SuccessFactors: e.Correlation.SuccessFactors(),
		Findings:       e.Findings(),
		Patterns:       e.Patterns.Len(),
		Entities:       e.Correlation.EntityCount(),
		GeneratedAt:    now,
	}
}

// DashboardCache stores the latest dashboard outside the process. A miss
// is reported as an error wrapping shared.ErrNotFound.
type DashboardCache interface {
	GetDashboard(ctx context.Context) (*Dashboard, error)
	SetDashboard(ctx context.Context, d *Dashboard, ttl time.Duration) error
}
