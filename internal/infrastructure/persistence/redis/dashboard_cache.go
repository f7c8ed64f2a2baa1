package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/physics-telemetry/internal/application"
	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
	"github.com/alem-hub/physics-telemetry/pkg/circuitbreaker"
)

// jsonStore is the part of Cache the dashboard cache needs.
type jsonStore interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
}

// DashboardCache implements application.DashboardCache. Redis calls go
// through a circuit breaker so a dead Redis costs nothing on the read path.
type DashboardCache struct {
	store   jsonStore
	breaker *circuitbreaker.CircuitBreaker
}

var _ application.DashboardCache = (*DashboardCache)(nil)

// NewDashboardCache creates a new DashboardCache.
func NewDashboardCache(store jsonStore, logger *slog.Logger) *DashboardCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &DashboardCache{
		store: store,
		breaker: circuitbreaker.CacheBreaker(func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		}),
	}
}

// GetDashboard returns the cached dashboard. A miss wraps shared.ErrNotFound
// and does not count against the breaker; Redis failures wrap
// shared.ErrCacheUnavailable.
func (c *DashboardCache) GetDashboard(ctx context.Context) (*application.Dashboard, error) {
	var d application.Dashboard
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		err := c.store.Get(ctx, DashboardKey(), &d)
		if errors.Is(err, ErrCacheMiss) {
			return fmt.Errorf("%w: %w", shared.ErrNotFound, err)
		}
		return err
	})
	switch {
	case err == nil:
		return &d, nil
	case shared.IsNotFound(err):
		return nil, fmt.Errorf("get dashboard: %w", err)
	default:
		return nil, fmt.Errorf("get dashboard: %w: %w", shared.ErrCacheUnavailable, err)
	}
}

// SetDashboard stores d for ttl.
func (c *DashboardCache) SetDashboard(ctx context.Context, d *application.Dashboard, ttl time.Duration) error {
	if d == nil {
		return ErrCacheNilValue
	}
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.store.Set(ctx, DashboardKey(), d, ttl)
	})
	if err != nil {
		return fmt.Errorf("set dashboard: %w: %w", shared.ErrCacheUnavailable, err)
	}
	return nil
}

// Breaker exposes the cache breaker for health checks.
func (c *DashboardCache) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}
