package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/physics-telemetry/config"
	"github.com/alem-hub/physics-telemetry/internal/application"
	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
	"github.com/alem-hub/physics-telemetry/pkg/circuitbreaker"
)

type memStore struct {
	data map[string][]byte
	ttls map[string]time.Duration
	err  error
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memStore) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.err != nil {
		return m.err
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = b
	m.ttls[key] = ttl
	return nil
}

func (m *memStore) Get(_ context.Context, key string, dest interface{}) error {
	if m.err != nil {
		return m.err
	}
	b, ok := m.data[key]
	if !ok {
		return ErrCacheMiss
	}
	return json.Unmarshal(b, dest)
}

func TestDashboardCache_RoundTrip(t *testing.T) {
	store := newMemStore()
	cache := NewDashboardCache(store, nil)
	ctx := context.Background()

	_, err := cache.GetDashboard(ctx)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	d := &application.Dashboard{Patterns: 12, Entities: 4, GeneratedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, cache.SetDashboard(ctx, d, 2*time.Minute))
	assert.Equal(t, 2*time.Minute, store.ttls[DashboardKey()])

	got, err := cache.GetDashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, got.Patterns)
	assert.Equal(t, 4, got.Entities)
	assert.True(t, d.GeneratedAt.Equal(got.GeneratedAt))

	assert.ErrorIs(t, cache.SetDashboard(ctx, nil, time.Minute), ErrCacheNilValue)
}

func TestDashboardCache_MissesDoNotTripBreaker(t *testing.T) {
	cache := NewDashboardCache(newMemStore(), nil)
	for i := 0; i < 10; i++ {
		_, err := cache.GetDashboard(context.Background())
		assert.ErrorIs(t, err, shared.ErrNotFound)
	}
	assert.Equal(t, circuitbreaker.StateClosed, cache.Breaker().State())
}

func TestDashboardCache_BreakerOpensOnFailures(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection refused")
	cache := NewDashboardCache(store, nil)

	for i := 0; i < 3; i++ {
		_, err := cache.GetDashboard(context.Background())
		assert.ErrorContains(t, err, "connection refused")
		assert.True(t, shared.IsExternalService(err))
	}
	_, err := cache.GetDashboard(context.Background())
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.ErrorIs(t, err, shared.ErrCacheUnavailable)
	assert.Equal(t, circuitbreaker.StateOpen, cache.Breaker().State())
}

func TestOptions(t *testing.T) {
	opts, err := Options(config.RedisConfig{URL: "redis://:secret@cache:6380/2", PoolSize: 7})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)

	opts, err = Options(config.RedisConfig{Host: "localhost", Port: 6379, DB: 1})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)

	_, err = Options(config.RedisConfig{URL: "http://nope"})
	assert.ErrorIs(t, err, ErrCacheConnection)
}

func TestDashboardKey(t *testing.T) {
	assert.Equal(t, "physics-telemetry:dashboard:current", DashboardKey())
}
