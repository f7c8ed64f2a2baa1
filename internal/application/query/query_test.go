package query

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/physics-telemetry/config"
	"github.com/alem-hub/physics-telemetry/internal/application"
	"github.com/alem-hub/physics-telemetry/internal/application/command"
	"github.com/alem-hub/physics-telemetry/internal/domain/converter"
	"github.com/alem-hub/physics-telemetry/internal/domain/correlation"
	"github.com/alem-hub/physics-telemetry/internal/domain/diagnostic"
	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
	"github.com/alem-hub/physics-telemetry/pkg/anonymize"
)

type stubCache struct {
	d    *application.Dashboard
	err  error
	gets int
}

func (c *stubCache) GetDashboard(context.Context) (*application.Dashboard, error) {
	c.gets++
	if c.err != nil {
		return nil, c.err
	}
	return c.d, nil
}

func (c *stubCache) SetDashboard(_ context.Context, d *application.Dashboard, _ time.Duration) error {
	c.d = d
	return nil
}

func newPipeline(t *testing.T, flags *config.FeatureFlags) *application.Pipeline {
	t.Helper()
	anon, err := anonymize.New([]byte("test-key"))
	require.NoError(t, err)
	p, err := application.New(anon, application.WithFeatures(flags))
	require.NoError(t, err)
	return p
}

func record(t *testing.T, p *application.Pipeline, n int) {
	t.Helper()
	h := command.NewRecordEventHandler(p)
	for i := 0; i < n; i++ {
		_, err := h.Handle(context.Background(), command.RecordEventCommand{
			EntityID: fmt.Sprintf("student-%d", i),
			Event:    converter.RawEvent{"amount": float64(20 * (i + 1)), "frequency": float64(i + 1)},
		})
		require.NoError(t, err)
	}
}

func TestGetDashboard_CacheDisabledByDefault(t *testing.T) {
	p := newPipeline(t, config.NewFeatureFlags())
	cache := &stubCache{d: &application.Dashboard{Patterns: 99}}

	res, err := NewGetDashboardHandler(p, cache).Handle(context.Background(), GetDashboardQuery{})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Zero(t, cache.gets)
	assert.Equal(t, 1, res.Dashboard.System.Entities)
}

func TestGetDashboard_FromCache(t *testing.T) {
	flags := config.NewFeatureFlags()
	require.NoError(t, flags.EnableFeature(config.FeatureDashboardCache))
	p := newPipeline(t, flags)
	cache := &stubCache{d: &application.Dashboard{Patterns: 99}}
	h := NewGetDashboardHandler(p, cache)

	res, err := h.Handle(context.Background(), GetDashboardQuery{})
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, 99, res.Dashboard.Patterns)

	res, err = h.Handle(context.Background(), GetDashboardQuery{Fresh: true})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Zero(t, res.Dashboard.Patterns)
}

func TestGetDashboard_CacheMissFallsBack(t *testing.T) {
	flags := config.NewFeatureFlags()
	require.NoError(t, flags.EnableFeature(config.FeatureDashboardCache))
	p := newPipeline(t, flags)
	record(t, p, 3)

	cache := &stubCache{err: errors.New("redis: nil")}
	res, err := NewGetDashboardHandler(p, cache).Handle(context.Background(), GetDashboardQuery{})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, 3, res.Dashboard.Patterns)
	assert.Equal(t, 9.0, res.Dashboard.Network.Base)
}

func TestGetPayload(t *testing.T) {
	p := newPipeline(t, config.NewFeatureFlags())
	h := NewGetPayloadHandler(p)

	_, err := h.Handle(context.Background(), GetPayloadQuery{RequireQualified: true})
	assert.ErrorIs(t, err, shared.ErrNoQualifiedPatterns)

	empty, err := h.Handle(context.Background(), GetPayloadQuery{})
	require.NoError(t, err)
	assert.Zero(t, empty.Summary.QualifiedPatterns)

	record(t, p, 4)
	payload, err := h.Handle(context.Background(), GetPayloadQuery{RequireQualified: true})
	require.NoError(t, err)
	assert.Equal(t, 4, payload.Summary.QualifiedPatterns)
	assert.False(t, payload.Privacy.PIIContained)
}

func TestGetCorrelations(t *testing.T) {
	p := newPipeline(t, config.NewFeatureFlags())
	h := NewGetCorrelationsHandler(p)

	res, err := h.Handle(context.Background(), GetCorrelationsQuery{Rebuild: true})
	require.NoError(t, err)
	assert.False(t, res.Rebuilt, "fewer than ten entities")
	assert.Empty(t, res.Matrix)
	assert.Len(t, res.Known, 6)

	record(t, p, 12)
	res, err = h.Handle(context.Background(), GetCorrelationsQuery{Rebuild: true})
	require.NoError(t, err)
	assert.True(t, res.Rebuilt)
	assert.Equal(t, 12, res.Entities)
	assert.Equal(t, 1.0, res.Matrix[correlation.MetricMass][correlation.MetricMass])
}

type fakeAnomalyLog struct {
	sensor diagnostic.SensorType
	limit  int
	out    []application.Finding
	err    error
}

func (l *fakeAnomalyLog) Recent(_ context.Context, sensor diagnostic.SensorType, limit int) ([]application.Finding, error) {
	l.sensor, l.limit = sensor, limit
	return l.out, l.err
}

func TestGetAnomalies(t *testing.T) {
	log := &fakeAnomalyLog{out: []application.Finding{
		{Anomaly: &diagnostic.Anomaly{ID: "a-1", SensorType: diagnostic.SensorEnergy, Severity: diagnostic.SeverityEmergency}},
	}}
	h := NewGetAnomaliesHandler(log)

	res, err := h.Handle(context.Background(), GetAnomaliesQuery{Sensor: " energy "})
	require.NoError(t, err)
	assert.Equal(t, diagnostic.SensorEnergy, res.Sensor)
	assert.Equal(t, diagnostic.SensorEnergy, log.sensor)
	assert.Equal(t, 20, log.limit, "default limit")
	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, "a-1", res.Anomalies[0].Anomaly.ID)

	_, err = h.Handle(context.Background(), GetAnomaliesQuery{Sensor: "SIGMA", Limit: 5000})
	require.NoError(t, err)
	assert.Equal(t, MaxAnomalyLimit, log.limit)
}

func TestGetAnomalies_Errors(t *testing.T) {
	log := &fakeAnomalyLog{}
	h := NewGetAnomaliesHandler(log)

	_, err := h.Handle(context.Background(), GetAnomaliesQuery{Sensor: "TEMPERATURE"})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(context.Background(), GetAnomaliesQuery{Sensor: "ENERGY", Limit: -1})
	assert.True(t, shared.IsValidation(err))

	res, err := h.Handle(context.Background(), GetAnomaliesQuery{Sensor: "ENERGY"})
	require.NoError(t, err)
	assert.NotNil(t, res.Anomalies, "empty log reads as an empty list")

	log.err = errors.New("connection reset")
	_, err = h.Handle(context.Background(), GetAnomaliesQuery{Sensor: "ENERGY"})
	assert.True(t, shared.IsExternalService(err))
}
