package diagnostic

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var approx = cmp.Comparer(func(x, y float64) bool { return math.Abs(x-y) < 1e-9 })

func newTestEngine() *Engine {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	return NewEngine(
		WithClock(func() time.Time { return now }),
		WithIDGenerator(func() string { return "anomaly-1" }),
	)
}

func ingestAll(e *Engine, sensor SensorType, values ...float64) []*Anomaly {
	out := make([]*Anomaly, 0, len(values))
	for _, v := range values {
		out = append(out, e.Ingest(sensor, v))
	}
	return out
}

func TestParseSensorType(t *testing.T) {
	s, err := ParseSensorType(" energy ")
	require.NoError(t, err)
	assert.Equal(t, SensorEnergy, s)

	_, err = ParseSensorType("TEMPERATURE")
	assert.Error(t, err)
	assert.Len(t, SensorTypes(), 5)
}

func TestRecordReading_DeltaAndTrend(t *testing.T) {
	e := newTestEngine()

	r, ok := e.RecordReading(SensorEnergy, 0.5)
	require.True(t, ok)
	assert.Zero(t, r.Delta)
	assert.Equal(t, TrendStable, r.Trend)

	r, _ = e.RecordReading(SensorEnergy, 0.6)
	assert.InDelta(t, 0.2, r.Delta, 1e-12)
	assert.Equal(t, TrendRising, r.Trend)

	r, _ = e.RecordReading(SensorEnergy, 0.62)
	assert.Equal(t, TrendStable, r.Trend)

	r, _ = e.RecordReading(SensorEnergy, 0.3)
	assert.Equal(t, TrendFalling, r.Trend)

	e.RecordReading(SensorSigma, 0)
	r, _ = e.RecordReading(SensorSigma, 0.02)
	assert.InDelta(t, 2.0, r.Delta, 1e-12, "previous values under 0.01 use the floor")

	_, ok = e.RecordReading("TEMPERATURE", 1)
	assert.False(t, ok)
	_, ok = e.RecordReading(SensorSigma, math.NaN())
	assert.False(t, ok)
}

func TestRecordReading_HistoryBound(t *testing.T) {
	e := newTestEngine()
	for i := 0; i < 150; i++ {
		e.RecordReading(SensorDensity, float64(i))
	}

	h := e.History(SensorDensity)
	require.Len(t, h, HistoryLimit)
	for i, r := range h {
		assert.Equal(t, float64(i+50), r.Value)
	}
}

func TestDetectAnomaly_NoReadings(t *testing.T) {
	e := newTestEngine()
	for _, s := range SensorTypes() {
		assert.Nil(t, e.DetectAnomaly(s))
	}
	assert.Nil(t, e.GeneratePrescription(nil))
}

func TestDetectAnomaly_Rules(t *testing.T) {
	tests := []struct {
		name      string
		sensor    SensorType
		values    []float64
		severity  Severity
		threshold float64
	}{
		{"energy emergency", SensorEnergy, []float64{0.05}, SeverityEmergency, 0.10},
		{"energy warning", SensorEnergy, []float64{0.15}, SeverityWarning, 0.20},
		{"inertia drop", SensorInertia, []float64{0.8, 0.4}, SeverityCritical, 0.30},
		{"sigma", SensorSigma, []float64{0.71}, SeverityWarning, 0.70},
		{"density", SensorDensity, []float64{0.29}, SeverityWarning, 0.30},
		{"momentum", SensorMomentum, []float64{0.1}, SeverityWarning, 0.15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine()
			got := ingestAll(e, tt.sensor, tt.values...)
			a := got[len(got)-1]
			require.NotNil(t, a)
			assert.Equal(t, tt.sensor, a.SensorType)
			assert.Equal(t, tt.severity, a.Severity)
			assert.Equal(t, tt.threshold, a.Threshold)
			assert.NotEmpty(t, a.Message)
		})
	}

	t.Run("quiet readings", func(t *testing.T) {
		e := newTestEngine()
		assert.Nil(t, e.Ingest(SensorEnergy, 0.2))
		assert.Nil(t, e.Ingest(SensorSigma, 0.7))
		assert.Nil(t, e.Ingest(SensorDensity, 0.3))
		assert.Nil(t, e.Ingest(SensorMomentum, 0.15))
		assert.Nil(t, e.Ingest(SensorInertia, 0.01), "inertia needs a previous reading")
		assert.Nil(t, e.Ingest(SensorInertia, 0.012))
	})
}

func TestScenario_EnergyCascade(t *testing.T) {
	e := newTestEngine()

	got := ingestAll(e, SensorEnergy, 0.65, 0.55, 0.45, 0.30, 0.18)
	for _, a := range got[:4] {
		assert.Nil(t, a)
	}

	a := got[4]
	require.NotNil(t, a)
	assert.Equal(t, SeverityWarning, a.Severity)
	assert.Equal(t, 0.20, a.Threshold)
	require.Len(t, a.RootCauses, 2)
	assert.Equal(t, SensorDensity, a.RootCauses[0].Sensor)
	assert.False(t, a.RootCauses[0].Observed, "upstream sensors are cited without readings")

	p := e.GeneratePrescription(a)
	require.NotNil(t, p)
	assert.Subset(t, p.PackIDs(), []ActionPackID{PackResourceReallocation})
	assert.Equal(t, []ActionPackID{PackResourceReallocation, PackRecoveryProtocol}, p.PackIDs())
	assert.InDelta(t, 0.8, p.Confidence, 1e-12)
	assert.Equal(t, SeverityWarning.Urgency(), p.Urgency)
	assert.InDelta(t, 1.0, p.SuccessVector[ImpactEnergy], 1e-12)
	assert.InDelta(t, 0.2/0.9, p.SuccessVector[ImpactMomentum], 1e-12)
	assert.InDelta(t, -0.2/0.9, p.SuccessVector[ImpactInertia], 1e-12)
	assert.Zero(t, p.SuccessVector[ImpactDensity])
}

func TestScenario_InertiaSpike(t *testing.T) {
	e := newTestEngine()

	got := ingestAll(e, SensorInertia, 0.5, 0.75)
	assert.Nil(t, got[0])
	require.NotNil(t, got[1])
	assert.Equal(t, SeverityCritical, got[1].Severity)

	h := e.History(SensorInertia)
	assert.InDelta(t, 0.5, h[1].Delta, 1e-12)

	p := e.GeneratePrescription(got[1])
	assert.InDelta(t, 0.9, p.Confidence, 1e-12)
	assert.Equal(t, []ActionPackID{PackStabilization, PackMomentumRestart}, p.PackIDs())
}

func TestPrescription_ConfidenceCap(t *testing.T) {
	e := newTestEngine()
	a := e.Ingest(SensorEnergy, 0.05)
	require.NotNil(t, a)

	p := e.GeneratePrescription(a)
	assert.Equal(t, 0.95, p.Confidence)
	assert.Equal(t, PackRecoveryProtocol, p.PackIDs()[0])
}

func TestPrescription_ObservedRootCause(t *testing.T) {
	e := newTestEngine()
	e.Ingest(SensorDensity, 0.42)
	a := e.Ingest(SensorEnergy, 0.15)
	require.NotNil(t, a)

	require.True(t, a.RootCauses[0].Observed)
	assert.Equal(t, 0.42, a.RootCauses[0].LatestValue)

	p := e.GeneratePrescription(a)
	assert.Contains(t, p.RootCause, "latest DENSITY 0.42")
}

func TestPrescription_Diff(t *testing.T) {
	e := newTestEngine()
	a := e.Ingest(SensorSigma, 0.8)
	require.NotNil(t, a)

	got := e.GeneratePrescription(a)
	stabilization, _ := ActionPackByID(PackStabilization)
	want := &Prescription{
		AnomalyID:   "anomaly-1",
		Diagnosis:   "variability is above the stable band",
		RootCause:   "no known upstream cause",
		ActionPacks: []ActionPack{stabilization},
		SuccessVector: map[string]float64{
			ImpactEnergy:   0.2,
			ImpactMomentum: 0,
			ImpactSigma:    -1,
			ImpactDensity:  0,
			ImpactInertia:  -0.6,
			ImpactSuccess:  0,
		},
		Confidence: 0.6,
		Urgency:    SeverityWarning.Urgency(),
	}

	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Errorf("prescription mismatch (-want +got):\n%s", diff)
	}
}

func TestPrescription_FallbackPack(t *testing.T) {
	e := newTestEngine()
	p := e.GeneratePrescription(&Anomaly{ID: "x", SensorType: SensorSigma, Severity: SeverityCritical})

	require.NotNil(t, p)
	assert.Equal(t, []ActionPackID{PackContinuousMonitoring}, p.PackIDs())
	assert.InDelta(t, 0.7, p.Confidence, 1e-12)
	for k, v := range p.SuccessVector {
		assert.Zero(t, v, k)
	}
}

func TestSuccessVector_Normalised(t *testing.T) {
	ids := []ActionPackID{
		PackResourceReallocation, PackRecoveryProtocol, PackStabilization,
		PackEngagementBoost, PackMomentumRestart,
	}
	for _, id := range ids {
		pack, ok := ActionPackByID(id)
		require.True(t, ok)

		v := successVector([]ActionPack{pack})
		var maxAbs float64
		for _, x := range v {
			maxAbs = math.Max(maxAbs, math.Abs(x))
		}
		assert.InDelta(t, 1.0, maxAbs, 1e-12, id)
	}
}

func TestActionPackByID_ReturnsCopy(t *testing.T) {
	p, _ := ActionPackByID(PackStabilization)
	p.Actions[0] = "changed"
	p.ExpectedImpact[ImpactSigma] = 9

	again, _ := ActionPackByID(PackStabilization)
	assert.NotEqual(t, "changed", again.Actions[0])
	assert.Equal(t, -0.5, again.ExpectedImpact[ImpactSigma])
}

func TestCalculateCorrelation(t *testing.T) {
	e := newTestEngine()

	_, ok := e.CalculateCorrelation(SensorEnergy, SensorEnergy)
	assert.False(t, ok)

	for i := 1; i <= 4; i++ {
		e.RecordReading(SensorEnergy, float64(i))
		e.RecordReading(SensorMomentum, float64(2*i))
	}
	_, ok = e.CalculateCorrelation(SensorEnergy, SensorMomentum)
	assert.False(t, ok, "four samples are not enough")

	e.RecordReading(SensorEnergy, 5)
	e.RecordReading(SensorMomentum, 10)
	r, ok := e.CalculateCorrelation(SensorMomentum, SensorEnergy)
	require.True(t, ok)
	assert.InDelta(t, 1.0, r, 1e-12)

	found := e.DiscoveredCorrelations()
	require.Len(t, found, 1)
	assert.Equal(t, SensorEnergy, found[0].A)
	assert.Equal(t, SensorMomentum, found[0].B)
	assert.Equal(t, 5, found[0].SampleSize)

	for _, v := range []float64{1, -1, 1, -1, 1} {
		e.RecordReading(SensorSigma, v)
	}
	r, ok = e.CalculateCorrelation(SensorEnergy, SensorSigma)
	require.True(t, ok)
	assert.Less(t, math.Abs(r), DiscoveryThreshold)
	assert.Len(t, e.DiscoveredCorrelations(), 1, "weak correlations are not recorded")
}

func TestCalculateCorrelation_UsesRecentWindow(t *testing.T) {
	e := newTestEngine()
	// old readings anti-correlate, the last 20 correlate
	for i := 0; i < 30; i++ {
		e.RecordReading(SensorEnergy, float64(i))
		e.RecordReading(SensorDensity, float64(-i))
	}
	for i := 0; i < 20; i++ {
		e.RecordReading(SensorEnergy, float64(i%5))
		e.RecordReading(SensorDensity, float64(i%5))
	}

	r, ok := e.CalculateCorrelation(SensorEnergy, SensorDensity)
	require.True(t, ok)
	assert.InDelta(t, 1.0, r, 1e-12)
	assert.Equal(t, 1, e.RefreshCorrelations())
}

func TestKnownCorrelations_IsCopy(t *testing.T) {
	e := newTestEngine()
	k := e.KnownCorrelations()
	require.NotEmpty(t, k)
	k[0].Expected = 42
	assert.NotEqual(t, 42.0, e.KnownCorrelations()[0].Expected)
}

func TestReset(t *testing.T) {
	e := newTestEngine()
	ingestAll(e, SensorEnergy, 1, 2, 3, 4, 5)
	ingestAll(e, SensorMomentum, 1, 2, 3, 4, 5)
	e.RefreshCorrelations()

	e.Reset()

	assert.Empty(t, e.History(SensorEnergy))
	assert.Empty(t, e.DiscoveredCorrelations())
	_, ok := e.Latest(SensorEnergy)
	assert.False(t, ok)
}
