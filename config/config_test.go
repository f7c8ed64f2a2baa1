package config

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ════════════════════════════════════════════════════════════════════════════
// Load / Validate
// ════════════════════════════════════════════════════════════════════════════

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("ANONYMIZE_KEY", "")
	t.Setenv("HTTP_API_KEYS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, developmentAnonymizeKey, cfg.Pipeline.AnonymizeKey)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Empty(t, cfg.HTTP.APIKeys)
	assert.Equal(t, 600, cfg.HTTP.RateLimitPerMinute)
	assert.Equal(t, "UTC", cfg.Scheduler.Timezone)
	assert.Equal(t, time.Second, cfg.Scheduler.EntropyDecayInterval)
	assert.Equal(t, 3, cfg.Sink.MaxRetries)
	assert.False(t, cfg.Features.IsEnabled(FeatureDashboardCache, nil))
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "staging")
	t.Setenv("ANONYMIZE_KEY", "k")
	t.Setenv("HTTP_API_KEYS", " one, ,two ")
	t.Setenv("HTTP_RATE_LIMIT", "0")
	t.Setenv("SCHEDULER_SWEEP_CRON", "0 3 * * *")
	t.Setenv("SCHEDULER_TIMEZONE", "Asia/Almaty")
	t.Setenv("SINK_RETRY_BASE_DELAY", "2s")
	t.Setenv("FEATURE_PIPELINE_DASHBOARD_CACHE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"one", "two"}, cfg.HTTP.APIKeys)
	assert.Equal(t, 0, cfg.HTTP.RateLimitPerMinute)
	assert.Equal(t, "0 3 * * *", cfg.Scheduler.SweepCron)
	assert.Equal(t, "Asia/Almaty", cfg.Scheduler.Timezone)
	assert.Equal(t, 2*time.Second, cfg.Sink.RetryBaseDelay)
	assert.True(t, cfg.Features.IsEnabled(FeatureDashboardCache, nil))
}

func TestLoad_ProductionNeedsSecrets(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("ANONYMIZE_KEY", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANONYMIZE_KEY is required in production")
	assert.Contains(t, err.Error(), "DATABASE_URL is required in production")
}

func TestLoad_DatabaseURLFromParts(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "svc")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("DB_NAME", "telemetry")
	t.Setenv("DB_SSLMODE", "disable")

	cfg := loadDatabaseConfig()
	assert.Equal(t, "postgres://svc:pw@db:5432/telemetry?sslmode=disable", cfg.URL)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			HTTP:      HTTPConfig{Port: 8080},
			Pipeline:  PipelineConfig{AnonymizeKey: "k", SuccessX: 1},
			Scheduler: SchedulerConfig{Enabled: false},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"long key", func(c *Config) { c.Pipeline.AnonymizeKey = string(make([]byte, 65)) }, "at most 64 bytes"},
		{"bad port", func(c *Config) { c.HTTP.Port = 70000 }, "HTTP_PORT"},
		{"negative rate", func(c *Config) { c.HTTP.RateLimitPerMinute = -1 }, "HTTP_RATE_LIMIT"},
		{"zero success vector", func(c *Config) { c.Pipeline.SuccessX = 0 }, "must not both be 0"},
		{"zero interval", func(c *Config) {
			c.Scheduler = SchedulerConfig{Enabled: true, EntropyDecayInterval: time.Second, DashboardRefreshInterval: time.Second, PayloadPublishInterval: time.Second}
		}, "SCHEDULER_SWEEP_INTERVAL must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("CFG_TEST_BOOL", "nope")
	t.Setenv("CFG_TEST_LIST", "a,b,,c")
	t.Setenv("CFG_TEST_EMPTY_LIST", "")

	assert.True(t, getEnvBool("CFG_TEST_BOOL", true))
	assert.Equal(t, []string{"a", "b", "c"}, getEnvList("CFG_TEST_LIST"))
	assert.Nil(t, getEnvList("CFG_TEST_EMPTY_LIST"))
}

// ════════════════════════════════════════════════════════════════════════════
// Feature flags
// ════════════════════════════════════════════════════════════════════════════

func TestFeatureFlags_Defaults(t *testing.T) {
	ff := NewFeatureFlags()

	assert.True(t, ff.IsEnabled(FeaturePatternExtraction, nil))
	assert.True(t, ff.IsEnabled(FeaturePrescriptions, &FeatureContext{EntityID: "p-1"}))
	assert.False(t, ff.IsEnabled(FeatureDashboardCache, nil))
	assert.False(t, ff.IsEnabled("no.such.flag", nil))
}

func TestFeatureFlags_EnvironmentOverrides(t *testing.T) {
	t.Setenv("FEATURE_PIPELINE_FRICTION_ANALYSIS", "false")
	t.Setenv("FEATURE_PIPELINE_DASHBOARD_CACHE", "30")
	t.Setenv("FEATURE_PIPELINE_PAYLOAD_PUBLISH", "garbage")

	ff := LoadFeatureFlags()
	all := ff.GetAllFeatures()

	assert.False(t, all[FeatureFrictionAnalysis].Enabled)
	assert.True(t, all[FeatureDashboardCache].Enabled)
	assert.Equal(t, 30, all[FeatureDashboardCache].RolloutPercent)
	assert.True(t, all[FeaturePayloadPublish].Enabled, "unparseable values are ignored")
}

func TestFeatureFlags_RolloutIsStable(t *testing.T) {
	ff := NewFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureFrictionAnalysis, 50))

	in := 0
	for i := 0; i < 1000; i++ {
		ctx := &FeatureContext{EntityID: "entity-" + strconv.Itoa(i)}
		first := ff.IsEnabled(FeatureFrictionAnalysis, ctx)
		assert.Equal(t, first, ff.IsEnabled(FeatureFrictionAnalysis, ctx))
		if first {
			in++
		}
	}
	assert.InDelta(t, 500, in, 100)

	// global checks see any non-zero rollout as on
	assert.True(t, ff.IsEnabled(FeatureFrictionAnalysis, nil))
}

func TestFeatureFlags_OverridesAndWindows(t *testing.T) {
	ff := NewFeatureFlags()
	ctx := &FeatureContext{EntityID: "p-42"}

	ff.SetEntityOverride("p-42", FeatureDashboardCache, true)
	assert.True(t, ff.IsEnabled(FeatureDashboardCache, ctx))
	assert.False(t, ff.IsEnabled(FeatureDashboardCache, nil))
	ff.ClearEntityOverrides("p-42")
	assert.False(t, ff.IsEnabled(FeatureDashboardCache, ctx))

	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	ff.now = func() time.Time { return now }
	until := now.Add(-time.Hour)
	ff.features[FeaturePrescriptions].EnabledUntil = &until
	assert.False(t, ff.IsEnabled(FeaturePrescriptions, nil))

	ff.features[FeaturePatternExtraction].TargetCohorts = []string{"2024-spring"}
	assert.True(t, ff.IsEnabled(FeaturePatternExtraction, &FeatureContext{Cohort: "2024-spring"}))
	assert.False(t, ff.IsEnabled(FeaturePatternExtraction, &FeatureContext{Cohort: "2023-fall"}))
}

func TestFeatureFlags_Errors(t *testing.T) {
	ff := NewFeatureFlags()
	assert.ErrorIs(t, ff.EnableFeature("no.such.flag"), ErrFeatureNotFound)
	assert.ErrorIs(t, ff.SetRolloutPercent(FeaturePrescriptions, 101), ErrInvalidRolloutPercent)
}
