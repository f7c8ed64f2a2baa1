package config

import (
	"hash/fnv"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FeatureFlags toggles the optional stages of the pipeline.
// Supports gradual rollout keyed on the entity pseudonym and per-entity
// overrides for debugging.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Override rules (for testing/debugging)
	entityOverrides map[string]map[string]bool // pseudonym -> feature -> enabled

	now func() time.Time
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	// Entities are assigned based on a hash of their pseudonym
	RolloutPercent int

	// Cohort targeting (e.g. "2024-spring"). Empty means all cohorts.
	TargetCohorts []string

	// Time-based activation
	EnabledFrom  *time.Time
	EnabledUntil *time.Time
}

// FeatureContext provides context for feature flag evaluation.
// A nil context evaluates the global switch only.
type FeatureContext struct {
	EntityID string // pseudonym, never a raw account ID
	Cohort   string
}

// Predefined feature flag names.
const (
	// === Pipeline stages ===
	FeaturePatternExtraction = "pipeline.pattern_extraction" // Keep anonymised patterns per event
	FeaturePayloadPublish    = "pipeline.payload_publish"    // Ship aggregate payloads to the sink
	FeatureDashboardCache    = "pipeline.dashboard_cache"    // Serve dashboards from Redis
	FeatureFrictionAnalysis  = "pipeline.friction_analysis"  // Compare event direction with the success vector

	// === Diagnostics ===
	FeaturePrescriptions = "diagnostic.prescriptions" // Prescribe action packs for anomalies
)

// NewFeatureFlags returns the registry with default values only.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:        make(map[string]*Feature),
		entityOverrides: make(map[string]map[string]bool),
		now:             time.Now,
	}
	ff.initializeDefaults()
	return ff
}

// LoadFeatureFlags loads defaults and applies environment overrides.
func LoadFeatureFlags() *FeatureFlags {
	ff := NewFeatureFlags()
	ff.loadFromEnvironment()
	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeaturePatternExtraction] = &Feature{
		Name:           FeaturePatternExtraction,
		Description:    "Extract anonymised behavioural patterns from converted events",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeaturePayloadPublish] = &Feature{
		Name:           FeaturePayloadPublish,
		Description:    "Publish aggregate payloads to the payload sink",
		Enabled:        true,
		RolloutPercent: 100,
	}

	// Off until Redis is provisioned everywhere
	ff.features[FeatureDashboardCache] = &Feature{
		Name:           FeatureDashboardCache,
		Description:    "Read dashboards from the cache written by the refresh job",
		Enabled:        false,
		RolloutPercent: 0,
	}

	ff.features[FeatureFrictionAnalysis] = &Feature{
		Name:           FeatureFrictionAnalysis,
		Description:    "Classify events that move against the success vector",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeaturePrescriptions] = &Feature{
		Name:           FeaturePrescriptions,
		Description:    "Generate action pack prescriptions for detected anomalies",
		Enabled:        true,
		RolloutPercent: 100,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_PIPELINE_DASHBOARD_CACHE=true
// Example: FEATURE_PIPELINE_FRICTION_ANALYSIS=50 (50% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}

		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			if b {
				feature.RolloutPercent = 100
			} else {
				feature.RolloutPercent = 0
			}
			continue
		}

		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "pipeline.dashboard_cache" -> "FEATURE_PIPELINE_DASHBOARD_CACHE"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if ctx != nil && ctx.EntityID != "" {
		if overrides, ok := ff.entityOverrides[ctx.EntityID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok || !feature.Enabled {
		return false
	}

	now := ff.now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}

	if len(feature.TargetCohorts) > 0 && ctx != nil && ctx.Cohort != "" {
		if !slices.Contains(feature.TargetCohorts, ctx.Cohort) {
			return false
		}
	}

	if feature.RolloutPercent < 100 && ctx != nil && ctx.EntityID != "" {
		return isInRollout(ctx.EntityID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// isInRollout uses consistent hashing so entities stay in their bucket.
func isInRollout(entityID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(entityID))
	return int(h.Sum32()%100) < percent
}

// SetEntityOverride forces a feature on or off for one entity.
func (ff *FeatureFlags) SetEntityOverride(entityID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.entityOverrides[entityID]; !ok {
		ff.entityOverrides[entityID] = make(map[string]bool)
	}
	ff.entityOverrides[entityID][featureName] = enabled
}

// ClearEntityOverrides removes all overrides for an entity.
func (ff *FeatureFlags) ClearEntityOverrides(entityID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.entityOverrides, entityID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
// Thread-safe for live updates.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0
	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]*Feature, len(ff.features))
	for k, v := range ff.features {
		featureCopy := *v
		featureCopy.TargetCohorts = slices.Clone(v.TargetCohorts)
		result[k] = &featureCopy
	}
	return result
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
