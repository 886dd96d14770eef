package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sentinel.yaml"), []byte(content), 0o644))
	return dir
}

func TestInitialize_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Pipeline.MaxConcurrency)
	assert.Equal(t, 8, cfg.Pipeline.MaxConcurrentTasks)
	assert.Equal(t, 15*time.Second, cfg.Pipeline.SemaphoreTimeout.D())
	assert.Equal(t, 100, cfg.Pipeline.VectorBatchSize)
	assert.Equal(t, 1000, cfg.Pipeline.MaxQueueDepth)
	assert.False(t, cfg.Pipeline.DropOldestOnFull)
	assert.Equal(t, 512, cfg.Cache.MaxMemoryMB)
	assert.InDelta(t, 0.95, cfg.Cache.SimilarityThreshold, 1e-9)
	assert.Equal(t, "weighted_round_robin", cfg.Pool.Algorithm)
	assert.Equal(t, 3, cfg.Health.ConsecutiveFailureThreshold)
	assert.Equal(t, 2, cfg.Health.ConsecutiveSuccessThreshold)
	assert.Equal(t, 30, cfg.Retention.EventDays)
	assert.Len(t, cfg.Correlation.Rules, 4, "four built-in correlation rules")
	assert.Equal(t, 768, cfg.Vector.Dimension)
}

func TestInitialize_UserOverridesMergeOverDefaults(t *testing.T) {
	dir := writeConfig(t, `
pipeline:
  max_concurrency: 16
  semaphore_timeout: 5s
cache:
  max_memory_mb: 128
`)
	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Pipeline.MaxConcurrency)
	assert.Equal(t, 5*time.Second, cfg.Pipeline.SemaphoreTimeout.D())
	assert.Equal(t, 8, cfg.Pipeline.MaxConcurrentTasks, "unset keys keep defaults")
	assert.Equal(t, 128, cfg.Cache.MaxMemoryMB)
}

func TestInitialize_CorrelationRulesMergeByID(t *testing.T) {
	dir := writeConfig(t, `
correlation:
  rules:
    brute-force:
      type: BruteForce
      time_window: 5m
      min_event_count: 3
      min_confidence: 0.5
    custom-burst:
      type: TemporalBurst
      time_window: 2m
      min_event_count: 50
      min_confidence: 0.4
`)
	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Len(t, cfg.Correlation.Rules, 5, "built-ins plus the custom rule")
	assert.Equal(t, 3, cfg.Correlation.Rules["brute-force"].MinEventCount)
	assert.Equal(t, 5*time.Minute, cfg.Correlation.Rules["brute-force"].TimeWindow.D())
	assert.Contains(t, cfg.Correlation.Rules, "custom-burst")
	assert.Contains(t, cfg.Correlation.Rules, "lateral-movement")
}

func TestInitialize_EnvExpansion(t *testing.T) {
	t.Setenv("SENTINEL_TEST_MODEL", "llama3.1:8b")
	dir := writeConfig(t, `
embedding:
  model: ${SENTINEL_TEST_MODEL}
`)
	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "llama3.1:8b", cfg.Embedding.Model)
}

func TestInitialize_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad pool algorithm", "pool:\n  algorithm: fastest_first\n"},
		{"bad overflow policy", "logwatcher:\n  overflow_policy: explode\n"},
		{"duplicate channel", "logwatcher:\n  channels:\n    - name: Security\n    - name: Security\n"},
		{"llm enabled without models", "llm:\n  enabled: true\n"},
		{"bad vector distance", "vector:\n  distance: euclidean\n"},
		{"bad correlation rule type", "correlation:\n  rules:\n    weird:\n      type: Unknown\n      time_window: 1m\n      min_event_count: 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Initialize(context.Background(), writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidationFailed)
		})
	}
}

func TestDuration_Unmarshal(t *testing.T) {
	var cfg PipelineConfig
	require.NoError(t, yamlUnmarshal("semaphore_timeout: 90s", &cfg))
	assert.Equal(t, 90*time.Second, cfg.SemaphoreTimeout.D())

	require.NoError(t, yamlUnmarshal("semaphore_timeout: 15", &cfg))
	assert.Equal(t, 15*time.Second, cfg.SemaphoreTimeout.D(), "bare integers are seconds")

	assert.Error(t, yamlUnmarshal("semaphore_timeout: fast", &cfg))
}
