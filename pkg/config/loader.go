package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// sentinelYAMLConfig is the on-disk structure of sentinel.yaml. Every
// section is optional; omitted sections take built-in defaults.
type sentinelYAMLConfig struct {
	Pipeline    *PipelineConfig    `yaml:"pipeline"`
	Cache       *CacheConfig       `yaml:"cache"`
	Pool        *PoolConfig        `yaml:"pool"`
	Health      *HealthConfig      `yaml:"health"`
	Retention   *RetentionConfig   `yaml:"retention"`
	Correlation *CorrelationConfig `yaml:"correlation"`
	Watcher     *WatcherConfig     `yaml:"logwatcher"`
	LLM         *LLMConfig         `yaml:"llm"`
	Embedding   *EmbeddingConfig   `yaml:"embedding"`
	Vector      *VectorConfig      `yaml:"vector"`
	IPEnrich    *IPEnrichConfig    `yaml:"ipenrich"`
	Server      *ServerConfig      `yaml:"server"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Read sentinel.yaml from configDir (optional — defaults apply if absent)
//  2. Expand environment variables
//  3. Parse YAML
//  4. Merge user values over built-in defaults
//  5. Validate everything, fail fast
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"channels", stats.Channels,
		"correlation_rules", stats.CorrelationRules,
		"llm_models", stats.LLMModels,
		"pool_instances", stats.PoolInstances)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	var raw sentinelYAMLConfig

	path := filepath.Join(configDir, "sentinel.yaml")
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		slog.Warn("No sentinel.yaml found, running on built-in defaults", "path", path)
	case err != nil:
		return nil, NewLoadError("sentinel.yaml", err)
	default:
		data = ExpandEnv(data)
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, NewLoadError("sentinel.yaml", fmt.Errorf("%w: %v", ErrInvalidYAML, err))
		}
	}

	cfg := &Config{
		configDir:   configDir,
		Pipeline:    DefaultPipelineConfig(),
		Cache:       DefaultCacheConfig(),
		Pool:        DefaultPoolConfig(),
		Health:      DefaultHealthConfig(),
		Retention:   DefaultRetentionConfig(),
		Correlation: DefaultCorrelationConfig(),
		Watcher:     DefaultWatcherConfig(),
		LLM:         DefaultLLMConfig(),
		Embedding:   DefaultEmbeddingConfig(),
		Vector:      DefaultVectorConfig(),
		IPEnrich:    DefaultIPEnrichConfig(),
		Server:      DefaultServerConfig(),
	}

	// Merge user-provided sections over the defaults (non-zero values win).
	for _, m := range []struct {
		dst any
		src any
	}{
		{cfg.Pipeline, raw.Pipeline},
		{cfg.Cache, raw.Cache},
		{cfg.Pool, raw.Pool},
		{cfg.Health, raw.Health},
		{cfg.Retention, raw.Retention},
		{cfg.Watcher, raw.Watcher},
		{cfg.LLM, raw.LLM},
		{cfg.Embedding, raw.Embedding},
		{cfg.Vector, raw.Vector},
		{cfg.IPEnrich, raw.IPEnrich},
		{cfg.Server, raw.Server},
	} {
		if err := mergeSection(m.dst, m.src); err != nil {
			return nil, err
		}
	}

	// Correlation rules merge by rule id: user rules override or extend the
	// built-in set instead of replacing it wholesale.
	if raw.Correlation != nil {
		userCorr := raw.Correlation
		for id, rule := range userCorr.Rules {
			cfg.Correlation.Rules[id] = rule
		}
		userCorr.Rules = nil
		if err := mergeSection(cfg.Correlation, userCorr); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// mergeSection merges a user-provided config section over defaults in place.
// A nil src leaves dst (the defaults) untouched.
func mergeSection(dst, src any) error {
	if src == nil || isNilPtr(src) {
		return nil
	}
	if err := mergo.Merge(dst, src, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge config section: %w", err)
	}
	return nil
}

func isNilPtr(v any) bool {
	switch p := v.(type) {
	case *PipelineConfig:
		return p == nil
	case *CacheConfig:
		return p == nil
	case *PoolConfig:
		return p == nil
	case *HealthConfig:
		return p == nil
	case *RetentionConfig:
		return p == nil
	case *CorrelationConfig:
		return p == nil
	case *WatcherConfig:
		return p == nil
	case *LLMConfig:
		return p == nil
	case *EmbeddingConfig:
		return p == nil
	case *VectorConfig:
		return p == nil
	case *IPEnrichConfig:
		return p == nil
	case *ServerConfig:
		return p == nil
	}
	return false
}
