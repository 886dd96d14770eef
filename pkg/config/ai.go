package config

import "time"

// LLMModelConfig describes one chat model in the analyzer ensemble.
type LLMModelConfig struct {
	Name      string   `yaml:"name"`     // model identifier sent to the provider
	Provider  string   `yaml:"provider"` // openai | ollama
	BaseURL   string   `yaml:"base_url"`
	APIKeyEnv string   `yaml:"api_key_env"` // env var holding the key, if any
	Weight    float64  `yaml:"weight"`
	Timeout   Duration `yaml:"timeout"`
}

// LLMConfig configures the optional LLM analysis stage.
type LLMConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Models     []LLMModelConfig `yaml:"models"`
	Parallel   bool             `yaml:"parallel"`
	Voting     string           `yaml:"voting"`                 // majority | weighted | unanimous
	Confidence string           `yaml:"confidence_aggregation"` // mean | median | min | max | weighted_mean
	MinQuorum  int              `yaml:"min_quorum"`
	TopK       int              `yaml:"context_top_k"` // vector neighbors passed as context

	// Resilience settings shared by all model clients.
	MaxAttempts         int      `yaml:"max_attempts"`
	BackoffBase         Duration `yaml:"backoff_base"`
	BreakerFailureCount int      `yaml:"breaker_failure_count"`
	BreakerCoolOff      Duration `yaml:"breaker_cool_off"`

	// Response-cache TTL tiers by confidence.
	CacheTTLHighConfidence Duration `yaml:"cache_ttl_high_confidence"`
	CacheTTLLowConfidence  Duration `yaml:"cache_ttl_low_confidence"`
}

// DefaultLLMConfig returns the built-in LLM defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		Enabled:                false,
		Parallel:               true,
		Voting:                 "weighted",
		Confidence:             "weighted_mean",
		MinQuorum:              2,
		TopK:                   5,
		MaxAttempts:            5,
		BackoffBase:            Duration(200 * time.Millisecond),
		BreakerFailureCount:    5,
		BreakerCoolOff:         Duration(30 * time.Second),
		CacheTTLHighConfidence: Duration(60 * time.Minute),
		CacheTTLLowConfidence:  Duration(10 * time.Minute),
	}
}

// EmbeddingConfig configures the embedding stage.
type EmbeddingConfig struct {
	Provider  string   `yaml:"provider"` // ollama | openai
	BaseURL   string   `yaml:"base_url"`
	APIKeyEnv string   `yaml:"api_key_env"`
	Model     string   `yaml:"model"`
	Timeout   Duration `yaml:"timeout"`
}

// DefaultEmbeddingConfig returns the built-in embedding defaults.
func DefaultEmbeddingConfig() *EmbeddingConfig {
	return &EmbeddingConfig{
		Provider: "ollama",
		BaseURL:  "http://localhost:11434",
		Model:    "nomic-embed-text",
		Timeout:  Duration(15 * time.Second),
	}
}

// VectorConfig configures the vector store client.
type VectorConfig struct {
	Collection             string   `yaml:"collection"`
	Dimension              int      `yaml:"dimension"`
	Distance               string   `yaml:"distance"` // cosine fixed per deployment
	CreateIfMissing        *bool    `yaml:"create_if_missing"`
	BatchProcessingTimeout Duration `yaml:"batch_processing_timeout"`
}

// AutoCreate reports whether a missing collection is created at startup
// (default true). When false, a missing collection is fatal for the vector
// subsystem.
func (v *VectorConfig) AutoCreate() bool { return v.CreateIfMissing == nil || *v.CreateIfMissing }

// DefaultVectorConfig returns the built-in vector store defaults.
func DefaultVectorConfig() *VectorConfig {
	return &VectorConfig{
		Collection:             "security_events",
		Dimension:              768,
		Distance:               "cosine",
		BatchProcessingTimeout: Duration(30 * time.Second),
	}
}

// IPEnrichConfig configures the IP enrichment stage.
type IPEnrichConfig struct {
	CityDBPath        string   `yaml:"city_db_path"`
	ASNDBPath         string   `yaml:"asn_db_path"`
	HighRiskCountries []string `yaml:"high_risk_countries"`
	HighRiskASNs      []uint   `yaml:"high_risk_asns"`
	RemoteURL         string   `yaml:"remote_url"` // optional fallback provider
	RemoteRatePerMin  int      `yaml:"remote_rate_per_min"`
	Timeout           Duration `yaml:"timeout"`
}

// DefaultIPEnrichConfig returns the built-in IP enrichment defaults.
func DefaultIPEnrichConfig() *IPEnrichConfig {
	return &IPEnrichConfig{
		RemoteRatePerMin: 45,
		Timeout:          Duration(3 * time.Second),
	}
}
