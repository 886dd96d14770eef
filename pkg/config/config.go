package config

// Config is the umbrella configuration object for the whole process,
// returned by Initialize() and passed to subsystem constructors.
type Config struct {
	configDir string

	Pipeline    *PipelineConfig
	Cache       *CacheConfig
	Pool        *PoolConfig
	Health      *HealthConfig
	Retention   *RetentionConfig
	Correlation *CorrelationConfig
	Watcher     *WatcherConfig
	LLM         *LLMConfig
	Embedding   *EmbeddingConfig
	Vector      *VectorConfig
	IPEnrich    *IPEnrichConfig
	Server      *ServerConfig
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string { return c.configDir }

// Stats contains counts useful for startup logging and health output.
type Stats struct {
	Channels         int
	CorrelationRules int
	LLMModels        int
	PoolInstances    int
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() Stats {
	return Stats{
		Channels:         len(c.Watcher.Channels),
		CorrelationRules: len(c.Correlation.Rules),
		LLMModels:        len(c.LLM.Models),
		PoolInstances:    len(c.Pool.Instances),
	}
}
