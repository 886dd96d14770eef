package config

import (
	"time"

	"github.com/sentinelsec/sentinel/pkg/models"
)

// CacheConfig controls the multi-keyspace LRU cache layer.
type CacheConfig struct {
	MaxMemoryMB           int      `yaml:"max_memory_mb"`
	DefaultTTL            Duration `yaml:"default_ttl"`
	SimilarityThreshold   float64  `yaml:"similarity_threshold"`
	PerKeyspaceMaxEntries int      `yaml:"per_keyspace_max_entries"`
	EmbeddingTTL          Duration `yaml:"embedding_ttl"`
	LLMResponseTTL        Duration `yaml:"llm_response_ttl"`
	IPEnrichmentTTL       Duration `yaml:"ip_enrichment_ttl"`
	VectorSearchTTL       Duration `yaml:"vector_search_ttl"`
}

// DefaultCacheConfig returns the built-in cache defaults.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		MaxMemoryMB:           512,
		DefaultTTL:            Duration(60 * time.Minute),
		SimilarityThreshold:   0.95,
		PerKeyspaceMaxEntries: 10000,
		EmbeddingTTL:          Duration(60 * time.Minute),
		LLMResponseTTL:        Duration(30 * time.Minute),
		IPEnrichmentTTL:       Duration(240 * time.Minute),
		VectorSearchTTL:       Duration(10 * time.Minute),
	}
}

// InstanceConfig describes one upstream instance in a pool.
type InstanceConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Weight   int    `yaml:"weight"`
	UseHTTPS bool   `yaml:"use_https"`
}

// PoolConfig configures the upstream connection pool and load balancing.
type PoolConfig struct {
	Instances                 []InstanceConfig `yaml:"instances"`
	MaxConnectionsPerInstance int              `yaml:"max_connections_per_instance"`
	ConnectionTimeout         Duration         `yaml:"connection_timeout"`
	RequestTimeout            Duration         `yaml:"request_timeout"`
	EnableFailover            bool             `yaml:"enable_failover"`
	MinHealthyInstances       int              `yaml:"min_healthy_instances"`
	Algorithm                 string           `yaml:"algorithm"` // round_robin | weighted_round_robin | weighted_by_health
}

// DefaultPoolConfig returns the built-in pool defaults.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		MaxConnectionsPerInstance: 32,
		ConnectionTimeout:         Duration(10 * time.Second),
		RequestTimeout:            Duration(60 * time.Second),
		EnableFailover:            true,
		MinHealthyInstances:       1,
		Algorithm:                 "weighted_round_robin",
	}
}

// HealthConfig configures active health probing of pool instances.
type HealthConfig struct {
	CheckInterval               Duration `yaml:"check_interval"`
	CheckTimeout                Duration `yaml:"check_timeout"`
	ConsecutiveFailureThreshold int      `yaml:"consecutive_failure_threshold"`
	ConsecutiveSuccessThreshold int      `yaml:"consecutive_success_threshold"`
	EnableAutoRecovery          bool     `yaml:"enable_auto_recovery"`
	RecoveryInterval            Duration `yaml:"recovery_interval"`
}

// DefaultHealthConfig returns the built-in health-check defaults.
func DefaultHealthConfig() *HealthConfig {
	return &HealthConfig{
		CheckInterval:               Duration(30 * time.Second),
		CheckTimeout:                Duration(5 * time.Second),
		ConsecutiveFailureThreshold: 3,
		ConsecutiveSuccessThreshold: 2,
		EnableAutoRecovery:          true,
		RecoveryInterval:            Duration(60 * time.Second),
	}
}

// RetentionConfig controls background data retention sweeps.
type RetentionConfig struct {
	EventDays           int      `yaml:"event_days"`
	CorrelationDays     int      `yaml:"correlation_days"`
	VectorSweepInterval Duration `yaml:"vector_sweep_interval"`
	SweepInterval       Duration `yaml:"sweep_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		EventDays:           30,
		CorrelationDays:     30,
		VectorSweepInterval: Duration(6 * time.Hour),
		SweepInterval:       Duration(1 * time.Hour),
	}
}

// CorrelationConfig configures the correlation engine.
type CorrelationConfig struct {
	Rules                      map[string]*CorrelationRuleConfig `yaml:"rules"`
	MaxEventsPerKey            int                               `yaml:"max_events_per_key"`
	IntakeQueueSize            int                               `yaml:"intake_queue_size"`
	DuplicateSuppressionWindow Duration                          `yaml:"duplicate_suppression_window"`
	ModelBlendWeight           float64                           `yaml:"model_blend_weight"`
}

// CorrelationRuleConfig is the YAML form of models.CorrelationRule.
type CorrelationRuleConfig struct {
	Type               string         `yaml:"type"`
	TimeWindow         Duration       `yaml:"time_window"`
	MinEventCount      int            `yaml:"min_event_count"`
	MinConfidence      float64        `yaml:"min_confidence"`
	RequiredEventTypes []string       `yaml:"required_event_types"`
	Enabled            *bool          `yaml:"enabled"`
	Parameters         map[string]any `yaml:"parameters"`
}

// Rule converts the YAML form into the domain rule.
func (c *CorrelationRuleConfig) Rule(id string) models.CorrelationRule {
	enabled := true
	if c.Enabled != nil {
		enabled = *c.Enabled
	}
	types := make([]models.EventType, 0, len(c.RequiredEventTypes))
	for _, t := range c.RequiredEventTypes {
		types = append(types, models.EventType(t))
	}
	return models.CorrelationRule{
		ID:                 id,
		Type:               models.CorrelationType(c.Type),
		TimeWindow:         c.TimeWindow.D(),
		MinEventCount:      c.MinEventCount,
		MinConfidence:      c.MinConfidence,
		RequiredEventTypes: types,
		Enabled:            enabled,
		Parameters:         c.Parameters,
	}
}

// DefaultCorrelationConfig returns the built-in correlation defaults,
// including the four standard rules.
func DefaultCorrelationConfig() *CorrelationConfig {
	return &CorrelationConfig{
		Rules: map[string]*CorrelationRuleConfig{
			"temporal-burst": {
				Type:          string(models.CorrelationTemporalBurst),
				TimeWindow:    Duration(5 * time.Minute),
				MinEventCount: 10,
				MinConfidence: 0.5,
			},
			"brute-force": {
				Type:          string(models.CorrelationBruteForce),
				TimeWindow:    Duration(10 * time.Minute),
				MinEventCount: 5,
				MinConfidence: 0.6,
			},
			"lateral-movement": {
				Type:          string(models.CorrelationLateralMovement),
				TimeWindow:    Duration(30 * time.Minute),
				MinEventCount: 3,
				MinConfidence: 0.6,
			},
			"privilege-escalation": {
				Type:          string(models.CorrelationPrivilegeEscalation),
				TimeWindow:    Duration(15 * time.Minute),
				MinEventCount: 2,
				MinConfidence: 0.7,
			},
		},
		MaxEventsPerKey:            1000,
		IntakeQueueSize:            5000,
		DuplicateSuppressionWindow: Duration(15 * time.Minute),
		ModelBlendWeight:           0.3,
	}
}

// ChannelConfig configures one watched event-log channel.
type ChannelConfig struct {
	Name                string `yaml:"name"`
	Enabled             *bool  `yaml:"enabled"`
	XPathFilter         string `yaml:"xpath_filter"`
	MaxQueue            int    `yaml:"max_queue"`
	BookmarkPersistence *bool  `yaml:"bookmark_persistence"`
	// Path of the channel's export file for the file-tail source. OS-native
	// subscribers ignore it.
	Path string `yaml:"path"`
}

// IsEnabled reports whether the channel is active (default true).
func (c *ChannelConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

// PersistBookmarks reports whether bookmarks are persisted (default true).
func (c *ChannelConfig) PersistBookmarks() bool {
	return c.BookmarkPersistence == nil || *c.BookmarkPersistence
}

// WatcherConfig configures the log watcher.
type WatcherConfig struct {
	Channels                []ChannelConfig `yaml:"channels"`
	ReconnectBackoffSeconds []int           `yaml:"reconnect_backoff_seconds"`
	OverflowPolicy          string          `yaml:"overflow_policy"` // block | drop_oldest
	CommitInterval          Duration        `yaml:"commit_interval"`
	IntakeRateLimit         int             `yaml:"intake_rate_limit"` // records/sec, 0 = unlimited
}

// DefaultWatcherConfig returns the built-in watcher defaults.
func DefaultWatcherConfig() *WatcherConfig {
	return &WatcherConfig{
		ReconnectBackoffSeconds: []int{1, 2, 5, 10, 30},
		OverflowPolicy:          "block",
		CommitInterval:          Duration(2 * time.Second),
		IntakeRateLimit:         0,
	}
}

// ServerConfig configures the HTTP/WebSocket server.
type ServerConfig struct {
	Port             int      `yaml:"port"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
	WriteTimeout     Duration `yaml:"write_timeout"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:         8080,
		WriteTimeout: Duration(10 * time.Second),
	}
}
