package config

import "time"

// PipelineConfig controls the orchestrator: concurrency, throttling,
// batching, backpressure and memory-pressure behavior.
type PipelineConfig struct {
	// MaxConcurrency is the number of parallel record pipelines.
	MaxConcurrency int `yaml:"max_concurrency"`

	// MaxConcurrentTasks is the shared semaphore capacity across all
	// parallel stage executions.
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`

	// SemaphoreTimeout bounds how long a stage waits to acquire the
	// semaphore before the throttle policy applies.
	SemaphoreTimeout Duration `yaml:"semaphore_timeout"`

	// SkipOnThrottleTimeout persists the event with a degraded flag instead
	// of blocking when the semaphore cannot be acquired in time.
	SkipOnThrottleTimeout bool `yaml:"skip_on_throttle_timeout"`

	// ParallelOperationTimeout bounds the parallel enrichment branch
	// (embedding, LLM, IP) per record.
	ParallelOperationTimeout Duration `yaml:"parallel_operation_timeout"`

	// VectorBatchSize is the maximum embeddings per vector-store upsert.
	VectorBatchSize int `yaml:"vector_batch_size"`

	// VectorBatchTimeout flushes a partial batch after this interval.
	VectorBatchTimeout Duration `yaml:"vector_batch_timeout"`

	// MaxQueueDepth bounds the intake queue.
	MaxQueueDepth int `yaml:"max_queue_depth"`

	// DropOldestOnFull drops the oldest queued record instead of rejecting
	// the new one when the intake queue is full.
	DropOldestOnFull bool `yaml:"drop_oldest_on_full"`

	// MemoryHighWaterMB triggers cache eviction and history trimming when
	// process RSS exceeds it.
	MemoryHighWaterMB int `yaml:"memory_high_water_mb"`

	// EventHistoryRetention bounds the in-memory recent-event history.
	EventHistoryRetention Duration `yaml:"event_history_retention"`

	// EnableAdaptiveThrottling halves effective concurrency while CPU stays
	// above CPUThrottleThresholdPct.
	EnableAdaptiveThrottling bool `yaml:"enable_adaptive_throttling"`
	CPUThrottleThresholdPct  int  `yaml:"cpu_throttle_threshold_pct"`

	// DedupWindow is how long creation keys are remembered for duplicate
	// suppression.
	DedupWindow Duration `yaml:"dedup_window"`

	// AIConfidenceThreshold: rule hits at or above this confidence skip the
	// LLM stage entirely.
	AIConfidenceThreshold int `yaml:"ai_confidence_threshold"`

	// DrainTimeout bounds how long shutdown waits for in-flight records.
	DrainTimeout Duration `yaml:"drain_timeout"`
}

// DefaultPipelineConfig returns the built-in pipeline defaults.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		MaxConcurrency:           4,
		MaxConcurrentTasks:       8,
		SemaphoreTimeout:         Duration(15 * time.Second),
		SkipOnThrottleTimeout:    false,
		ParallelOperationTimeout: Duration(30 * time.Second),
		VectorBatchSize:          100,
		VectorBatchTimeout:       Duration(5 * time.Second),
		MaxQueueDepth:            1000,
		DropOldestOnFull:         false,
		MemoryHighWaterMB:        1024,
		EventHistoryRetention:    Duration(60 * time.Minute),
		EnableAdaptiveThrottling: false,
		CPUThrottleThresholdPct:  80,
		DedupWindow:              Duration(10 * time.Minute),
		AIConfidenceThreshold:    70,
		DrainTimeout:             Duration(30 * time.Second),
	}
}
