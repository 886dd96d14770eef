package config

import (
	"fmt"

	"github.com/sentinelsec/sentinel/pkg/models"
)

// Validator validates configuration comprehensively with clear error messages.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast, stops at the
// first error). Sections are validated in dependency order.
func (v *Validator) ValidateAll() error {
	if err := v.validatePipeline(); err != nil {
		return fmt.Errorf("pipeline validation failed: %w", err)
	}
	if err := v.validateCache(); err != nil {
		return fmt.Errorf("cache validation failed: %w", err)
	}
	if err := v.validatePool(); err != nil {
		return fmt.Errorf("pool validation failed: %w", err)
	}
	if err := v.validateHealth(); err != nil {
		return fmt.Errorf("health validation failed: %w", err)
	}
	if err := v.validateCorrelation(); err != nil {
		return fmt.Errorf("correlation validation failed: %w", err)
	}
	if err := v.validateWatcher(); err != nil {
		return fmt.Errorf("logwatcher validation failed: %w", err)
	}
	if err := v.validateLLM(); err != nil {
		return fmt.Errorf("llm validation failed: %w", err)
	}
	if err := v.validateVector(); err != nil {
		return fmt.Errorf("vector validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validatePipeline() error {
	p := v.cfg.Pipeline
	if p.MaxConcurrency < 1 {
		return NewValidationError("pipeline", "max_concurrency", "", ErrInvalidValue)
	}
	if p.MaxConcurrentTasks < 1 {
		return NewValidationError("pipeline", "max_concurrent_tasks", "", ErrInvalidValue)
	}
	if p.MaxQueueDepth < 1 {
		return NewValidationError("pipeline", "max_queue_depth", "", ErrInvalidValue)
	}
	if p.VectorBatchSize < 1 {
		return NewValidationError("pipeline", "vector_batch_size", "", ErrInvalidValue)
	}
	if p.CPUThrottleThresholdPct < 1 || p.CPUThrottleThresholdPct > 100 {
		return NewValidationError("pipeline", "cpu_throttle_threshold_pct", "", ErrInvalidValue)
	}
	if p.AIConfidenceThreshold < 0 || p.AIConfidenceThreshold > 100 {
		return NewValidationError("pipeline", "ai_confidence_threshold", "", ErrInvalidValue)
	}
	return nil
}

func (v *Validator) validateCache() error {
	c := v.cfg.Cache
	if c.MaxMemoryMB < 1 {
		return NewValidationError("cache", "max_memory_mb", "", ErrInvalidValue)
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return NewValidationError("cache", "similarity_threshold", "", ErrInvalidValue)
	}
	if c.PerKeyspaceMaxEntries < 1 {
		return NewValidationError("cache", "per_keyspace_max_entries", "", ErrInvalidValue)
	}
	return nil
}

func (v *Validator) validatePool() error {
	p := v.cfg.Pool
	switch p.Algorithm {
	case "round_robin", "weighted_round_robin", "weighted_by_health":
	default:
		return NewValidationError("pool", "algorithm", p.Algorithm, ErrInvalidValue)
	}
	if p.MinHealthyInstances < 0 {
		return NewValidationError("pool", "min_healthy_instances", "", ErrInvalidValue)
	}
	for i, inst := range p.Instances {
		if inst.Host == "" {
			return NewValidationError("pool", fmt.Sprintf("instances[%d]", i), "host", ErrMissingRequiredField)
		}
		if inst.Port < 1 || inst.Port > 65535 {
			return NewValidationError("pool", fmt.Sprintf("instances[%d]", i), "port", ErrInvalidValue)
		}
		if inst.Weight < 0 {
			return NewValidationError("pool", fmt.Sprintf("instances[%d]", i), "weight", ErrInvalidValue)
		}
	}
	return nil
}

func (v *Validator) validateHealth() error {
	h := v.cfg.Health
	if h.ConsecutiveFailureThreshold < 1 {
		return NewValidationError("health", "consecutive_failure_threshold", "", ErrInvalidValue)
	}
	if h.ConsecutiveSuccessThreshold < 1 {
		return NewValidationError("health", "consecutive_success_threshold", "", ErrInvalidValue)
	}
	return nil
}

func (v *Validator) validateCorrelation() error {
	c := v.cfg.Correlation
	if c.ModelBlendWeight < 0 || c.ModelBlendWeight > 1 {
		return NewValidationError("correlation", "model_blend_weight", "", ErrInvalidValue)
	}
	for id, rule := range c.Rules {
		switch models.CorrelationType(rule.Type) {
		case models.CorrelationTemporalBurst, models.CorrelationBruteForce,
			models.CorrelationLateralMovement, models.CorrelationPrivilegeEscalation:
		default:
			return NewValidationError("correlation_rule", id, "type", ErrInvalidValue)
		}
		if rule.TimeWindow.D() <= 0 {
			return NewValidationError("correlation_rule", id, "time_window", ErrInvalidValue)
		}
		if rule.MinEventCount < 1 {
			return NewValidationError("correlation_rule", id, "min_event_count", ErrInvalidValue)
		}
		if rule.MinConfidence < 0 || rule.MinConfidence > 1 {
			return NewValidationError("correlation_rule", id, "min_confidence", ErrInvalidValue)
		}
		for _, t := range rule.RequiredEventTypes {
			if !models.ValidEventType(t) {
				return NewValidationError("correlation_rule", id, "required_event_types", ErrInvalidValue)
			}
		}
	}
	return nil
}

func (v *Validator) validateWatcher() error {
	w := v.cfg.Watcher
	switch w.OverflowPolicy {
	case "block", "drop_oldest":
	default:
		return NewValidationError("logwatcher", "overflow_policy", w.OverflowPolicy, ErrInvalidValue)
	}
	seen := make(map[string]bool, len(w.Channels))
	for _, ch := range w.Channels {
		if ch.Name == "" {
			return NewValidationError("logwatcher", "channel", "name", ErrMissingRequiredField)
		}
		if seen[ch.Name] {
			return NewValidationError("logwatcher", ch.Name, "name", fmt.Errorf("%w: duplicate channel", ErrInvalidValue))
		}
		seen[ch.Name] = true
	}
	return nil
}

func (v *Validator) validateLLM() error {
	l := v.cfg.LLM
	if !l.Enabled {
		return nil
	}
	if len(l.Models) == 0 {
		return NewValidationError("llm", "models", "", fmt.Errorf("%w: llm enabled with no models", ErrMissingRequiredField))
	}
	switch l.Voting {
	case "majority", "weighted", "unanimous":
	default:
		return NewValidationError("llm", "voting", l.Voting, ErrInvalidValue)
	}
	switch l.Confidence {
	case "mean", "median", "min", "max", "weighted_mean":
	default:
		return NewValidationError("llm", "confidence_aggregation", l.Confidence, ErrInvalidValue)
	}
	if l.MinQuorum < 1 {
		return NewValidationError("llm", "min_quorum", "", ErrInvalidValue)
	}
	for i, m := range l.Models {
		if m.Name == "" || m.BaseURL == "" {
			return NewValidationError("llm", fmt.Sprintf("models[%d]", i), "name/base_url", ErrMissingRequiredField)
		}
		switch m.Provider {
		case "openai", "ollama":
		default:
			return NewValidationError("llm", m.Name, "provider", ErrInvalidValue)
		}
		if m.Weight < 0 {
			return NewValidationError("llm", m.Name, "weight", ErrInvalidValue)
		}
	}
	return nil
}

func (v *Validator) validateVector() error {
	vec := v.cfg.Vector
	if vec.Collection == "" {
		return NewValidationError("vector", "collection", "", ErrMissingRequiredField)
	}
	if vec.Dimension < 1 {
		return NewValidationError("vector", "dimension", "", ErrInvalidValue)
	}
	if vec.Distance != "cosine" {
		return NewValidationError("vector", "distance", vec.Distance, fmt.Errorf("%w: only cosine is supported", ErrInvalidValue))
	}
	return nil
}
