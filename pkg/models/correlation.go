package models

import (
	"time"

	"github.com/google/uuid"
)

// CorrelationType names the pattern a correlation rule matches.
type CorrelationType string

const (
	CorrelationTemporalBurst       CorrelationType = "TemporalBurst"
	CorrelationBruteForce          CorrelationType = "BruteForce"
	CorrelationLateralMovement     CorrelationType = "LateralMovement"
	CorrelationPrivilegeEscalation CorrelationType = "PrivilegeEscalation"
)

// Correlation is a higher-order incident grouping related SecurityEvents.
// Once created it is appended to each referenced event's correlation_ids;
// participant risk may be raised (never lowered) to the correlation's level.
type Correlation struct {
	ID              uuid.UUID       `json:"id"`
	Type            CorrelationType `json:"type"`
	Confidence      float64         `json:"confidence"` // 0..1
	RiskLevel       RiskLevel       `json:"risk_level"`
	Pattern         string          `json:"pattern"`
	EventIDs        []uuid.UUID     `json:"event_ids"`
	MitreTechniques []string        `json:"mitre_techniques,omitempty"`
	DetectedAt      time.Time       `json:"detected_at"`
	TimeWindow      time.Duration   `json:"time_window"`
	MatchedRule     string          `json:"matched_rule"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
}

// CorrelationRule configures one pattern evaluator in the engine.
type CorrelationRule struct {
	ID                 string          `json:"id" yaml:"id"`
	Type               CorrelationType `json:"type" yaml:"type"`
	TimeWindow         time.Duration   `json:"time_window" yaml:"time_window"`
	MinEventCount      int             `json:"min_event_count" yaml:"min_event_count"`
	MinConfidence      float64         `json:"min_confidence" yaml:"min_confidence"`
	RequiredEventTypes []EventType     `json:"required_event_types,omitempty" yaml:"required_event_types"`
	Enabled            bool            `json:"enabled" yaml:"enabled"`
	Parameters         map[string]any  `json:"parameters,omitempty" yaml:"parameters"`
}
