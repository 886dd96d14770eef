// Package llm implements the optional AI analysis stage: HTTP chat
// providers wrapped in explicit middleware layers (resilience, strict JSON,
// telemetry) and an optional multi-model ensemble with voting and quorum.
package llm

import (
	"context"
	"errors"

	"github.com/sentinelsec/sentinel/pkg/models"
)

var (
	// ErrUnavailable marks transient analyzer failures (timeouts, 5xx,
	// open circuit). The pipeline falls back to deterministic-only.
	ErrUnavailable = errors.New("llm unavailable")

	// ErrSchema marks a structured-output violation that survived the
	// repair attempt.
	ErrSchema = errors.New("llm response failed schema validation")

	// ErrQuorum marks an ensemble quorum shortfall.
	ErrQuorum = errors.New("llm ensemble quorum not met")
)

// Analysis is the strictly-shaped result of an LLM classification.
type Analysis struct {
	RiskLevel            models.RiskLevel `json:"risk_level"`
	Confidence           int              `json:"confidence"` // 0..100
	ThreatClassification string           `json:"threat_classification"`
	MitreTechniques      []string         `json:"mitre_techniques"`
	RecommendedActions   []string         `json:"recommended_actions"`
	Reasoning            string           `json:"reasoning"`
}

// Validate checks the analysis against the required shape.
func (a *Analysis) Validate() error {
	if !models.ValidRiskLevel(string(a.RiskLevel)) {
		return ErrSchema
	}
	if a.Confidence < 0 || a.Confidence > 100 {
		return ErrSchema
	}
	return nil
}

// Neighbor is one vector-search hit passed to the model as context.
type Neighbor struct {
	Summary    string  `json:"summary"`
	RiskLevel  string  `json:"risk_level"`
	Similarity float64 `json:"similarity"`
}

// Request is the analyzer input: the event in canonical form plus its
// nearest stored neighbors.
type Request struct {
	Event     *models.SecurityEvent
	Neighbors []Neighbor
}

// Analyzer is the single contract every layer of the middleware chain
// implements, innermost provider to outermost ensemble.
type Analyzer interface {
	Analyze(ctx context.Context, req *Request) (*Analysis, error)
	ModelID() string
}
