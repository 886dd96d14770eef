// Package models defines the core domain types shared across the pipeline,
// stores, and API layers.
package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies what kind of activity a security event describes.
type EventType string

const (
	EventTypeAuthSuccess         EventType = "AuthenticationSuccess"
	EventTypeAuthFailure         EventType = "AuthenticationFailure"
	EventTypeProcessCreation     EventType = "ProcessCreation"
	EventTypeNetworkConnection   EventType = "NetworkConnection"
	EventTypePrivilegeEscalation EventType = "PrivilegeEscalation"
	EventTypeFileSystem          EventType = "FileSystem"
	EventTypeOther               EventType = "Other"
)

// RiskLevel is the severity assigned to an event or correlation.
type RiskLevel string

const (
	RiskCritical RiskLevel = "Critical"
	RiskHigh     RiskLevel = "High"
	RiskMedium   RiskLevel = "Medium"
	RiskLow      RiskLevel = "Low"
)

// riskOrder maps risk levels to a comparable rank. Unknown levels rank lowest.
var riskOrder = map[RiskLevel]int{
	RiskLow:      1,
	RiskMedium:   2,
	RiskHigh:     3,
	RiskCritical: 4,
}

// Rank returns the numeric severity rank of the risk level (higher = worse).
func (r RiskLevel) Rank() int { return riskOrder[r] }

// Max returns the more severe of two risk levels.
func (r RiskLevel) Max(other RiskLevel) RiskLevel {
	if other.Rank() > r.Rank() {
		return other
	}
	return r
}

// DetectionMethod records which path classified an event.
type DetectionMethod string

const (
	DetectionDeterministic DetectionMethod = "Deterministic"
	DetectionAI            DetectionMethod = "AI"
	DetectionCorrelation   DetectionMethod = "Correlation"
	DetectionHybrid        DetectionMethod = "Hybrid"
)

// EventStatus is the operator-facing triage state of an event.
type EventStatus string

const (
	StatusOpen          EventStatus = "Open"
	StatusInvestigating EventStatus = "Investigating"
	StatusResolved      EventStatus = "Resolved"
)

// IPEnrichment holds geo/ASN context for a source address.
type IPEnrichment struct {
	IP           string `json:"ip"`
	Country      string `json:"country,omitempty"`
	City         string `json:"city,omitempty"`
	ASN          uint   `json:"asn,omitempty"`
	Organization string `json:"organization,omitempty"`
	IsHighRisk   bool   `json:"is_high_risk"`
	Known        bool   `json:"known"` // false = lookup failed or address skipped
}

// SecurityEvent is the central entity of the system: one classified,
// enriched OS event-log record.
//
// Once persisted, Timestamp, EventID, Channel and Host are immutable.
// Notes, Status, RiskLevel (monotonic up), CorrelationScore, CorrelationIDs
// and MitreTechniques may be revised by later stages.
type SecurityEvent struct {
	ID                 uuid.UUID       `json:"id"`
	EventID            int             `json:"event_id"`
	Channel            string          `json:"channel"`
	EventType          EventType       `json:"event_type"`
	RiskLevel          RiskLevel       `json:"risk_level"`
	Confidence         int             `json:"confidence"` // 0..100
	CorrelationScore   float64         `json:"correlation_score"`
	Timestamp          time.Time       `json:"timestamp"`  // source record time
	CreatedAt          time.Time       `json:"created_at"` // ingestion time; CreatedAt >= Timestamp
	Host               string          `json:"host"`
	User               string          `json:"user,omitempty"`
	SourceIP           string          `json:"source_ip,omitempty"`
	DestIP             string          `json:"dest_ip,omitempty"`
	Process            string          `json:"process,omitempty"`
	CommandLine        string          `json:"command_line,omitempty"`
	ParentProcess      string          `json:"parent_process,omitempty"`
	MitreTechniques    []string        `json:"mitre_techniques,omitempty"`
	Summary            string          `json:"summary"`
	RecommendedActions []string        `json:"recommended_actions,omitempty"`
	DetectionMethod    DetectionMethod `json:"detection_method"`
	IPEnrichment       *IPEnrichment   `json:"ip_enrichment,omitempty"`
	EmbeddingRef       string          `json:"embedding_ref,omitempty"`
	Notes              string          `json:"notes,omitempty"`
	Status             EventStatus     `json:"status"`
	CorrelationIDs     []uuid.UUID     `json:"correlation_ids,omitempty"`
	RequiresAI         bool            `json:"-"` // pipeline-internal: rule miss, AI stage should run
	Degraded           bool            `json:"degraded,omitempty"`
}

// EventSummary is the trimmed projection broadcast to dashboards.
type EventSummary struct {
	ID              uuid.UUID       `json:"id"`
	EventType       EventType       `json:"event_type"`
	RiskLevel       RiskLevel       `json:"risk_level"`
	Confidence      int             `json:"confidence"`
	Timestamp       time.Time       `json:"timestamp"`
	Host            string          `json:"host"`
	User            string          `json:"user,omitempty"`
	SourceIP        string          `json:"source_ip,omitempty"`
	Summary         string          `json:"summary"`
	DetectionMethod DetectionMethod `json:"detection_method"`
}

// Summarize projects an event into its dashboard summary form.
func (e *SecurityEvent) Summarize() EventSummary {
	return EventSummary{
		ID:              e.ID,
		EventType:       e.EventType,
		RiskLevel:       e.RiskLevel,
		Confidence:      e.Confidence,
		Timestamp:       e.Timestamp,
		Host:            e.Host,
		User:            e.User,
		SourceIP:        e.SourceIP,
		Summary:         e.Summary,
		DetectionMethod: e.DetectionMethod,
	}
}

// EventPatch carries the mutable-field updates allowed on a persisted event.
// Nil fields are left untouched.
type EventPatch struct {
	Notes  *string      `json:"notes,omitempty"`
	Status *EventStatus `json:"status,omitempty"`
}

// ValidEventType reports whether s names a known event type.
func ValidEventType(s string) bool {
	switch EventType(s) {
	case EventTypeAuthSuccess, EventTypeAuthFailure, EventTypeProcessCreation,
		EventTypeNetworkConnection, EventTypePrivilegeEscalation,
		EventTypeFileSystem, EventTypeOther:
		return true
	}
	return false
}

// ValidRiskLevel reports whether s names a known risk level.
func ValidRiskLevel(s string) bool {
	_, ok := riskOrder[RiskLevel(s)]
	return ok
}

// ValidEventStatus reports whether s names a known triage status.
func ValidEventStatus(s string) bool {
	switch EventStatus(s) {
	case StatusOpen, StatusInvestigating, StatusResolved:
		return true
	}
	return false
}
