package models

// DetectionRule is the deterministic (channel, event_id) → classification
// mapping used by the first-pass detector. Unique on (EventID, Channel).
type DetectionRule struct {
	ID                 int       `json:"id"`
	EventID            int       `json:"event_id"`
	Channel            string    `json:"channel"`
	EventType          EventType `json:"event_type"`
	RiskLevel          RiskLevel `json:"risk_level"`
	Confidence         int       `json:"confidence"`
	Summary            string    `json:"summary"`
	MitreTechniques    []string  `json:"mitre_techniques,omitempty"`
	RecommendedActions []string  `json:"recommended_actions,omitempty"`
	Enabled            bool      `json:"enabled"`
	Priority           int       `json:"priority"`
	Tags               []string  `json:"tags,omitempty"`
}

// RuleKey identifies a rule within the detector's lookup map.
type RuleKey struct {
	Channel string
	EventID int
}

// Key returns the detector lookup key for the rule.
func (r *DetectionRule) Key() RuleKey {
	return RuleKey{Channel: r.Channel, EventID: r.EventID}
}

// NotificationTemplate is a stored message template for downstream
// notification channels. Rendering happens outside the core; only the CRUD
// storage lives here.
type NotificationTemplate struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Channel string `json:"channel"` // e.g. "teams", "slack"
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Enabled bool   `json:"enabled"`
}
