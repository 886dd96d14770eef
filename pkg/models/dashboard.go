package models

import "time"

// TimeRange selects the window a dashboard snapshot covers.
type TimeRange string

const (
	Range1h  TimeRange = "1h"
	Range24h TimeRange = "24h"
	Range7d  TimeRange = "7d"
	Range30d TimeRange = "30d"
)

// Duration returns the wall-clock span of the range.
func (r TimeRange) Duration() time.Duration {
	switch r {
	case Range1h:
		return time.Hour
	case Range7d:
		return 7 * 24 * time.Hour
	case Range30d:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// ValidTimeRange reports whether s names a known dashboard time range.
func ValidTimeRange(s string) bool {
	switch TimeRange(s) {
	case Range1h, Range24h, Range7d, Range30d:
		return true
	}
	return false
}

// ComponentHealth is one subsystem's health as reported on the dashboard.
type ComponentHealth struct {
	Name         string        `json:"name"`
	Healthy      bool          `json:"healthy"`
	Status       string        `json:"status"` // "healthy", "degraded", "unhealthy"
	Detail       string        `json:"detail,omitempty"`
	ResponseTime time.Duration `json:"response_time_ms,omitempty"`
	CheckedAt    time.Time     `json:"checked_at"`
}

// EventsOverview summarizes security events for a snapshot window.
type EventsOverview struct {
	Total         int               `json:"total"`
	RiskCounts    map[RiskLevel]int `json:"risk_counts"`
	Recent        []EventSummary    `json:"recent"`
	LastEventTime *time.Time        `json:"last_event_time,omitempty"`
}

// SystemStatusOverview summarizes component health for a snapshot.
type SystemStatusOverview struct {
	TotalComponents   int                        `json:"total_components"`
	HealthyComponents int                        `json:"healthy_components"`
	ComponentStatuses map[string]ComponentHealth `json:"component_statuses"`
}

// ScannerOverview summarizes threat-scanner activity. The scanner itself is
// an external collaborator; the hub relays its progress updates.
type ScannerOverview struct {
	TotalScans   int        `json:"total_scans"`
	ActiveScans  int        `json:"active_scans"`
	ThreatsFound int        `json:"threats_found"`
	LastScanTime *time.Time `json:"last_scan_time,omitempty"`
}

// DashboardSnapshot is the consolidated, time-ranged summary pushed to
// dashboards. Not persisted; recomputed on demand and cached briefly.
type DashboardSnapshot struct {
	SecurityEvents EventsOverview       `json:"security_events"`
	SystemStatus   SystemStatusOverview `json:"system_status"`
	ThreatScanner  ScannerOverview      `json:"threat_scanner"`
	LastUpdated    time.Time            `json:"last_updated"`
	TimeRange      TimeRange            `json:"time_range"`
}

// TimelineBucket is one aggregation bucket of the event timeline.
type TimelineBucket struct {
	BucketStart time.Time `json:"timestamp"`
	Count       int       `json:"count"`
}

// TimelineStats is the summary object served by /api/timeline/stats.
type TimelineStats struct {
	TotalEvents    int               `json:"total_events"`
	ByRisk         map[RiskLevel]int `json:"by_risk"`
	ByType         map[EventType]int `json:"by_type"`
	ByHour         map[int]int       `json:"by_hour"`
	ByDayOfWeek    map[string]int    `json:"by_day_of_week"`
	TopTechniques  []NamedCount      `json:"top_techniques"`
	TopMachines    []NamedCount      `json:"top_machines"`
	TopUsers       []NamedCount      `json:"top_users"`
	AvgConfidence  float64           `json:"avg_confidence"`
	AvgCorrelation float64           `json:"avg_correlation_score"`
}

// NamedCount pairs a label with an occurrence count.
type NamedCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}
