// Package hub provides the real-time fan-out of dashboard snapshots and
// event notifications to subscribed WebSocket clients, with group-scoped
// subscriptions, per-connection bounded send queues and debounced dashboard
// updates.
package hub

import (
	"github.com/sentinelsec/sentinel/pkg/models"
)

// Client method names pushed over the wire. The "type" field of every
// message carries one of these.
const (
	MsgDashboardUpdate     = "DashboardUpdate"
	MsgSecurityEvent       = "SecurityEvent"
	MsgSystemStatusUpdate  = "SystemStatusUpdate"
	MsgCorrelationDetected = "CorrelationDetected"
	MsgScanProgress        = "ScanProgress"
)

// Standing group names. Scan groups are "scan:{scanId}"; event-filter
// groups are "events:{filter}".
const (
	GroupDashboard    = "dashboard"
	GroupSystemStatus = "system_status"
)

// ScanGroup returns the group name for a scan's progress stream.
func ScanGroup(scanID string) string { return "scan:" + scanID }

// EventsGroup returns the group name for a filtered event stream.
func EventsGroup(filter string) string { return "events:" + filter }

// Message is the wire envelope for server → client pushes.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// critical reports whether a message type must never be dropped from a
// connection's send queue. Overflowing a queue of critical messages closes
// the connection instead.
func critical(msgType string) bool {
	return msgType == MsgSecurityEvent || msgType == MsgCorrelationDetected
}

// ClientMessage is the JSON structure for client → server messages.
type ClientMessage struct {
	Action string `json:"action"` // "subscribe", "unsubscribe", "ping"
	Group  string `json:"group,omitempty"`
}

// ScanProgressUpdate relays an external scanner's progress through the hub.
type ScanProgressUpdate struct {
	ScanID       string  `json:"scan_id"`
	Progress     float64 `json:"progress"` // 0..1
	FilesScanned int     `json:"files_scanned"`
	ThreatsFound int     `json:"threats_found"`
	Completed    bool    `json:"completed"`
}

// CorrelationNotice is the CorrelationDetected payload.
type CorrelationNotice struct {
	Correlation *models.Correlation `json:"correlation"`
	EventCount  int                 `json:"event_count"`
}
