package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// RawRecord is one OS event-log record as delivered by the log watcher,
// before any classification. Ownership transfers to the orchestrator on
// submit; the channel bookmark may be advanced once the record is accepted.
type RawRecord struct {
	Channel       string    `json:"channel"`
	EventID       int       `json:"event_id"`
	TimeCreated   time.Time `json:"time_created"`
	XMLPayload    string    `json:"xml_payload"`
	Host          string    `json:"host"`
	BookmarkToken string    `json:"bookmark_token"`

	// Fields parsed out of the payload by the source. Optional.
	User          string `json:"user,omitempty"`
	SourceIP      string `json:"source_ip,omitempty"`
	DestIP        string `json:"dest_ip,omitempty"`
	Process       string `json:"process,omitempty"`
	CommandLine   string `json:"command_line,omitempty"`
	ParentProcess string `json:"parent_process,omitempty"`
}

// Hash returns the content hash of the record payload, used as the last
// component of the pipeline's dedup key.
func (r *RawRecord) Hash() string {
	sum := sha256.Sum256([]byte(r.XMLPayload))
	return hex.EncodeToString(sum[:])
}

// DedupKey identifies the unique-creation tuple for a record: a pipeline
// creates exactly one SecurityEvent per key within the dedup window.
func (r *RawRecord) DedupKey() string {
	h := sha256.New()
	h.Write([]byte(r.Channel))
	h.Write([]byte{0})
	h.Write([]byte(r.Host))
	h.Write([]byte{0})
	h.Write([]byte(r.TimeCreated.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte{0})
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(r.EventID >> (8 * i))
	}
	h.Write(buf[:])
	h.Write([]byte{0})
	h.Write([]byte(r.Hash()))
	return hex.EncodeToString(h.Sum(nil))
}
