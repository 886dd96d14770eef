// Package detect implements the deterministic first-pass classifier: a
// (channel, event_id) lookup against the enabled detection rule set, served
// from an immutable in-memory snapshot refreshed on a TTL or by explicit
// invalidation.
package detect

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelsec/sentinel/pkg/models"
)

// DefaultRefreshTTL is how long a rule snapshot is served before a
// background refresh is attempted.
const DefaultRefreshTTL = 15 * time.Minute

// snapshot is the immutable rule set. Readers get the whole map or nothing;
// refresh swaps the pointer atomically, never mutating in place.
type snapshot struct {
	rules    map[models.RuleKey]models.DetectionRule
	loadedAt time.Time
}

// RuleLister supplies the enabled rule set. Implemented by
// repository.RuleRepository.
type RuleLister interface {
	ListEnabled(ctx context.Context) ([]models.DetectionRule, error)
}

// Detector classifies raw records with the deterministic rule set.
type Detector struct {
	repo       RuleLister
	refreshTTL time.Duration

	current  atomic.Pointer[snapshot]
	degraded atomic.Bool // serving last-known-good after a store outage
}

// New creates a detector and loads the initial snapshot.
func New(ctx context.Context, repo RuleLister, refreshTTL time.Duration) (*Detector, error) {
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}
	d := &Detector{repo: repo, refreshTTL: refreshTTL}
	if err := d.Refresh(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// Classify produces the initial SecurityEvent for a raw record. A rule hit
// yields the rule's classification marked Deterministic; a miss yields a
// minimal Other/Low event flagged for AI analysis.
func (d *Detector) Classify(ctx context.Context, rec *models.RawRecord) *models.SecurityEvent {
	d.maybeRefresh(ctx)

	now := time.Now().UTC()
	if now.Before(rec.TimeCreated) {
		// Clock skew between source and collector; created_at must not
		// precede the record timestamp.
		now = rec.TimeCreated
	}
	event := &models.SecurityEvent{
		ID:              uuid.New(),
		EventID:         rec.EventID,
		Channel:         rec.Channel,
		Timestamp:       rec.TimeCreated,
		CreatedAt:       now,
		Host:            rec.Host,
		User:            rec.User,
		SourceIP:        rec.SourceIP,
		DestIP:          rec.DestIP,
		Process:         rec.Process,
		CommandLine:     rec.CommandLine,
		ParentProcess:   rec.ParentProcess,
		Status:          models.StatusOpen,
		DetectionMethod: models.DetectionDeterministic,
	}

	snap := d.current.Load()
	rule, ok := snap.rules[models.RuleKey{Channel: rec.Channel, EventID: rec.EventID}]
	if !ok {
		event.EventType = models.EventTypeOther
		event.RiskLevel = models.RiskLow
		event.Confidence = 0
		event.Summary = "Unclassified event"
		event.RequiresAI = true
		return event
	}

	event.EventType = rule.EventType
	event.RiskLevel = rule.RiskLevel
	event.Confidence = rule.Confidence
	event.Summary = rule.Summary
	event.MitreTechniques = append([]string(nil), rule.MitreTechniques...)
	event.RecommendedActions = append([]string(nil), rule.RecommendedActions...)
	return event
}

// Refresh reloads the enabled rule set and swaps the snapshot. On store
// failure the previous snapshot keeps serving and the detector reports
// degraded mode.
func (d *Detector) Refresh(ctx context.Context) error {
	rules, err := d.repo.ListEnabled(ctx)
	if err != nil {
		if d.current.Load() != nil {
			if d.degraded.CompareAndSwap(false, true) {
				slog.Warn("Rule store unavailable, serving last known good rule set", "error", err)
			}
			return nil
		}
		return err
	}

	m := make(map[models.RuleKey]models.DetectionRule, len(rules))
	for _, r := range rules {
		// Highest priority wins on duplicate keys; ListEnabled orders by
		// priority descending so the first entry sticks.
		if _, exists := m[r.Key()]; !exists {
			m[r.Key()] = r
		}
	}
	d.current.Store(&snapshot{rules: m, loadedAt: time.Now()})
	if d.degraded.Swap(false) {
		slog.Info("Rule store recovered, rule snapshot refreshed", "rules", len(m))
	}
	return nil
}

// Invalidate forces a refresh; called after admin writes to the rule store.
func (d *Detector) Invalidate(ctx context.Context) {
	if err := d.Refresh(ctx); err != nil {
		slog.Error("Rule snapshot refresh after invalidation failed", "error", err)
	}
}

// Degraded reports whether the last refresh failed and a stale snapshot is
// being served.
func (d *Detector) Degraded() bool { return d.degraded.Load() }

// RuleCount returns the size of the active snapshot.
func (d *Detector) RuleCount() int {
	return len(d.current.Load().rules)
}

// maybeRefresh refreshes the snapshot when the TTL has elapsed. Refresh is
// cheap enough to run inline; concurrent callers race benignly — the last
// swap wins and every snapshot is complete.
func (d *Detector) maybeRefresh(ctx context.Context) {
	snap := d.current.Load()
	if time.Since(snap.loadedAt) < d.refreshTTL {
		return
	}
	if err := d.Refresh(ctx); err != nil {
		slog.Error("Rule snapshot refresh failed", "error", err)
	}
}
