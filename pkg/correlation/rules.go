package correlation

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sentinelsec/sentinel/pkg/models"
)

// evaluator is one pattern matcher bound to a configured rule. Key derives
// the grouping key for an event ("" = rule does not apply); Evaluate checks
// the predicate over the current window and, on a match, returns the
// participating events with a rule-specific raw confidence.
type evaluator interface {
	Rule() models.CorrelationRule
	Key(e *models.SecurityEvent) string
	Evaluate(window []*models.SecurityEvent) (participants []*models.SecurityEvent, confidence float64, pattern string, ok bool)
}

// newEvaluator builds the evaluator for a rule's type.
func newEvaluator(rule models.CorrelationRule) (evaluator, error) {
	switch rule.Type {
	case models.CorrelationTemporalBurst:
		return &temporalBurst{rule: rule}, nil
	case models.CorrelationBruteForce:
		return &bruteForce{rule: rule}, nil
	case models.CorrelationLateralMovement:
		return &lateralMovement{rule: rule}, nil
	case models.CorrelationPrivilegeEscalation:
		return &privilegeEscalation{rule: rule}, nil
	default:
		return nil, fmt.Errorf("unknown correlation rule type %q", rule.Type)
	}
}

// accepts applies the rule's required-event-type filter.
func accepts(rule models.CorrelationRule, e *models.SecurityEvent) bool {
	if len(rule.RequiredEventTypes) == 0 {
		return true
	}
	for _, t := range rule.RequiredEventTypes {
		if e.EventType == t {
			return true
		}
	}
	return false
}

// --- TemporalBurst ---

// temporalBurst fires when enough events share a source address (fallback
// host) inside the window with sufficient mean confidence.
type temporalBurst struct {
	rule models.CorrelationRule
}

func (t *temporalBurst) Rule() models.CorrelationRule { return t.rule }

func (t *temporalBurst) Key(e *models.SecurityEvent) string {
	if !accepts(t.rule, e) {
		return ""
	}
	if e.SourceIP != "" {
		return "ip:" + e.SourceIP
	}
	return "host:" + e.Host
}

func (t *temporalBurst) Evaluate(window []*models.SecurityEvent) ([]*models.SecurityEvent, float64, string, bool) {
	if len(window) < t.rule.MinEventCount {
		return nil, 0, "", false
	}
	var confSum float64
	for _, e := range window {
		confSum += float64(e.Confidence) / 100.0
	}
	mean := confSum / float64(len(window))
	if mean < t.rule.MinConfidence {
		return nil, 0, "", false
	}
	pattern := fmt.Sprintf("%d events from %s within %s",
		len(window), describeKeySubject(window), windowSpan(window).Round(timeRounding))
	return window, mean, pattern, true
}

// --- BruteForce ---

// bruteForce fires on a run of authentication failures followed by a
// success on the same (host, user). Confidence grows with the failure count
// and the speed of the attempt.
type bruteForce struct {
	rule models.CorrelationRule
}

func (b *bruteForce) Rule() models.CorrelationRule { return b.rule }

func (b *bruteForce) Key(e *models.SecurityEvent) string {
	if e.EventType != models.EventTypeAuthFailure && e.EventType != models.EventTypeAuthSuccess {
		return ""
	}
	if e.User == "" {
		return ""
	}
	return e.Host + "|" + e.User
}

func (b *bruteForce) Evaluate(window []*models.SecurityEvent) ([]*models.SecurityEvent, float64, string, bool) {
	var failures []*models.SecurityEvent
	var success *models.SecurityEvent
	for _, e := range window {
		switch e.EventType {
		case models.EventTypeAuthFailure:
			if success == nil {
				failures = append(failures, e)
			}
		case models.EventTypeAuthSuccess:
			if len(failures) >= b.rule.MinEventCount {
				success = e
			}
		}
	}
	if success == nil || len(failures) < b.rule.MinEventCount {
		return nil, 0, "", false
	}

	participants := append(append([]*models.SecurityEvent(nil), failures...), success)

	// Confidence: more failures and tighter spacing mean higher confidence.
	span := success.Timestamp.Sub(failures[0].Timestamp)
	speed := 1.0
	if span > 0 {
		perAttempt := span.Seconds() / float64(len(failures))
		speed = math.Min(1.0, 30.0/math.Max(perAttempt, 1.0))
	}
	confidence := math.Min(1.0, 0.5+0.05*float64(len(failures)))*0.7 + speed*0.3

	pattern := fmt.Sprintf("%d failed logons followed by a success for %s on %s",
		len(failures), success.User, success.Host)
	return participants, confidence, pattern, true
}

// --- LateralMovement ---

// lateralMovement fires when one user produces the same event type on
// enough distinct hosts inside the window.
type lateralMovement struct {
	rule models.CorrelationRule
}

func (l *lateralMovement) Rule() models.CorrelationRule { return l.rule }

func (l *lateralMovement) Key(e *models.SecurityEvent) string {
	if !accepts(l.rule, e) || e.User == "" {
		return ""
	}
	return e.User
}

func (l *lateralMovement) Evaluate(window []*models.SecurityEvent) ([]*models.SecurityEvent, float64, string, bool) {
	byType := make(map[models.EventType][]*models.SecurityEvent)
	for _, e := range window {
		byType[e.EventType] = append(byType[e.EventType], e)
	}

	for eventType, events := range byType {
		hosts := make(map[string]bool)
		for _, e := range events {
			hosts[e.Host] = true
		}
		if len(hosts) >= l.rule.MinEventCount {
			confidence := math.Min(1.0, 0.5+0.1*float64(len(hosts)))
			pattern := fmt.Sprintf("user %s produced %s on %d hosts",
				events[0].User, eventType, len(hosts))
			return events, confidence, pattern, true
		}
	}
	return nil, 0, "", false
}

// --- PrivilegeEscalation ---

// privilegeEscalation fires on a ProcessCreation → PrivilegeEscalation
// sequence on the same (host, user), with any number of intermediate events.
type privilegeEscalation struct {
	rule models.CorrelationRule
}

func (p *privilegeEscalation) Rule() models.CorrelationRule { return p.rule }

func (p *privilegeEscalation) Key(e *models.SecurityEvent) string {
	if e.User == "" {
		return ""
	}
	return e.Host + "|" + e.User
}

func (p *privilegeEscalation) Evaluate(window []*models.SecurityEvent) ([]*models.SecurityEvent, float64, string, bool) {
	var creation *models.SecurityEvent
	for _, e := range window {
		switch e.EventType {
		case models.EventTypeProcessCreation:
			if creation == nil {
				creation = e
			}
		case models.EventTypePrivilegeEscalation:
			if creation != nil && !e.Timestamp.Before(creation.Timestamp) {
				participants := []*models.SecurityEvent{creation, e}
				gap := e.Timestamp.Sub(creation.Timestamp)
				confidence := math.Min(1.0, 0.6+0.3*math.Exp(-gap.Minutes()/5.0))
				pattern := fmt.Sprintf("process creation followed by privilege escalation for %s on %s",
					e.User, e.Host)
				return participants, confidence, pattern, true
			}
		}
	}
	return nil, 0, "", false
}

// describeKeySubject names the shared source of a window for patterns.
func describeKeySubject(window []*models.SecurityEvent) string {
	if len(window) == 0 {
		return "unknown"
	}
	if ip := window[0].SourceIP; ip != "" {
		return ip
	}
	return window[0].Host
}

// dedupeSignature builds the duplicate-suppression key: rule type plus the
// sorted participant id set.
func dedupeSignature(corrType models.CorrelationType, participants []*models.SecurityEvent) string {
	ids := make([]string, 0, len(participants))
	for _, e := range participants {
		ids = append(ids, e.ID.String())
	}
	sort.Strings(ids)
	return string(corrType) + ":" + strings.Join(ids, ",")
}
