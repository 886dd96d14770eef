package correlation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelsec/sentinel/pkg/models"
)

var testBase = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func mkEvent(eventType models.EventType, host, user, sourceIP string, at time.Time) *models.SecurityEvent {
	return &models.SecurityEvent{
		ID:         uuid.New(),
		EventType:  eventType,
		RiskLevel:  models.RiskHigh,
		Confidence: 85,
		Timestamp:  at,
		Host:       host,
		User:       user,
		SourceIP:   sourceIP,
	}
}

func TestBruteForce_FiresOnFailuresThenSuccess(t *testing.T) {
	ev := &bruteForce{rule: models.CorrelationRule{
		ID:            "brute-force",
		Type:          models.CorrelationBruteForce,
		TimeWindow:    10 * time.Minute,
		MinEventCount: 5,
	}}

	var window []*models.SecurityEvent
	for i := 0; i < 8; i++ {
		window = append(window, mkEvent(models.EventTypeAuthFailure,
			"WIN-SERVER01", "administrator", "203.0.113.45",
			testBase.Add(time.Duration(i)*7*time.Second)))
	}
	success := mkEvent(models.EventTypeAuthSuccess,
		"WIN-SERVER01", "administrator", "203.0.113.45", testBase.Add(90*time.Second))
	window = append(window, success)

	participants, confidence, pattern, ok := ev.Evaluate(window)
	require.True(t, ok)
	assert.Len(t, participants, 9, "all failures plus the success participate")
	assert.GreaterOrEqual(t, confidence, 0.8)
	assert.Contains(t, pattern, "administrator")
}

func TestBruteForce_NoSuccessNoFire(t *testing.T) {
	ev := &bruteForce{rule: models.CorrelationRule{MinEventCount: 5}}
	var window []*models.SecurityEvent
	for i := 0; i < 10; i++ {
		window = append(window, mkEvent(models.EventTypeAuthFailure, "h", "u", "",
			testBase.Add(time.Duration(i)*time.Second)))
	}
	_, _, _, ok := ev.Evaluate(window)
	assert.False(t, ok)
}

func TestBruteForce_SuccessBeforeFailuresNoFire(t *testing.T) {
	ev := &bruteForce{rule: models.CorrelationRule{MinEventCount: 3}}
	window := []*models.SecurityEvent{
		mkEvent(models.EventTypeAuthSuccess, "h", "u", "", testBase),
		mkEvent(models.EventTypeAuthFailure, "h", "u", "", testBase.Add(time.Second)),
		mkEvent(models.EventTypeAuthFailure, "h", "u", "", testBase.Add(2*time.Second)),
		mkEvent(models.EventTypeAuthFailure, "h", "u", "", testBase.Add(3*time.Second)),
	}
	_, _, _, ok := ev.Evaluate(window)
	assert.False(t, ok, "success must follow the failure run")
}

func TestTemporalBurst_FiresAtThreshold(t *testing.T) {
	ev := &temporalBurst{rule: models.CorrelationRule{
		MinEventCount: 10,
		MinConfidence: 0.5,
	}}

	var window []*models.SecurityEvent
	for i := 0; i < 9; i++ {
		window = append(window, mkEvent(models.EventTypeAuthFailure, "h", "u", "1.2.3.4",
			testBase.Add(time.Duration(i)*time.Second)))
	}
	_, _, _, ok := ev.Evaluate(window)
	assert.False(t, ok, "below min_event_count")

	window = append(window, mkEvent(models.EventTypeAuthFailure, "h", "u", "1.2.3.4",
		testBase.Add(9*time.Second)))
	_, confidence, _, ok := ev.Evaluate(window)
	require.True(t, ok)
	assert.InDelta(t, 0.85, confidence, 0.001, "mean of 85% confidences")
}

func TestTemporalBurst_KeyPrefersSourceIP(t *testing.T) {
	ev := &temporalBurst{rule: models.CorrelationRule{}}
	withIP := mkEvent(models.EventTypeOther, "host-a", "", "9.9.9.9", testBase)
	withoutIP := mkEvent(models.EventTypeOther, "host-a", "", "", testBase)

	assert.Equal(t, "ip:9.9.9.9", ev.Key(withIP))
	assert.Equal(t, "host:host-a", ev.Key(withoutIP))
}

func TestLateralMovement_DistinctHosts(t *testing.T) {
	ev := &lateralMovement{rule: models.CorrelationRule{MinEventCount: 3}}

	window := []*models.SecurityEvent{
		mkEvent(models.EventTypeAuthSuccess, "host-1", "svc", "", testBase),
		mkEvent(models.EventTypeAuthSuccess, "host-1", "svc", "", testBase.Add(time.Minute)),
		mkEvent(models.EventTypeAuthSuccess, "host-2", "svc", "", testBase.Add(2*time.Minute)),
	}
	_, _, _, ok := ev.Evaluate(window)
	assert.False(t, ok, "two distinct hosts is below threshold")

	window = append(window, mkEvent(models.EventTypeAuthSuccess, "host-3", "svc", "", testBase.Add(3*time.Minute)))
	participants, _, pattern, ok := ev.Evaluate(window)
	require.True(t, ok)
	assert.Len(t, participants, 4)
	assert.Contains(t, pattern, "3 hosts")
}

func TestPrivilegeEscalation_Sequence(t *testing.T) {
	ev := &privilegeEscalation{rule: models.CorrelationRule{MinEventCount: 2}}

	creation := mkEvent(models.EventTypeProcessCreation, "h", "u", "", testBase)
	escalation := mkEvent(models.EventTypePrivilegeEscalation, "h", "u", "", testBase.Add(time.Minute))

	// Escalation before creation must not fire.
	_, _, _, ok := ev.Evaluate([]*models.SecurityEvent{escalation})
	assert.False(t, ok)

	participants, confidence, _, ok := ev.Evaluate([]*models.SecurityEvent{creation, escalation})
	require.True(t, ok)
	assert.Len(t, participants, 2)
	assert.Greater(t, confidence, 0.6)
}

func TestTrimWindow_BoundaryExcluded(t *testing.T) {
	window := 60 * time.Second
	newest := testBase.Add(window)

	atBoundary := mkEvent(models.EventTypeOther, "h", "", "", testBase) // exactly newest - window
	inside := mkEvent(models.EventTypeOther, "h", "", "", testBase.Add(time.Second))
	newestEvent := mkEvent(models.EventTypeOther, "h", "", "", newest)

	kept := trimWindow([]*models.SecurityEvent{atBoundary, inside, newestEvent}, newest, window)
	require.Len(t, kept, 2, "an event exactly at t+window is NOT included")
	assert.NotContains(t, kept, atBoundary)
}

func TestDedupeSignature_OrderIndependent(t *testing.T) {
	a := mkEvent(models.EventTypeOther, "h", "", "", testBase)
	b := mkEvent(models.EventTypeOther, "h", "", "", testBase)

	sig1 := dedupeSignature(models.CorrelationBruteForce, []*models.SecurityEvent{a, b})
	sig2 := dedupeSignature(models.CorrelationBruteForce, []*models.SecurityEvent{b, a})
	assert.Equal(t, sig1, sig2)

	sig3 := dedupeSignature(models.CorrelationTemporalBurst, []*models.SecurityEvent{a, b})
	assert.NotEqual(t, sig1, sig3)
}

func TestFeatureScore_Bounds(t *testing.T) {
	assert.Equal(t, featureVector{}, extractFeatures(nil))

	var window []*models.SecurityEvent
	for i := 0; i < 20; i++ {
		window = append(window, mkEvent(models.EventTypeAuthFailure,
			"h", "u", "1.2.3.4", testBase.Add(time.Duration(i)*time.Second)))
	}
	score := extractFeatures(window).score()
	assert.Greater(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestBlendConfidence(t *testing.T) {
	assert.InDelta(t, 0.9, blendConfidence(0.9, 0.9, 0.3), 1e-9)
	assert.InDelta(t, 0.7*0.9+0.3*0.5, blendConfidence(0.9, 0.5, 0.3), 1e-9)
	assert.Equal(t, 1.0, blendConfidence(1.5, 1.5, 0.3), "clamped to 1")
}
