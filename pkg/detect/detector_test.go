package detect

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelsec/sentinel/pkg/models"
)

type fakeRuleLister struct {
	mu    sync.Mutex
	rules []models.DetectionRule
	err   error
	calls int
}

func (f *fakeRuleLister) ListEnabled(context.Context) ([]models.DetectionRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.rules, f.err
}

func (f *fakeRuleLister) set(rules []models.DetectionRule, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules, f.err = rules, err
}

var auth4625 = models.DetectionRule{
	EventID: 4625, Channel: "Security",
	EventType: models.EventTypeAuthFailure, RiskLevel: models.RiskHigh,
	Confidence: 85, Summary: "Failed account logon",
	MitreTechniques: []string{"T1110.001"}, Enabled: true,
}

func TestDetector_RuleHitIsDeterministic(t *testing.T) {
	lister := &fakeRuleLister{rules: []models.DetectionRule{auth4625}}
	d, err := New(context.Background(), lister, time.Hour)
	require.NoError(t, err)

	rec := &models.RawRecord{
		Channel:     "Security",
		EventID:     4625,
		TimeCreated: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Host:        "WIN-SERVER01",
		User:        "SYSTEM\\administrator",
		SourceIP:    "203.0.113.45",
		Process:     "lsass.exe",
	}
	event := d.Classify(context.Background(), rec)

	assert.Equal(t, models.EventTypeAuthFailure, event.EventType)
	assert.Equal(t, models.RiskHigh, event.RiskLevel)
	assert.Equal(t, 85, event.Confidence)
	assert.Equal(t, []string{"T1110.001"}, event.MitreTechniques)
	assert.Equal(t, models.DetectionDeterministic, event.DetectionMethod)
	assert.Equal(t, rec.TimeCreated, event.Timestamp)
	assert.Equal(t, "WIN-SERVER01", event.Host)
	assert.False(t, event.RequiresAI)
	assert.False(t, event.CreatedAt.Before(event.Timestamp), "created_at >= timestamp")
}

func TestDetector_RuleMissFlagsAI(t *testing.T) {
	lister := &fakeRuleLister{}
	d, err := New(context.Background(), lister, time.Hour)
	require.NoError(t, err)

	event := d.Classify(context.Background(), &models.RawRecord{
		Channel: "Application", EventID: 999, Host: "h", TimeCreated: time.Now().UTC(),
	})
	assert.Equal(t, models.EventTypeOther, event.EventType)
	assert.Equal(t, models.RiskLow, event.RiskLevel)
	assert.Zero(t, event.Confidence)
	assert.True(t, event.RequiresAI)
}

func TestDetector_InvalidateSwapsAtomically(t *testing.T) {
	lister := &fakeRuleLister{rules: []models.DetectionRule{auth4625}}
	d, err := New(context.Background(), lister, time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, d.RuleCount())

	updated := auth4625
	updated.RiskLevel = models.RiskCritical
	lister.set([]models.DetectionRule{updated, {
		EventID: 4688, Channel: "Security",
		EventType: models.EventTypeProcessCreation, RiskLevel: models.RiskLow,
		Confidence: 75, Enabled: true,
	}}, nil)

	d.Invalidate(context.Background())
	assert.Equal(t, 2, d.RuleCount(), "reader sees the full new set")

	event := d.Classify(context.Background(), &models.RawRecord{
		Channel: "Security", EventID: 4625, Host: "h", TimeCreated: time.Now().UTC(),
	})
	assert.Equal(t, models.RiskCritical, event.RiskLevel)
}

func TestDetector_OutageServesLastKnownGood(t *testing.T) {
	lister := &fakeRuleLister{rules: []models.DetectionRule{auth4625}}
	d, err := New(context.Background(), lister, time.Hour)
	require.NoError(t, err)

	lister.set(nil, errors.New("store down"))
	d.Invalidate(context.Background())

	assert.True(t, d.Degraded())
	event := d.Classify(context.Background(), &models.RawRecord{
		Channel: "Security", EventID: 4625, Host: "h", TimeCreated: time.Now().UTC(),
	})
	assert.Equal(t, models.RiskHigh, event.RiskLevel, "stale snapshot keeps serving")

	lister.set([]models.DetectionRule{auth4625}, nil)
	d.Invalidate(context.Background())
	assert.False(t, d.Degraded())
}

func TestDetector_InitialLoadFailureIsError(t *testing.T) {
	lister := &fakeRuleLister{err: errors.New("store down")}
	_, err := New(context.Background(), lister, time.Hour)
	assert.Error(t, err)
}

func TestDefaultRules_CoverSeededChannels(t *testing.T) {
	rules := DefaultRules()
	require.NotEmpty(t, rules)

	byKey := make(map[models.RuleKey]models.DetectionRule, len(rules))
	for _, r := range rules {
		assert.True(t, r.Enabled)
		assert.True(t, models.ValidEventType(string(r.EventType)))
		assert.True(t, models.ValidRiskLevel(string(r.RiskLevel)))
		byKey[r.Key()] = r
	}
	assert.Contains(t, byKey, models.RuleKey{Channel: "Security", EventID: 4625})
	assert.Contains(t, byKey, models.RuleKey{Channel: "Security", EventID: 1102})
}
