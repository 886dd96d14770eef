package correlation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelsec/sentinel/pkg/config"
	"github.com/sentinelsec/sentinel/pkg/models"
)

type fakeCorrelationStore struct {
	mu       sync.Mutex
	inserted []*models.Correlation
	failing  bool
}

func (f *fakeCorrelationStore) Insert(_ context.Context, c *models.Correlation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("store down")
	}
	f.inserted = append(f.inserted, c)
	return nil
}

type fakeEventStore struct {
	mu       sync.Mutex
	upgrades map[uuid.UUID]models.RiskLevel
}

func (f *fakeEventStore) UpgradeRisk(_ context.Context, id uuid.UUID, level models.RiskLevel, _ float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upgrades == nil {
		f.upgrades = make(map[uuid.UUID]models.RiskLevel)
	}
	f.upgrades[id] = level
	return nil
}

func bruteForceConfig() *config.CorrelationConfig {
	return &config.CorrelationConfig{
		Rules: map[string]*config.CorrelationRuleConfig{
			"brute-force": {
				Type:          string(models.CorrelationBruteForce),
				TimeWindow:    config.Duration(10 * time.Minute),
				MinEventCount: 5,
				MinConfidence: 0.6,
			},
		},
		MaxEventsPerKey:            1000,
		IntakeQueueSize:            100,
		DuplicateSuppressionWindow: config.Duration(15 * time.Minute),
		ModelBlendWeight:           0.3,
	}
}

func TestEngine_BruteForceEndToEnd(t *testing.T) {
	store := &fakeCorrelationStore{}
	events := &fakeEventStore{}

	var emitted []*models.Correlation
	engine, err := NewEngine(bruteForceConfig(), store, events,
		func(c *models.Correlation, _ []*models.SecurityEvent) {
			emitted = append(emitted, c)
		})
	require.NoError(t, err)

	// Eight failures within 60s, then a success at t+90s (spec scenario).
	var participants []*models.SecurityEvent
	for i := 0; i < 8; i++ {
		e := mkEvent(models.EventTypeAuthFailure, "WIN-SERVER01", "administrator",
			"203.0.113.45", testBase.Add(time.Duration(i)*7*time.Second))
		e.RiskLevel = models.RiskLow
		participants = append(participants, e)
		engine.process(context.Background(), e)
	}
	require.Empty(t, store.inserted, "no success yet, must not fire")

	success := mkEvent(models.EventTypeAuthSuccess, "WIN-SERVER01", "administrator",
		"203.0.113.45", testBase.Add(90*time.Second))
	engine.process(context.Background(), success)

	require.Len(t, store.inserted, 1)
	corr := store.inserted[0]
	assert.Equal(t, models.CorrelationBruteForce, corr.Type)
	assert.Len(t, corr.EventIDs, 9)
	assert.GreaterOrEqual(t, corr.Confidence, 0.6)
	assert.Equal(t, models.RiskHigh, corr.RiskLevel)
	assert.Len(t, emitted, 1, "broadcast follows persistence")

	// Low-risk participants were upgraded (monotonic).
	for _, p := range participants {
		assert.Equal(t, models.RiskHigh, events.upgrades[p.ID])
		assert.Contains(t, p.CorrelationIDs, corr.ID)
	}
}

func TestEngine_DuplicateSuppression(t *testing.T) {
	store := &fakeCorrelationStore{}
	engine, err := NewEngine(bruteForceConfig(), store, &fakeEventStore{}, nil)
	require.NoError(t, err)

	feed := func() {
		for i := 0; i < 5; i++ {
			engine.process(context.Background(), mkEvent(models.EventTypeAuthFailure,
				"h", "u", "", testBase.Add(time.Duration(i)*time.Second)))
		}
		engine.process(context.Background(), mkEvent(models.EventTypeAuthSuccess,
			"h", "u", "", testBase.Add(10*time.Second)))
	}
	feed()
	require.Len(t, store.inserted, 1)

	// Repeating the same pattern inside the cool-off does not emit again.
	feed()
	require.Len(t, store.inserted, 1)
}

func TestEngine_PersistenceFailureMeansNotEmitted(t *testing.T) {
	store := &fakeCorrelationStore{failing: true}
	var emitted int
	engine, err := NewEngine(bruteForceConfig(), store, &fakeEventStore{},
		func(*models.Correlation, []*models.SecurityEvent) { emitted++ })
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		engine.process(context.Background(), mkEvent(models.EventTypeAuthFailure,
			"h", "u", "", testBase.Add(time.Duration(i)*time.Second)))
	}
	engine.process(context.Background(), mkEvent(models.EventTypeAuthSuccess,
		"h", "u", "", testBase.Add(6*time.Second)))

	assert.Zero(t, emitted, "broadcast must not happen without persistence")
}

func TestEngine_DetectedAtStrictlyIncreasing(t *testing.T) {
	engine, err := NewEngine(bruteForceConfig(), &fakeCorrelationStore{}, &fakeEventStore{}, nil)
	require.NoError(t, err)

	rule := models.CorrelationRule{ID: "r", Type: models.CorrelationBruteForce, TimeWindow: time.Minute}
	e := mkEvent(models.EventTypeAuthFailure, "h", "u", "", testBase)

	var last time.Time
	for i := 0; i < 10; i++ {
		c := engine.buildCorrelation(rule, []*models.SecurityEvent{e}, 0.9, "p")
		assert.True(t, c.DetectedAt.After(last), "detected_at must be strictly increasing")
		last = c.DetectedAt
	}
}

func TestEngine_DisabledRuleSkipped(t *testing.T) {
	cfg := bruteForceConfig()
	disabled := false
	cfg.Rules["brute-force"].Enabled = &disabled

	engine, err := NewEngine(cfg, &fakeCorrelationStore{}, &fakeEventStore{}, nil)
	require.NoError(t, err)
	assert.Zero(t, engine.Stats().Rules)
}
