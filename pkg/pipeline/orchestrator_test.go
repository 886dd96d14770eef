package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelsec/sentinel/pkg/config"
	"github.com/sentinelsec/sentinel/pkg/detect"
	"github.com/sentinelsec/sentinel/pkg/models"
	"github.com/sentinelsec/sentinel/pkg/repository"
)

type fakeEventWriter struct {
	mu       sync.Mutex
	inserted []*models.SecurityEvent
	keys     map[string]bool
	err      error
}

func (f *fakeEventWriter) Insert(_ context.Context, e *models.SecurityEvent, dedupKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.keys == nil {
		f.keys = make(map[string]bool)
	}
	if f.keys[dedupKey] {
		return repository.ErrDuplicate
	}
	f.keys[dedupKey] = true
	f.inserted = append(f.inserted, e)
	return nil
}

func (f *fakeEventWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserted)
}

type fakeDeadLetterSink struct {
	mu      sync.Mutex
	letters []string
}

func (f *fakeDeadLetterSink) Add(_ context.Context, _ any, reason string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.letters = append(f.letters, reason)
	return nil
}

type fakeAcker struct {
	mu    sync.Mutex
	acked []string
}

func (f *fakeAcker) Ack(_, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, token)
}

type stubRules struct{}

func (stubRules) ListEnabled(context.Context) ([]models.DetectionRule, error) {
	return []models.DetectionRule{{
		EventID: 4625, Channel: "Security",
		EventType: models.EventTypeAuthFailure, RiskLevel: models.RiskHigh,
		Confidence: 85, Summary: "Failed account logon",
		MitreTechniques: []string{"T1110.001"}, Enabled: true,
	}}, nil
}

func testOrchestrator(t *testing.T, cfg *config.PipelineConfig, events EventWriter, dl DeadLetterSink) *Orchestrator {
	t.Helper()
	detector, err := detect.New(context.Background(), stubRules{}, time.Hour)
	require.NoError(t, err)
	return New(cfg, Deps{
		Detector:   detector,
		Events:     events,
		DeadLetter: dl,
	})
}

func record(host string, eventID int, payload string) *models.RawRecord {
	return &models.RawRecord{
		Channel:       "Security",
		EventID:       eventID,
		TimeCreated:   time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Host:          host,
		XMLPayload:    payload,
		BookmarkToken: "1",
	}
}

func TestSubmit_RejectsWhenQueueFull(t *testing.T) {
	cfg := config.DefaultPipelineConfig()
	cfg.MaxQueueDepth = 2
	cfg.DropOldestOnFull = false
	o := testOrchestrator(t, cfg, &fakeEventWriter{}, &fakeDeadLetterSink{})

	// No workers running: the queue fills and the next submit rejects.
	require.NoError(t, o.Submit(context.Background(), record("h", 1, "a")))
	require.NoError(t, o.Submit(context.Background(), record("h", 2, "b")))
	err := o.Submit(context.Background(), record("h", 3, "c"))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, o.QueueDepth())
	assert.Equal(t, int64(1), o.MetricsSnapshot().Rejected)
}

func TestSubmit_DropOldestMakesRoom(t *testing.T) {
	cfg := config.DefaultPipelineConfig()
	cfg.MaxQueueDepth = 1
	cfg.DropOldestOnFull = true
	o := testOrchestrator(t, cfg, &fakeEventWriter{}, &fakeDeadLetterSink{})

	require.NoError(t, o.Submit(context.Background(), record("h", 1, "a")))
	require.NoError(t, o.Submit(context.Background(), record("h", 2, "b")))
	assert.Equal(t, 1, o.QueueDepth(), "oldest dropped, newest queued")
}

func TestProcessRecord_PersistsDeterministicClassification(t *testing.T) {
	events := &fakeEventWriter{}
	acker := &fakeAcker{}
	o := testOrchestrator(t, config.DefaultPipelineConfig(), events, &fakeDeadLetterSink{})
	o.SetAcker(acker)

	rec := record("WIN-SERVER01", 4625, "<Event/>")
	rec.User = "administrator"
	rec.SourceIP = "203.0.113.45"
	o.processRecord(context.Background(), rec)

	require.Equal(t, 1, events.count())
	e := events.inserted[0]
	assert.Equal(t, models.EventTypeAuthFailure, e.EventType)
	assert.Equal(t, models.RiskHigh, e.RiskLevel)
	assert.Equal(t, 85, e.Confidence)
	assert.Equal(t, []string{"T1110.001"}, e.MitreTechniques)
	assert.Equal(t, models.DetectionDeterministic, e.DetectionMethod)
	assert.Len(t, acker.acked, 1, "bookmark acked after persistence")
}

func TestProcessRecord_DedupWithinWindow(t *testing.T) {
	events := &fakeEventWriter{}
	o := testOrchestrator(t, config.DefaultPipelineConfig(), events, &fakeDeadLetterSink{})

	rec := record("h", 4625, "<same/>")
	o.processRecord(context.Background(), rec)
	o.processRecord(context.Background(), rec)

	assert.Equal(t, 1, events.count(), "submit(r); submit(r) persists exactly once")
	assert.Equal(t, int64(1), o.MetricsSnapshot().Duplicates)
}

func TestProcessRecord_PersistenceExhaustionDeadLetters(t *testing.T) {
	events := &fakeEventWriter{err: errors.New("store down")}
	dl := &fakeDeadLetterSink{}
	acker := &fakeAcker{}

	cfg := config.DefaultPipelineConfig()
	o := testOrchestrator(t, cfg, events, dl)
	o.SetAcker(acker)

	o.processRecord(context.Background(), record("h", 4625, "<x/>"))

	require.Len(t, dl.letters, 1)
	assert.Equal(t, "PersistenceExhausted", dl.letters[0])
	assert.Equal(t, int64(1), o.MetricsSnapshot().DeadLettered)
	assert.Len(t, acker.acked, 1, "diverted records still ack so the channel keeps moving")
}

func TestOrchestrator_EndToEndThroughWorkers(t *testing.T) {
	events := &fakeEventWriter{}
	cfg := config.DefaultPipelineConfig()
	cfg.DrainTimeout = config.Duration(5 * time.Second)
	o := testOrchestrator(t, cfg, events, &fakeDeadLetterSink{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)

	for i := 0; i < 5; i++ {
		require.NoError(t, o.Submit(ctx, record("h", 4625, string(rune('a'+i)))))
	}

	require.Eventually(t, func() bool { return events.count() == 5 },
		2*time.Second, 10*time.Millisecond)
	o.Stop()
}
