package correlation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/sentinelsec/sentinel/pkg/config"
	"github.com/sentinelsec/sentinel/pkg/models"
)

// CorrelationStore persists emitted correlations. Implemented by
// repository.CorrelationRepository.
type CorrelationStore interface {
	Insert(ctx context.Context, c *models.Correlation) error
}

// EventStore applies participant updates. Implemented by
// repository.EventRepository.
type EventStore interface {
	UpgradeRisk(ctx context.Context, id uuid.UUID, level models.RiskLevel, score float64) error
}

const timeRounding = time.Second

// keyPhase is the per-key state machine:
// Idle → Accumulating → Firing → CoolDown → Idle.
type keyPhase int

const (
	phaseIdle keyPhase = iota
	phaseAccumulating
	phaseFiring
	phaseCoolDown
)

// keyState is the rolling window for one (rule, key) pair. It is only ever
// touched by the engine's single processing goroutine.
type keyState struct {
	phase         keyPhase
	events        []*models.SecurityEvent
	coolDownUntil time.Time
}

// Emitted is the callback invoked after a correlation has been persisted;
// the hub broadcast hangs off it.
type Emitted func(c *models.Correlation, participants []*models.SecurityEvent)

// Engine consumes persisted events from its intake queue and fires
// correlations.
type Engine struct {
	cfg        *config.CorrelationConfig
	repo       CorrelationStore
	events     EventStore
	evaluators []evaluator
	onEmitted  Emitted

	intake  chan *models.SecurityEvent
	dropped int64

	mu     sync.Mutex
	states map[string]*keyState // "<ruleID>|<key>" → state
	recent map[string]time.Time // dedupe signature → emitted at

	lastDetectedAt time.Time
	emittedCount   int64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine builds the engine from configured rules. Disabled rules are
// skipped; unknown rule types fail construction.
func NewEngine(cfg *config.CorrelationConfig, repo CorrelationStore, events EventStore, onEmitted Emitted) (*Engine, error) {
	e := &Engine{
		cfg:       cfg,
		repo:      repo,
		events:    events,
		onEmitted: onEmitted,
		intake:    make(chan *models.SecurityEvent, cfg.IntakeQueueSize),
		states:    make(map[string]*keyState),
		recent:    make(map[string]time.Time),
	}
	for id, rc := range cfg.Rules {
		rule := rc.Rule(id)
		if !rule.Enabled {
			continue
		}
		ev, err := newEvaluator(rule)
		if err != nil {
			return nil, err
		}
		e.evaluators = append(e.evaluators, ev)
	}
	return e, nil
}

// Submit enqueues a persisted event for correlation. Never blocks the hot
// path: a full intake queue drops the event with a counter.
func (e *Engine) Submit(event *models.SecurityEvent) {
	select {
	case e.intake <- event:
	default:
		e.mu.Lock()
		e.dropped++
		e.mu.Unlock()
		slog.Warn("Correlation intake full, event dropped", "event_id", event.ID)
	}
}

// Start launches the processing loop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	go e.run(ctx)
	slog.Info("Correlation engine started", "rules", len(e.evaluators))
}

// Stop drains the intake queue (bounded by its current depth), evaluates
// remaining windows, and exits.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	slog.Info("Correlation engine stopped")
}

// EngineStats summarizes engine state.
type EngineStats struct {
	Rules      int   `json:"rules"`
	ActiveKeys int   `json:"active_keys"`
	QueueDepth int   `json:"queue_depth"`
	Emitted    int64 `json:"emitted"`
	Dropped    int64 `json:"dropped"`
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EngineStats{
		Rules:      len(e.evaluators),
		ActiveKeys: len(e.states),
		QueueDepth: len(e.intake),
		Emitted:    e.emittedCount,
		Dropped:    e.dropped,
	}
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	cleanup := time.NewTicker(time.Minute)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			// Flush: drain whatever is already queued, then stop.
			for {
				select {
				case event := <-e.intake:
					e.process(context.Background(), event)
				default:
					return
				}
			}
		case event := <-e.intake:
			e.process(ctx, event)
		case <-cleanup.C:
			e.sweepState()
		}
	}
}

// process feeds one event through every rule evaluator. Events arrive in
// order from the intake queue; each (rule, key) state is only mutated here.
func (e *Engine) process(ctx context.Context, event *models.SecurityEvent) {
	for _, ev := range e.evaluators {
		rule := ev.Rule()
		key := ev.Key(event)
		if key == "" {
			continue
		}
		stateKey := rule.ID + "|" + key

		e.mu.Lock()
		st, ok := e.states[stateKey]
		if !ok {
			st = &keyState{phase: phaseIdle}
			e.states[stateKey] = st
		}
		e.mu.Unlock()

		e.advance(ctx, st, ev, event)
	}
}

// advance runs the state machine for one key on one event.
func (e *Engine) advance(ctx context.Context, st *keyState, ev evaluator, event *models.SecurityEvent) {
	rule := ev.Rule()
	now := event.Timestamp

	if st.phase == phaseCoolDown {
		if now.Before(st.coolDownUntil) {
			// Events keep accumulating during cool-down so the next window
			// starts warm, but the rule does not re-fire.
			st.events = appendBounded(st.events, event, e.cfg.MaxEventsPerKey)
			st.events = trimWindow(st.events, now, rule.TimeWindow)
			return
		}
		st.phase = phaseIdle
	}

	if st.phase == phaseIdle {
		st.phase = phaseAccumulating
	}

	st.events = appendBounded(st.events, event, e.cfg.MaxEventsPerKey)
	st.events = trimWindow(st.events, now, rule.TimeWindow)

	participants, rawConfidence, pattern, fired := ev.Evaluate(st.events)
	if !fired {
		return
	}
	st.phase = phaseFiring

	modelScore := extractFeatures(participants).score()
	confidence := blendConfidence(rawConfidence, modelScore, e.cfg.ModelBlendWeight)
	if confidence < rule.MinConfidence {
		st.phase = phaseAccumulating
		return
	}

	sig := dedupeSignature(rule.Type, participants)
	e.mu.Lock()
	if emittedAt, seen := e.recent[sig]; seen && time.Since(emittedAt) < e.cfg.DuplicateSuppressionWindow.D() {
		e.mu.Unlock()
		st.phase = phaseAccumulating
		return
	}
	e.recent[sig] = time.Now()
	e.mu.Unlock()

	corr := e.buildCorrelation(rule, participants, confidence, pattern)
	if !e.emit(ctx, corr, participants) {
		return
	}

	// Firing → CoolDown for the rule's window; the window keeps rolling.
	st.phase = phaseCoolDown
	st.coolDownUntil = now.Add(rule.TimeWindow)
}

func (e *Engine) buildCorrelation(rule models.CorrelationRule, participants []*models.SecurityEvent, confidence float64, pattern string) *models.Correlation {
	ids := make([]uuid.UUID, 0, len(participants))
	techniques := make(map[string]bool)
	risk := models.RiskLow
	for _, p := range participants {
		ids = append(ids, p.ID)
		risk = risk.Max(p.RiskLevel)
		for _, t := range p.MitreTechniques {
			techniques[t] = true
		}
	}
	// A correlation at or above 0.8 confidence is at least High.
	if risk.Rank() < models.RiskHigh.Rank() && confidence >= 0.8 {
		risk = models.RiskHigh
	}

	mitre := make([]string, 0, len(techniques))
	for t := range techniques {
		mitre = append(mitre, t)
	}

	e.mu.Lock()
	detectedAt := time.Now().UTC()
	if !detectedAt.After(e.lastDetectedAt) {
		detectedAt = e.lastDetectedAt.Add(time.Nanosecond)
	}
	e.lastDetectedAt = detectedAt
	e.mu.Unlock()

	return &models.Correlation{
		ID:              uuid.New(),
		Type:            rule.Type,
		Confidence:      confidence,
		RiskLevel:       risk,
		Pattern:         pattern,
		EventIDs:        ids,
		MitreTechniques: mitre,
		DetectedAt:      detectedAt,
		TimeWindow:      rule.TimeWindow,
		MatchedRule:     rule.ID,
	}
}

// emit persists the correlation (with backoff on transient failures), links
// and upgrades participants, then notifies the broadcast callback. The
// correlation does not count as emitted until persisted; broadcast only
// happens after persistence.
func (e *Engine) emit(ctx context.Context, corr *models.Correlation, participants []*models.SecurityEvent) bool {
	operation := func() error {
		return e.repo.Insert(ctx, corr)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, 4), ctx)); err != nil {
		slog.Error("Correlation persistence failed, not emitted",
			"rule", corr.MatchedRule, "error", err)
		return false
	}

	for _, p := range participants {
		if err := e.events.UpgradeRisk(ctx, p.ID, corr.RiskLevel, corr.Confidence); err != nil {
			slog.Warn("Participant risk upgrade failed", "event_id", p.ID, "error", err)
		}
		if corr.RiskLevel.Rank() > p.RiskLevel.Rank() {
			p.RiskLevel = corr.RiskLevel
		}
		p.CorrelationIDs = append(p.CorrelationIDs, corr.ID)
	}

	e.mu.Lock()
	e.emittedCount++
	e.mu.Unlock()

	slog.Info("Correlation detected",
		"rule", corr.MatchedRule,
		"type", corr.Type,
		"events", len(corr.EventIDs),
		"confidence", corr.Confidence,
		"risk", corr.RiskLevel)

	if e.onEmitted != nil {
		e.onEmitted(corr, participants)
	}
	return true
}

// sweepState drops cooled-down empty keys and expired dedupe signatures.
func (e *Engine) sweepState() {
	now := time.Now()
	suppression := e.cfg.DuplicateSuppressionWindow.D()

	e.mu.Lock()
	defer e.mu.Unlock()
	for sig, at := range e.recent {
		if now.Sub(at) > suppression {
			delete(e.recent, sig)
		}
	}
	for key, st := range e.states {
		if len(st.events) == 0 && (st.phase == phaseIdle || (st.phase == phaseCoolDown && now.After(st.coolDownUntil))) {
			delete(e.states, key)
		}
	}
}

// trimWindow keeps only events strictly inside (newest - window, newest]:
// an event exactly at the window boundary is excluded.
func trimWindow(events []*models.SecurityEvent, newest time.Time, window time.Duration) []*models.SecurityEvent {
	cutoff := newest.Add(-window)
	kept := events[:0]
	for _, e := range events {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}

// appendBounded appends, dropping the oldest entries beyond the cap.
func appendBounded(events []*models.SecurityEvent, e *models.SecurityEvent, limit int) []*models.SecurityEvent {
	events = append(events, e)
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events
}
