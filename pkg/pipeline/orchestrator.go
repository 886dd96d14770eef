// Package pipeline implements the enrichment orchestrator: bounded-
// concurrency record processing through the detector, embedding, vector,
// LLM and IP stages, with semaphore throttling, batched vector writes,
// dedup, retries, dead-lettering and backpressure.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"github.com/sentinelsec/sentinel/pkg/cache"
	"github.com/sentinelsec/sentinel/pkg/config"
	"github.com/sentinelsec/sentinel/pkg/correlation"
	"github.com/sentinelsec/sentinel/pkg/detect"
	"github.com/sentinelsec/sentinel/pkg/embedding"
	"github.com/sentinelsec/sentinel/pkg/ipenrich"
	"github.com/sentinelsec/sentinel/pkg/llm"
	"github.com/sentinelsec/sentinel/pkg/models"
	"github.com/sentinelsec/sentinel/pkg/repository"
	"github.com/sentinelsec/sentinel/pkg/vectorstore"
)

// ErrQueueFull is returned by Submit when the intake queue is full and
// drop-oldest is disabled.
var ErrQueueFull = errors.New("pipeline intake queue full")

// Broadcaster receives post-persistence notifications for the dashboard
// fan-out. Implemented by the hub.
type Broadcaster interface {
	PublishSecurityEvent(summary models.EventSummary)
	PublishDashboardDelta()
}

// Acker receives durable-acceptance acknowledgements for watcher bookmarks.
type Acker interface {
	Ack(channel, token string)
}

// EventWriter persists classified events. Implemented by
// repository.EventRepository.
type EventWriter interface {
	Insert(ctx context.Context, e *models.SecurityEvent, dedupKey string) error
}

// DeadLetterSink receives events whose writes exhausted their retries.
// Implemented by repository.DeadLetterRepository.
type DeadLetterSink interface {
	Add(ctx context.Context, payload any, reason string, attempts int) error
}

// Orchestrator runs the per-record stage graph.
type Orchestrator struct {
	cfg *config.PipelineConfig

	detector   *detect.Detector
	embedder   *embedding.Service  // nil disables the embedding branch
	vectors    *vectorstore.Client // nil disables vector writes/search
	analyzer   *llm.Service        // nil disables the LLM stage
	enricher   *ipenrich.Service   // nil disables IP enrichment
	events     EventWriter
	deadLetter DeadLetterSink
	correlator *correlation.Engine
	broadcast  Broadcaster
	acker      Acker

	intake  chan *models.RawRecord
	sem     *semaphore.Weighted
	dedup   *dedupWindow
	batcher *batcher
	monitor *monitor
	metrics *Metrics

	historyMu sync.Mutex
	history   []historyEntry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type historyEntry struct {
	at      time.Time
	summary models.EventSummary
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Detector   *detect.Detector
	Embedder   *embedding.Service
	Vectors    *vectorstore.Client
	Analyzer   *llm.Service
	Enricher   *ipenrich.Service
	Events     EventWriter
	DeadLetter DeadLetterSink
	Correlator *correlation.Engine
	Broadcast  Broadcaster
	Cache      *cache.Cache
}

// New creates the orchestrator.
func New(cfg *config.PipelineConfig, deps Deps) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		detector:   deps.Detector,
		embedder:   deps.Embedder,
		vectors:    deps.Vectors,
		analyzer:   deps.Analyzer,
		enricher:   deps.Enricher,
		events:     deps.Events,
		deadLetter: deps.DeadLetter,
		correlator: deps.Correlator,
		broadcast:  deps.Broadcast,
		intake:     make(chan *models.RawRecord, cfg.MaxQueueDepth),
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrentTasks)),
		dedup:      newDedupWindow(cfg.DedupWindow.D()),
		metrics:    &Metrics{},
	}
	if deps.Vectors != nil {
		o.batcher = newBatcher(deps.Vectors, cfg.VectorBatchSize, cfg.VectorBatchTimeout.D())
	}
	o.monitor = newMonitor(cfg, o.sem, deps.Cache, o.trimHistory)
	return o
}

// SetAcker wires the watcher acknowledgement sink (set after construction
// because the watcher's handler is the orchestrator's Submit).
func (o *Orchestrator) SetAcker(a Acker) { o.acker = a }

// Start launches the worker pool, batcher and resource monitor.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, o.cancel = context.WithCancel(ctx)

	if o.batcher != nil {
		o.batcher.Start(ctx)
	}
	o.monitor.Start(ctx)

	for i := 0; i < o.cfg.MaxConcurrency; i++ {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.worker(ctx)
		}()
	}
	slog.Info("Pipeline orchestrator started",
		"workers", o.cfg.MaxConcurrency,
		"max_concurrent_tasks", o.cfg.MaxConcurrentTasks,
		"queue_depth", o.cfg.MaxQueueDepth)
}

// Stop drains in-flight records up to the drain timeout, flushes the final
// vector batch, and exits.
func (o *Orchestrator) Stop() {
	if o.cancel == nil {
		return
	}
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(o.cfg.DrainTimeout.D()):
		slog.Warn("Pipeline drain timeout exceeded, abandoning in-flight records")
	}

	if o.batcher != nil {
		o.batcher.Stop()
	}
	o.monitor.Stop()
	slog.Info("Pipeline orchestrator stopped")
}

// Submit hands a raw record to the pipeline. Returns ErrQueueFull when the
// intake queue is full and drop-oldest is disabled; with drop-oldest the
// oldest queued record is discarded to make room.
func (o *Orchestrator) Submit(ctx context.Context, rec *models.RawRecord) error {
	select {
	case o.intake <- rec:
		queueDepthGauge.Set(float64(len(o.intake)))
		return nil
	default:
	}

	if !o.cfg.DropOldestOnFull {
		o.metrics.recordOutcome("rejected")
		return ErrQueueFull
	}

	// Drop the oldest queued record, then retry once. A concurrent consumer
	// may have made room already; either way the new record goes in.
	select {
	case dropped := <-o.intake:
		o.metrics.recordOutcome("rejected")
		slog.Warn("Intake full, dropped oldest record",
			"channel", dropped.Channel, "event_id", dropped.EventID)
	default:
	}
	select {
	case o.intake <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDepth returns the current intake depth.
func (o *Orchestrator) QueueDepth() int { return len(o.intake) }

// MetricsSnapshot returns the orchestrator counters.
func (o *Orchestrator) MetricsSnapshot() Snapshot {
	return o.metrics.Snapshot(len(o.intake), o.monitor.MemoryMB())
}

func (o *Orchestrator) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// Drain what is already queued before exiting.
			for {
				select {
				case rec := <-o.intake:
					o.processRecord(context.Background(), rec)
				default:
					return
				}
			}
		case rec := <-o.intake:
			queueDepthGauge.Set(float64(len(o.intake)))
			o.processRecord(ctx, rec)
		}
	}
}

// processRecord runs one record through the full stage graph.
func (o *Orchestrator) processRecord(ctx context.Context, rec *models.RawRecord) {
	start := time.Now()

	dedupKey := rec.DedupKey()
	if o.dedup.Seen(dedupKey) {
		o.metrics.recordOutcome("duplicate")
		o.ack(rec)
		return
	}

	detectStart := time.Now()
	event := o.detector.Classify(ctx, rec)
	stageLatency.WithLabelValues("detect").Observe(time.Since(detectStart).Seconds())

	// Throttle the enrichment branch on the shared task semaphore.
	var vec []float32
	throttledOut := false
	semStart := time.Now()
	acquireCtx, cancelAcquire := context.WithTimeout(ctx, o.cfg.SemaphoreTimeout.D())
	err := o.sem.Acquire(acquireCtx, 1)
	cancelAcquire()
	o.metrics.recordSemaphore(time.Since(semStart), err == nil)

	switch {
	case err == nil:
		vec = o.enrich(ctx, event)
		o.sem.Release(1)
	case o.cfg.SkipOnThrottleTimeout:
		// Persist with the deterministic classification only.
		event.Degraded = true
		throttledOut = true
		o.metrics.recordOutcome("skipped_on_throttle")
	default:
		// Block until a permit frees up (or shutdown).
		if err := o.sem.Acquire(ctx, 1); err == nil {
			vec = o.enrich(ctx, event)
			o.sem.Release(1)
		} else {
			event.Degraded = true
		}
	}

	if !o.persist(ctx, event, dedupKey) {
		o.metrics.recordCompletion(time.Since(start))
		o.ack(rec)
		return
	}

	if vec != nil && o.batcher != nil {
		o.batcher.Add(vectorstore.Point{
			ID:     event.ID,
			Vector: vec,
			Metadata: map[string]string{
				"event_type": string(event.EventType),
				"risk_level": string(event.RiskLevel),
				"timestamp":  event.Timestamp.UTC().Format(time.RFC3339),
			},
		})
	}

	if o.correlator != nil {
		o.correlator.Submit(event)
	}
	if o.broadcast != nil {
		o.broadcast.PublishSecurityEvent(event.Summarize())
		o.broadcast.PublishDashboardDelta()
	}
	o.remember(event.Summarize())

	o.metrics.recordOutcome("persisted")
	o.metrics.recordCompletion(time.Since(start))
	o.ack(rec)

	if throttledOut {
		slog.Debug("Record persisted without enrichment due to throttle timeout",
			"event_id", event.ID)
	}
}

// enrich runs the parallel enrichment branch: {embedding → vector search →
// LLM} alongside IP enrichment, bounded by the parallel-operation timeout.
// Stage failures degrade the event, never fail it. Returns the embedding
// vector for the batched store write, or nil.
func (o *Orchestrator) enrich(ctx context.Context, event *models.SecurityEvent) []float32 {
	opCtx, cancel := context.WithTimeout(ctx, o.cfg.ParallelOperationTimeout.D())
	defer cancel()

	var wg sync.WaitGroup
	var vec []float32

	if o.enricher != nil && event.SourceIP != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ipStart := time.Now()
			event.IPEnrichment = o.enricher.Enrich(opCtx, event.SourceIP)
			stageLatency.WithLabelValues("ip_enrich").Observe(time.Since(ipStart).Seconds())
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		vec = o.analyzeBranch(opCtx, event)
	}()

	wg.Wait()
	return vec
}

// analyzeBranch runs embedding, vector retrieval and (when warranted) the
// LLM analysis sequentially — the model consumes the retrieved neighbors.
func (o *Orchestrator) analyzeBranch(ctx context.Context, event *models.SecurityEvent) []float32 {
	if o.embedder == nil {
		return nil
	}

	embedStart := time.Now()
	vec, err := o.embedder.Embed(ctx, models.CanonicalText(event))
	stageLatency.WithLabelValues("embed").Observe(time.Since(embedStart).Seconds())
	if err != nil {
		// Embedding unavailable → deterministic-only classification.
		event.Degraded = true
		slog.Warn("Embedding failed, continuing deterministic-only",
			"event_id", event.ID, "error", err)
		return nil
	}
	event.EmbeddingRef = event.ID.String()

	var neighbors []llm.Neighbor
	if o.vectors != nil {
		searchStart := time.Now()
		results, err := o.vectors.Search(ctx, vec, 5, 0.5)
		stageLatency.WithLabelValues("vector_search").Observe(time.Since(searchStart).Seconds())
		if err != nil {
			slog.Debug("Vector search failed, proceeding without context",
				"event_id", event.ID, "error", err)
		}
		for _, r := range results {
			neighbors = append(neighbors, llm.Neighbor{
				Summary:    r.Metadata["summary"],
				RiskLevel:  r.Metadata["risk_level"],
				Similarity: r.Similarity,
			})
		}
	}

	if o.analyzer != nil && (event.RequiresAI || event.Confidence < o.cfg.AIConfidenceThreshold) {
		o.analyze(ctx, event, neighbors)
	}
	return vec
}

func (o *Orchestrator) analyze(ctx context.Context, event *models.SecurityEvent, neighbors []llm.Neighbor) {
	llmStart := time.Now()
	analysis, err := o.analyzer.Analyze(ctx, &llm.Request{Event: event, Neighbors: neighbors})
	stageLatency.WithLabelValues("llm").Observe(time.Since(llmStart).Seconds())

	if analysis == nil {
		// Full failure: keep the deterministic classification, degraded.
		event.Degraded = true
		if event.RequiresAI {
			slog.Warn("LLM analysis unavailable for unclassified event",
				"event_id", event.ID, "error", err)
		}
		return
	}
	if err != nil {
		// Quorum shortfall produced a usable but degraded result.
		event.Degraded = true
	}

	hadRule := !event.RequiresAI
	event.RiskLevel = analysis.RiskLevel
	event.Confidence = analysis.Confidence
	event.MitreTechniques = union(event.MitreTechniques, analysis.MitreTechniques)
	event.RecommendedActions = union(event.RecommendedActions, analysis.RecommendedActions)
	if analysis.Reasoning != "" {
		event.Notes = analysis.Reasoning
	}
	if event.RequiresAI {
		if models.ValidEventType(analysis.ThreatClassification) {
			event.EventType = models.EventType(analysis.ThreatClassification)
		}
		if analysis.ThreatClassification != "" && event.Summary == "Unclassified event" {
			event.Summary = analysis.ThreatClassification
		}
	}
	if hadRule {
		event.DetectionMethod = models.DetectionHybrid
	} else {
		event.DetectionMethod = models.DetectionAI
	}
	event.RequiresAI = false
}

// persist writes the relational row with transient-failure retries; on
// exhaustion the event diverts to the dead-letter queue and the pipeline
// keeps accepting records. Returns true when the row exists (fresh insert).
func (o *Orchestrator) persist(ctx context.Context, event *models.SecurityEvent, dedupKey string) bool {
	persistStart := time.Now()
	defer func() {
		stageLatency.WithLabelValues("persist").Observe(time.Since(persistStart).Seconds())
	}()

	attempts := 0
	operation := func() error {
		attempts++
		err := o.events.Insert(ctx, event, dedupKey)
		if errors.Is(err, repository.ErrDuplicate) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 5 * time.Second
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, 4), ctx))
	if err == nil {
		return true
	}
	if errors.Is(err, repository.ErrDuplicate) {
		o.metrics.recordOutcome("duplicate")
		return false
	}

	o.metrics.recordOutcome("dead_letter")
	slog.Error("Event persistence exhausted retries, diverting to dead letters",
		"event_id", event.ID, "attempts", attempts, "error", err)
	dlCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if dlErr := o.deadLetter.Add(dlCtx, event, "PersistenceExhausted", attempts); dlErr != nil {
		slog.Error("Dead letter write failed, event lost",
			"event_id", event.ID, "error", dlErr)
	}
	return false
}

func (o *Orchestrator) ack(rec *models.RawRecord) {
	if o.acker != nil {
		o.acker.Ack(rec.Channel, rec.BookmarkToken)
	}
}

// remember keeps the bounded in-memory recent-event history.
func (o *Orchestrator) remember(summary models.EventSummary) {
	o.historyMu.Lock()
	defer o.historyMu.Unlock()
	o.history = append(o.history, historyEntry{at: time.Now(), summary: summary})
	o.trimHistoryLocked()
}

// trimHistory drops retained history past the retention window; also called
// by the memory monitor under pressure.
func (o *Orchestrator) trimHistory() {
	o.historyMu.Lock()
	defer o.historyMu.Unlock()
	o.trimHistoryLocked()
}

func (o *Orchestrator) trimHistoryLocked() {
	cutoff := time.Now().Add(-o.cfg.EventHistoryRetention.D())
	kept := o.history[:0]
	for _, h := range o.history {
		if h.at.After(cutoff) {
			kept = append(kept, h)
		}
	}
	o.history = kept
}

// RecentHistory returns summaries retained in memory, newest last.
func (o *Orchestrator) RecentHistory() []models.EventSummary {
	o.historyMu.Lock()
	defer o.historyMu.Unlock()
	out := make([]models.EventSummary, 0, len(o.history))
	for _, h := range o.history {
		out = append(out, h.summary)
	}
	return out
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
