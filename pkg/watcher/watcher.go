package watcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sentinelsec/sentinel/pkg/config"
	"github.com/sentinelsec/sentinel/pkg/models"
	"github.com/sentinelsec/sentinel/pkg/repository"
)

// Handler receives records from the watcher. A nil return acknowledges
// durable acceptance of the record into the pipeline's intake; the watcher
// then tracks the bookmark for contiguous commit. A non-nil return leaves
// the record unacked (it is redelivered after resubscription).
type Handler func(ctx context.Context, rec *models.RawRecord) error

// Watcher runs one subscription per enabled channel with bounded buffering,
// reconnect backoff and a background bookmark committer.
type Watcher struct {
	cfg       *config.WatcherConfig
	source    Source
	bookmarks *repository.BookmarkRepository
	handler   Handler
	limiter   *rate.Limiter

	mu        sync.Mutex
	trackers  map[string]*ackTracker
	parseErrs int64
	dropped   int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher.
func New(cfg *config.WatcherConfig, source Source, bookmarks *repository.BookmarkRepository, handler Handler) *Watcher {
	w := &Watcher{
		cfg:       cfg,
		source:    source,
		bookmarks: bookmarks,
		handler:   handler,
		trackers:  make(map[string]*ackTracker),
	}
	if cfg.IntakeRateLimit > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(cfg.IntakeRateLimit), cfg.IntakeRateLimit*2)
	}
	return w
}

// Start launches one subscription loop per enabled channel plus the
// bookmark committer. Returns immediately.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	started := 0
	for _, ch := range w.cfg.Channels {
		if !ch.IsEnabled() {
			continue
		}
		started++
		w.wg.Add(1)
		go func(ch config.ChannelConfig) {
			defer w.wg.Done()
			w.runChannel(ctx, ch)
		}(ch)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.runCommitter(ctx)
	}()

	slog.Info("Log watcher started", "channels", started)
}

// Stop cancels all subscriptions, waits for the loops to exit, and commits
// final bookmarks for fully persisted records.
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	w.wg.Wait()
	w.commitAll(context.Background())
	slog.Info("Log watcher stopped")
}

// Ack marks a channel record durably accepted downstream.
func (w *Watcher) Ack(channel, token string) {
	w.mu.Lock()
	tracker := w.trackers[channel]
	w.mu.Unlock()
	if tracker != nil {
		tracker.Ack(ParseToken(token))
	}
}

// Stats summarizes watcher state for health reporting.
type Stats struct {
	Channels    int   `json:"channels"`
	Outstanding int   `json:"outstanding"`
	ParseErrors int64 `json:"parse_errors"`
	Dropped     int64 `json:"dropped"`
}

// Stats returns a snapshot of watcher counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Stats{Channels: len(w.trackers), ParseErrors: w.parseErrs, Dropped: w.dropped}
	for _, t := range w.trackers {
		s.Outstanding += t.Outstanding()
	}
	return s
}

// runChannel subscribes, consumes, and resubscribes with the configured
// backoff schedule until the context is cancelled or the channel fails
// fatally (permission denied, invalid filter).
func (w *Watcher) runChannel(ctx context.Context, ch config.ChannelConfig) {
	log := slog.With("channel", ch.Name)
	backoffIdx := 0

	for {
		if ctx.Err() != nil {
			return
		}

		fromToken := w.loadBookmark(ctx, ch)
		items, err := w.source.Subscribe(ctx, ch, fromToken)
		if err != nil {
			if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrFilterInvalid) {
				log.Error("Channel failed fatally, stopping subscription", "error", err)
				return
			}
			delay := w.backoffDelay(backoffIdx)
			backoffIdx++
			log.Warn("Channel unavailable, retrying", "error", err, "delay", delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		backoffIdx = 0
		log.Info("Channel subscribed", "from", fromToken)
		w.consume(ctx, ch, items)

		if ctx.Err() != nil {
			return
		}
		log.Warn("Channel subscription dropped, reconnecting")
	}
}

func (w *Watcher) consume(ctx context.Context, ch config.ChannelConfig, items <-chan SourceItem) {
	tracker := w.trackerFor(ctx, ch)

	for item := range items {
		if item.ParseErr != nil {
			w.mu.Lock()
			w.parseErrs++
			w.mu.Unlock()
			slog.Warn("Unparseable record skipped", "channel", ch.Name, "error", item.ParseErr)
			continue
		}
		rec := item.Record

		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
		}

		offset := ParseToken(rec.BookmarkToken)
		tracker.Delivered(offset)
		if err := w.handler(ctx, rec); err != nil {
			// Rejected by the pipeline (queue full with reject policy, or
			// shutdown). Apply the overflow policy: drop with a counter, or
			// block and retry the same record until it is accepted; a record
			// still unaccepted at shutdown stays unacked and is redelivered
			// on resubscription from the committed bookmark.
			if w.cfg.OverflowPolicy == "drop_oldest" {
				w.mu.Lock()
				w.dropped++
				w.mu.Unlock()
				// Count the drop but still ack: the committed bookmark may
				// advance, the record is consciously discarded.
				tracker.Ack(offset)
				continue
			}
			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(250 * time.Millisecond):
				}
				if err := w.handler(ctx, rec); err == nil {
					break
				}
			}
		}
	}
}

func (w *Watcher) trackerFor(ctx context.Context, ch config.ChannelConfig) *ackTracker {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.trackers[ch.Name]; ok {
		return t
	}
	start := int64(0)
	if ch.PersistBookmarks() {
		if token, err := w.bookmarks.Get(ctx, ch.Name); err == nil {
			start = ParseToken(token)
		}
	}
	t := newAckTracker(start)
	w.trackers[ch.Name] = t
	return t
}

func (w *Watcher) loadBookmark(ctx context.Context, ch config.ChannelConfig) string {
	if !ch.PersistBookmarks() {
		return ""
	}
	token, err := w.bookmarks.Get(ctx, ch.Name)
	if err != nil {
		slog.Warn("Bookmark read failed, starting from beginning", "channel", ch.Name, "error", err)
		return ""
	}
	return token
}

// runCommitter periodically persists advanced bookmarks.
func (w *Watcher) runCommitter(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.CommitInterval.D())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.commitAll(ctx)
		}
	}
}

func (w *Watcher) commitAll(ctx context.Context) {
	w.mu.Lock()
	snapshot := make(map[string]*ackTracker, len(w.trackers))
	for name, t := range w.trackers {
		snapshot[name] = t
	}
	w.mu.Unlock()

	for channel, tracker := range snapshot {
		offset, changed := tracker.Committed()
		if !changed {
			continue
		}
		if err := w.bookmarks.Set(ctx, channel, FormatToken(offset)); err != nil {
			slog.Error("Bookmark commit failed", "channel", channel, "error", err)
		}
	}
}

// backoffDelay walks the configured reconnect schedule, capping at its last
// entry.
func (w *Watcher) backoffDelay(attempt int) time.Duration {
	schedule := w.cfg.ReconnectBackoffSeconds
	if len(schedule) == 0 {
		schedule = []int{1, 2, 5, 10, 30}
	}
	if attempt >= len(schedule) {
		attempt = len(schedule) - 1
	}
	return time.Duration(schedule[attempt]) * time.Second
}
