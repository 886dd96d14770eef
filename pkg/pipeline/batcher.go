package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sentinelsec/sentinel/pkg/vectorstore"
)

// batcher accumulates embedding points and flushes them to the vector store
// when the batch reaches the configured size or the flush timeout elapses.
// Intra-batch order is not preserved across the upsert; that is permitted.
type batcher struct {
	client    *vectorstore.Client
	batchSize int
	timeout   time.Duration

	mu      sync.Mutex
	pending []vectorstore.Point

	flushCh chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

func newBatcher(client *vectorstore.Client, batchSize int, timeout time.Duration) *batcher {
	return &batcher{
		client:    client,
		batchSize: batchSize,
		timeout:   timeout,
		flushCh:   make(chan struct{}, 1),
	}
}

// Start launches the timeout flusher.
func (b *batcher) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})
	go b.run(ctx)
}

// Stop flushes the final partial batch and exits.
func (b *batcher) Stop() {
	if b.cancel == nil {
		return
	}
	b.cancel()
	<-b.done
	b.flush(context.Background(), "shutdown")
}

// Add queues one point; a full batch triggers an immediate flush signal.
func (b *batcher) Add(point vectorstore.Point) {
	b.mu.Lock()
	b.pending = append(b.pending, point)
	full := len(b.pending) >= b.batchSize
	b.mu.Unlock()

	if full {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
}

// Pending returns the current batch size.
func (b *batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *batcher) run(ctx context.Context) {
	defer close(b.done)

	ticker := time.NewTicker(b.timeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.flushCh:
			b.flush(ctx, "size")
			ticker.Reset(b.timeout)
		case <-ticker.C:
			b.flush(ctx, "timeout")
		}
	}
}

// flush upserts up to batchSize points per call, looping until the pending
// set is below the batch size. Failed batches are dropped after the client's
// internal retries: the relational row is authoritative and the event only
// loses its embedding_ref.
func (b *batcher) flush(ctx context.Context, trigger string) {
	for {
		b.mu.Lock()
		if len(b.pending) == 0 {
			b.mu.Unlock()
			return
		}
		n := len(b.pending)
		if n > b.batchSize {
			n = b.batchSize
		}
		batch := b.pending[:n]
		b.pending = append([]vectorstore.Point(nil), b.pending[n:]...)
		b.mu.Unlock()

		batchFlushes.WithLabelValues(trigger).Inc()
		if err := b.client.UpsertBatch(ctx, batch); err != nil {
			slog.Error("Vector batch upsert failed, embeddings dropped",
				"count", len(batch), "error", err)
		}

		if trigger != "shutdown" && b.Pending() < b.batchSize {
			return
		}
	}
}
