package watcher

import (
	"container/heap"
	"sync"
)

// ackTracker tracks delivered and acknowledged bookmark offsets for one
// channel and computes the highest contiguous acknowledged token — the only
// position safe to persist. Acks may arrive out of order; the committed
// bookmark never advances past a gap.
type ackTracker struct {
	mu        sync.Mutex
	delivered offsetHeap     // outstanding (delivered, unacked) offsets
	acked     map[int64]bool // acked but not yet contiguous
	committed int64          // highest contiguous acked offset
	dirty     bool
}

func newAckTracker(start int64) *ackTracker {
	return &ackTracker{
		acked:     make(map[int64]bool),
		committed: start,
	}
}

// Delivered registers a record handed downstream.
func (t *ackTracker) Delivered(offset int64) {
	t.mu.Lock()
	heap.Push(&t.delivered, offset)
	t.mu.Unlock()
}

// Ack marks a record durably accepted. The committed position advances over
// every leading delivered offset that has been acked.
func (t *ackTracker) Ack(offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acked[offset] = true
	for t.delivered.Len() > 0 {
		head := t.delivered[0]
		if !t.acked[head] {
			break
		}
		heap.Pop(&t.delivered)
		delete(t.acked, head)
		if head > t.committed {
			t.committed = head
			t.dirty = true
		}
	}
}

// Committed returns the persistable position and whether it changed since
// the last call that observed it.
func (t *ackTracker) Committed() (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	changed := t.dirty
	t.dirty = false
	return t.committed, changed
}

// Outstanding returns the number of delivered-but-unacked records.
func (t *ackTracker) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delivered.Len()
}

// offsetHeap is a min-heap of delivered offsets.
type offsetHeap []int64

func (h offsetHeap) Len() int           { return len(h) }
func (h offsetHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h offsetHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *offsetHeap) Push(x any)        { *h = append(*h, x.(int64)) }
func (h *offsetHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
