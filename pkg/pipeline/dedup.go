package pipeline

import (
	"sync"
	"time"
)

// dedupWindow remembers creation keys for the configured interval so a
// resubmitted record maps to at most one SecurityEvent. Implemented as two
// rotating generations: membership checks cover both, rotation drops the
// older wholesale — O(1) amortized expiry without per-key timers.
type dedupWindow struct {
	mu       sync.Mutex
	window   time.Duration
	current  map[string]struct{}
	previous map[string]struct{}
	rotated  time.Time
}

func newDedupWindow(window time.Duration) *dedupWindow {
	return &dedupWindow{
		window:   window,
		current:  make(map[string]struct{}),
		previous: make(map[string]struct{}),
		rotated:  time.Now(),
	}
}

// Seen records the key and reports whether it was already present inside
// the window.
func (d *dedupWindow) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if now.Sub(d.rotated) >= d.window {
		d.previous = d.current
		d.current = make(map[string]struct{})
		d.rotated = now
	}

	if _, ok := d.current[key]; ok {
		return true
	}
	if _, ok := d.previous[key]; ok {
		return true
	}
	d.current[key] = struct{}{}
	return false
}

// Len returns the number of tracked keys (both generations).
func (d *dedupWindow) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.current) + len(d.previous)
}
