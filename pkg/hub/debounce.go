package hub

import (
	"context"
	"sync"
	"time"
)

// debouncer coalesces rapid triggers into one callback per quiet window.
// The callback fires after the window elapses from the FIRST trigger of a
// burst, so the pushed state reflects everything that arrived during the
// window.
type debouncer struct {
	window time.Duration
	fire   func(ctx context.Context) error

	mu      sync.Mutex
	pending bool
	timer   *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
}

func newDebouncer(window time.Duration, fire func(ctx context.Context) error) *debouncer {
	return &debouncer{window: window, fire: fire}
}

func (d *debouncer) Start(ctx context.Context) {
	d.ctx, d.cancel = context.WithCancel(ctx)
}

func (d *debouncer) Stop() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = false
	d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
}

// Trigger schedules a fire after the window unless one is already pending.
func (d *debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending || d.ctx == nil {
		return
	}
	d.pending = true
	d.timer = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		d.pending = false
		d.mu.Unlock()
		if d.ctx.Err() != nil {
			return
		}
		_ = d.fire(d.ctx)
	})
}
