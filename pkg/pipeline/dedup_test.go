package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedupWindow_DuplicateDetected(t *testing.T) {
	d := newDedupWindow(time.Minute)

	assert.False(t, d.Seen("k1"), "first sighting is not a duplicate")
	assert.True(t, d.Seen("k1"))
	assert.False(t, d.Seen("k2"))
}

func TestDedupWindow_ExpiryAfterRotation(t *testing.T) {
	d := newDedupWindow(30 * time.Millisecond)

	assert.False(t, d.Seen("k"))

	// After one window the key survives in the previous generation.
	time.Sleep(35 * time.Millisecond)
	assert.True(t, d.Seen("k"))

	// Two full rotations with other traffic drop it entirely. Seen("other")
	// drives the rotations.
	time.Sleep(35 * time.Millisecond)
	d.Seen("other1")
	time.Sleep(35 * time.Millisecond)
	d.Seen("other2")

	assert.False(t, d.Seen("k"), "key expired after both generations rotated")
}

func TestDedupWindow_Len(t *testing.T) {
	d := newDedupWindow(time.Minute)
	d.Seen("a")
	d.Seen("b")
	d.Seen("a")
	assert.Equal(t, 2, d.Len())
}

func TestMetrics_Snapshot(t *testing.T) {
	m := &Metrics{}
	m.recordCompletion(10 * time.Millisecond)
	m.recordCompletion(30 * time.Millisecond)
	m.recordSemaphore(time.Millisecond, true)
	m.recordSemaphore(time.Millisecond, false)
	m.recordOutcome("rejected")
	m.recordOutcome("skipped_on_throttle")

	snap := m.Snapshot(5, 256)
	assert.Equal(t, int64(2), snap.Processed)
	assert.Equal(t, int64(1), snap.Rejected)
	assert.Equal(t, int64(1), snap.SkippedOnThrottle)
	assert.Equal(t, 5, snap.QueueDepth)
	assert.InDelta(t, 256.0, snap.MemoryMB, 1e-9)
	assert.InDelta(t, 20.0, snap.AvgLatencyMs, 1e-9)
	assert.InDelta(t, 0.5, snap.SemaphoreAcquireSuccessRate, 1e-9)
	assert.Greater(t, snap.EventsPerSecond, 0.0)
}

func TestUnion(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, union([]string{"a", "b"}, []string{"b", "c"}))
	assert.Empty(t, union(nil, nil))
	assert.Equal(t, []string{"x"}, union([]string{"", "x"}, []string{"x"}))
}
