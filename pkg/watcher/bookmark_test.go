package watcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAckTracker_ContiguousAdvance(t *testing.T) {
	tr := newAckTracker(0)
	tr.Delivered(10)
	tr.Delivered(20)
	tr.Delivered(30)

	tr.Ack(10)
	committed, changed := tr.Committed()
	assert.True(t, changed)
	assert.Equal(t, int64(10), committed)

	// Ack out of order: 30 before 20 — must not advance past the gap.
	tr.Ack(30)
	committed, changed = tr.Committed()
	assert.False(t, changed)
	assert.Equal(t, int64(10), committed)

	tr.Ack(20)
	committed, changed = tr.Committed()
	assert.True(t, changed)
	assert.Equal(t, int64(30), committed, "gap closed, both offsets commit")
}

func TestAckTracker_StartsFromPersistedPosition(t *testing.T) {
	tr := newAckTracker(100)
	committed, changed := tr.Committed()
	assert.False(t, changed)
	assert.Equal(t, int64(100), committed)
}

func TestAckTracker_Outstanding(t *testing.T) {
	tr := newAckTracker(0)
	tr.Delivered(1)
	tr.Delivered(2)
	assert.Equal(t, 2, tr.Outstanding())

	tr.Ack(1)
	assert.Equal(t, 1, tr.Outstanding())
}
