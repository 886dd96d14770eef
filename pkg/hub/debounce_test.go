package hub

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncer_CoalescesRapidTriggers(t *testing.T) {
	var fires atomic.Int32
	d := newDebouncer(50*time.Millisecond, func(context.Context) error {
		fires.Add(1)
		return nil
	})
	d.Start(context.Background())
	defer d.Stop()

	for i := 0; i < 20; i++ {
		d.Trigger()
	}
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), fires.Load(), "a burst of triggers coalesces into one fire")
}

func TestDebouncer_FiresAgainAfterWindow(t *testing.T) {
	var fires atomic.Int32
	d := newDebouncer(20*time.Millisecond, func(context.Context) error {
		fires.Add(1)
		return nil
	})
	d.Start(context.Background())
	defer d.Stop()

	d.Trigger()
	time.Sleep(40 * time.Millisecond)
	d.Trigger()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(2), fires.Load())
}

func TestDebouncer_NoFireAfterStop(t *testing.T) {
	var fires atomic.Int32
	d := newDebouncer(20*time.Millisecond, func(context.Context) error {
		fires.Add(1)
		return nil
	})
	d.Start(context.Background())

	d.Trigger()
	d.Stop()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(0), fires.Load())
}

func TestCriticalMessageTypes(t *testing.T) {
	assert.True(t, critical(MsgSecurityEvent))
	assert.True(t, critical(MsgCorrelationDetected))
	assert.False(t, critical(MsgDashboardUpdate))
	assert.False(t, critical(MsgScanProgress))
}

func TestGroupNames(t *testing.T) {
	assert.Equal(t, "scan:abc", ScanGroup("abc"))
	assert.Equal(t, "events:high-risk", EventsGroup("high-risk"))
}
