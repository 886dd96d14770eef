package pipeline

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "pipeline",
		Name:      "events_total",
		Help:      "Records processed by terminal outcome.",
	}, []string{"outcome"}) // persisted | duplicate | rejected | dead_letter | skipped_on_throttle

	stageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sentinel",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Per-stage processing latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})

	queueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Subsystem: "pipeline",
		Name:      "queue_depth",
		Help:      "Current intake queue depth.",
	})

	throttleWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sentinel",
		Subsystem: "pipeline",
		Name:      "throttle_wait_seconds",
		Help:      "Time spent waiting on the task semaphore.",
		Buckets:   []float64{.001, .01, .05, .1, .5, 1, 5, 15},
	})

	batchFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "pipeline",
		Name:      "vector_batch_flushes_total",
		Help:      "Vector batch flushes by trigger.",
	}, []string{"trigger"}) // size | timeout | shutdown
)

// Metrics tracks the orchestrator counters exposed over the API: a rolling
// events-per-second rate, mean latency, semaphore acquisition success and
// memory footprint.
type Metrics struct {
	mu sync.Mutex

	processed       int64
	rejected        int64
	duplicates      int64
	deadLettered    int64
	skippedThrottle int64

	latencySumMs   float64
	latencyCount   int64
	semAcquired    int64
	semTimeouts    int64
	throttleWaitMs float64

	rateWindow []time.Time // timestamps of recent completions
}

// Snapshot is the JSON form served by the metrics endpoint.
type Snapshot struct {
	EventsPerSecond             float64 `json:"events_per_second"`
	AvgLatencyMs                float64 `json:"avg_latency_ms"`
	QueueDepth                  int     `json:"queue_depth"`
	ThrottleWaitMs              float64 `json:"throttle_wait_ms"`
	SemaphoreAcquireSuccessRate float64 `json:"semaphore_acquire_success_rate"`
	MemoryMB                    float64 `json:"memory_mb"`
	Processed                   int64   `json:"processed"`
	Rejected                    int64   `json:"rejected"`
	Duplicates                  int64   `json:"duplicates"`
	DeadLettered                int64   `json:"dead_lettered"`
	SkippedOnThrottle           int64   `json:"skipped_on_throttle"`
}

func (m *Metrics) recordCompletion(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed++
	m.latencySumMs += float64(latency.Milliseconds())
	m.latencyCount++

	now := time.Now()
	m.rateWindow = append(m.rateWindow, now)
	cutoff := now.Add(-time.Minute)
	for len(m.rateWindow) > 0 && m.rateWindow[0].Before(cutoff) {
		m.rateWindow = m.rateWindow[1:]
	}
}

func (m *Metrics) recordSemaphore(wait time.Duration, acquired bool) {
	throttleWait.Observe(wait.Seconds())
	m.mu.Lock()
	defer m.mu.Unlock()
	m.throttleWaitMs += float64(wait.Milliseconds())
	if acquired {
		m.semAcquired++
	} else {
		m.semTimeouts++
	}
}

func (m *Metrics) recordOutcome(outcome string) {
	eventsProcessed.WithLabelValues(outcome).Inc()
	m.mu.Lock()
	defer m.mu.Unlock()
	switch outcome {
	case "rejected":
		m.rejected++
	case "duplicate":
		m.duplicates++
	case "dead_letter":
		m.deadLettered++
	case "skipped_on_throttle":
		m.skippedThrottle++
	}
}

// Snapshot renders current counters; queueDepth and memoryMB are sampled by
// the caller.
func (m *Metrics) Snapshot(queueDepth int, memoryMB float64) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var avgLatency float64
	if m.latencyCount > 0 {
		avgLatency = m.latencySumMs / float64(m.latencyCount)
	}
	var successRate float64
	if total := m.semAcquired + m.semTimeouts; total > 0 {
		successRate = float64(m.semAcquired) / float64(total)
	}

	// Completions in the trailing minute give the rate.
	now := time.Now()
	cutoff := now.Add(-time.Minute)
	inWindow := 0
	for _, ts := range m.rateWindow {
		if ts.After(cutoff) {
			inWindow++
		}
	}

	return Snapshot{
		EventsPerSecond:             float64(inWindow) / 60.0,
		AvgLatencyMs:                avgLatency,
		QueueDepth:                  queueDepth,
		ThrottleWaitMs:              m.throttleWaitMs,
		SemaphoreAcquireSuccessRate: successRate,
		MemoryMB:                    memoryMB,
		Processed:                   m.processed,
		Rejected:                    m.rejected,
		Duplicates:                  m.duplicates,
		DeadLettered:                m.deadLettered,
		SkippedOnThrottle:           m.skippedThrottle,
	}
}
