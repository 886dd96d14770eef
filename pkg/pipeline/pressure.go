package pipeline

import (
	"context"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sync/semaphore"

	"github.com/sentinelsec/sentinel/pkg/cache"
	"github.com/sentinelsec/sentinel/pkg/config"
)

// monitor watches CPU and memory and applies the adaptive-throttling and
// memory-pressure policies: above the CPU threshold the effective task
// concurrency is halved by parking half the semaphore; above the memory high
// water the cache layer is evicted to 20% below the threshold and the
// retained history trimmed.
type monitor struct {
	cfg         *config.PipelineConfig
	sem         *semaphore.Weighted
	cache       *cache.Cache
	trimHistory func()

	proc      *process.Process
	throttled bool // half the semaphore is currently parked

	cancel context.CancelFunc
	done   chan struct{}
}

func newMonitor(cfg *config.PipelineConfig, sem *semaphore.Weighted, c *cache.Cache, trimHistory func()) *monitor {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		slog.Warn("Process handle unavailable, memory pressure checks use zero RSS", "error", err)
	}
	return &monitor{
		cfg:         cfg,
		sem:         sem,
		cache:       c,
		trimHistory: trimHistory,
		proc:        proc,
	}
}

func (m *monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.run(ctx)
}

func (m *monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// MemoryMB samples the process RSS.
func (m *monitor) MemoryMB() float64 {
	if m.proc == nil {
		return 0
	}
	info, err := m.proc.MemoryInfo()
	if err != nil || info == nil {
		return 0
	}
	return float64(info.RSS) / (1024 * 1024)
}

func (m *monitor) run(ctx context.Context) {
	defer close(m.done)
	defer m.restore()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.cfg.EnableAdaptiveThrottling {
				m.checkCPU(ctx)
			}
			m.checkMemory()
		}
	}
}

// checkCPU halves effective concurrency while CPU stays above the
// threshold, restoring when it recovers.
func (m *monitor) checkCPU(ctx context.Context) {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return
	}
	usage := percents[0]
	half := int64(m.cfg.MaxConcurrentTasks / 2)
	if half < 1 {
		return
	}

	switch {
	case usage > float64(m.cfg.CPUThrottleThresholdPct) && !m.throttled:
		acquireCtx, cancel := context.WithTimeout(ctx, time.Second)
		err := m.sem.Acquire(acquireCtx, half)
		cancel()
		if err == nil {
			m.throttled = true
			slog.Warn("CPU above threshold, halving pipeline concurrency",
				"cpu_pct", usage, "parked_permits", half)
		}
	case usage < float64(m.cfg.CPUThrottleThresholdPct)*0.8 && m.throttled:
		m.sem.Release(half)
		m.throttled = false
		slog.Info("CPU recovered, restoring pipeline concurrency", "cpu_pct", usage)
	}
}

func (m *monitor) checkMemory() {
	rss := m.MemoryMB()
	high := float64(m.cfg.MemoryHighWaterMB)
	if rss == 0 || rss < high {
		return
	}

	target := int64(high * 0.8 * 1024 * 1024)
	slog.Warn("Memory above high water, evicting caches",
		"rss_mb", rss, "high_water_mb", high)
	m.cache.EvictToBytes(target)
	if m.trimHistory != nil {
		m.trimHistory()
	}
	debug.FreeOSMemory()
}

func (m *monitor) restore() {
	if m.throttled {
		m.sem.Release(int64(m.cfg.MaxConcurrentTasks / 2))
		m.throttled = false
	}
}
