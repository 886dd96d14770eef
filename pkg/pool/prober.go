package pool

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sentinelsec/sentinel/pkg/config"
)

// Prober actively health-checks every instance of a pool in the background.
// Transitions follow the configured consecutive thresholds:
// Healthy → Unhealthy after N consecutive failures, Unhealthy → Healthy
// after M consecutive successes.
type Prober struct {
	pool *Pool
	cfg  *config.HealthConfig

	cancel context.CancelFunc
	done   chan struct{}
}

// NewProber creates a prober for the pool.
func NewProber(pool *Pool, cfg *config.HealthConfig) *Prober {
	return &Prober{pool: pool, cfg: cfg}
}

// Start launches the background probe loop.
func (p *Prober) Start(ctx context.Context) {
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	go p.run(ctx)

	slog.Info("Health prober started",
		"pool", p.pool.Name(),
		"interval", p.cfg.CheckInterval.D(),
		"instances", len(p.pool.Instances()))
}

// Stop signals the probe loop to exit and waits for it to finish.
func (p *Prober) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

func (p *Prober) run(ctx context.Context) {
	defer close(p.done)

	p.probeAll(ctx)

	ticker := time.NewTicker(p.cfg.CheckInterval.D())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

func (p *Prober) probeAll(ctx context.Context) {
	for _, inst := range p.pool.Instances() {
		p.probe(ctx, inst)
	}
	if p.pool.Degraded() {
		slog.Warn("Pool below minimum healthy instances",
			"pool", p.pool.Name(),
			"healthy", p.pool.HealthyCount())
	}
}

func (p *Prober) probe(ctx context.Context, inst *Instance) {
	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.CheckTimeout.D())
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet,
		inst.BaseURL()+p.pool.probePath, nil)
	if err != nil {
		p.recordProbe(inst, false, 0)
		return
	}

	start := time.Now()
	resp, err := inst.client.Do(req)
	latency := time.Since(start)
	if err != nil || resp.StatusCode >= 400 {
		if resp != nil {
			resp.Body.Close()
		}
		p.recordProbe(inst, false, latency)
		return
	}
	resp.Body.Close()
	p.recordProbe(inst, true, latency)
}

// recordProbe applies a probe outcome; transitions happen inside the pool's
// shared RecordSuccess/RecordFailure so probes and request-path outcomes
// count toward the same thresholds.
func (p *Prober) recordProbe(inst *Instance, ok bool, latency time.Duration) {
	if ok {
		wasHealthy := inst.Healthy()
		p.pool.RecordSuccess(inst, latency)
		if !wasHealthy && inst.Healthy() {
			slog.Info("Instance recovered",
				"pool", p.pool.Name(), "instance", inst.Name())
		}
		return
	}
	if p.pool.RecordFailure(inst) {
		slog.Warn("Instance marked unhealthy",
			"pool", p.pool.Name(), "instance", inst.Name())
	}
}
