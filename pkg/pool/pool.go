// Package pool provides a generic pool of upstream HTTP instances with
// weighted load balancing, active health probing, per-instance circuit
// breakers and automatic failover.
package pool

import (
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sentinelsec/sentinel/pkg/config"
)

var (
	// ErrNoHealthyInstances is returned when selection finds no usable instance.
	ErrNoHealthyInstances = errors.New("no healthy instances available")
)

// Weight multiplier clamps for the health-aware algorithm.
const (
	minWeightMultiplier = 0.1
	maxWeightMultiplier = 3.0
)

// referenceLatencyMs anchors the latency factor of the dynamic weight: an
// instance at this EWMA latency contributes a neutral 1.0.
const referenceLatencyMs = 100.0

// Instance is one upstream endpoint plus its runtime health state.
type Instance struct {
	Host     string
	Port     int
	Weight   int
	UseHTTPS bool

	inFlight atomic.Int64

	mu                   sync.Mutex
	healthy              bool
	consecutiveFailures  int
	consecutiveSuccesses int
	ewmaLatencyMs        float64
	errorRate            float64 // EWMA of failure indicator, 0..1

	breaker *gobreaker.CircuitBreaker
	client  *http.Client
}

// BaseURL returns the scheme://host:port prefix for the instance.
func (i *Instance) BaseURL() string {
	scheme := "http"
	if i.UseHTTPS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, i.Host, i.Port)
}

// Name returns the host:port identifier used in logs and metrics.
func (i *Instance) Name() string {
	return fmt.Sprintf("%s:%d", i.Host, i.Port)
}

// Healthy reports the instance's current health flag.
func (i *Instance) Healthy() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.healthy
}

// Status is the externally visible state of one instance.
type Status struct {
	Host                 string  `json:"host"`
	Port                 int     `json:"port"`
	Weight               int     `json:"weight"`
	Healthy              bool    `json:"healthy"`
	InFlight             int64   `json:"in_flight"`
	ConsecutiveFailures  int     `json:"consecutive_failures"`
	ConsecutiveSuccesses int     `json:"consecutive_successes"`
	EwmaLatencyMs        float64 `json:"ewma_latency_ms"`
	ErrorRate            float64 `json:"error_rate"`
	CircuitState         string  `json:"circuit_state"`
	EffectiveWeight      float64 `json:"effective_weight"`
}

// Pool balances requests across configured instances.
type Pool struct {
	name       string
	algorithm  string
	failover   bool
	minHealthy int
	probePath  string

	failureThreshold int
	successThreshold int

	instances []*Instance
	rr        atomic.Uint64
}

// New builds a pool from configuration. probePath is the HTTP path the
// health prober requests (e.g. "/healthz").
func New(name string, poolCfg *config.PoolConfig, healthCfg *config.HealthConfig, probePath string) *Pool {
	p := &Pool{
		name:             name,
		algorithm:        poolCfg.Algorithm,
		failover:         poolCfg.EnableFailover,
		minHealthy:       poolCfg.MinHealthyInstances,
		probePath:        probePath,
		failureThreshold: healthCfg.ConsecutiveFailureThreshold,
		successThreshold: healthCfg.ConsecutiveSuccessThreshold,
	}
	transportTimeout := poolCfg.ConnectionTimeout.D()
	requestTimeout := poolCfg.RequestTimeout.D()

	for _, ic := range poolCfg.Instances {
		inst := &Instance{
			Host:     ic.Host,
			Port:     ic.Port,
			Weight:   ic.Weight,
			UseHTTPS: ic.UseHTTPS,
			healthy:  true,
		}
		if inst.Weight <= 0 {
			inst.Weight = 100
		}
		inst.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name + "/" + inst.Name(),
			Timeout: healthCfg.RecoveryInterval.D(),
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(healthCfg.ConsecutiveFailureThreshold)
			},
		})
		inst.client = &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   transportTimeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConnsPerHost: poolCfg.MaxConnectionsPerInstance,
				MaxConnsPerHost:     poolCfg.MaxConnectionsPerInstance,
				IdleConnTimeout:     90 * time.Second,
			},
		}
		p.instances = append(p.instances, inst)
	}
	return p
}

// Name returns the pool's name.
func (p *Pool) Name() string { return p.name }

// Instances returns the configured instances (fixed after construction).
func (p *Pool) Instances() []*Instance { return p.instances }

// Pick selects an instance for the next request. Instances that are
// unhealthy or whose circuit is open are skipped; an open-circuit instance
// is only handed out for gobreaker's own half-open probes, which flow
// through Do, never through Pick.
func (p *Pool) Pick() (*Instance, error) {
	candidates := p.usable()
	if len(candidates) == 0 {
		return nil, ErrNoHealthyInstances
	}

	switch p.algorithm {
	case "round_robin":
		return candidates[p.rr.Add(1)%uint64(len(candidates))], nil
	case "weighted_by_health":
		return pickWeighted(candidates, effectiveWeight), nil
	default: // weighted_round_robin
		return pickWeighted(candidates, func(i *Instance) float64 {
			return float64(i.Weight)
		}), nil
	}
}

// Do executes an HTTP request against a selected instance through its
// circuit breaker, recording latency and health transitions. On failure
// with failover enabled, the request builder is retried once per remaining
// usable instance.
//
// build receives the instance base URL and must return a fresh request.
func (p *Pool) Do(build func(baseURL string) (*http.Request, error)) (*http.Response, error) {
	tried := make(map[*Instance]bool)
	attempts := len(p.instances)
	if !p.failover {
		attempts = 1
	}

	var lastErr error
	for a := 0; a < attempts; a++ {
		inst, err := p.pickExcluding(tried)
		if err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}
		tried[inst] = true

		resp, err := p.doOn(inst, build)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (p *Pool) doOn(inst *Instance, build func(string) (*http.Request, error)) (*http.Response, error) {
	req, err := build(inst.BaseURL())
	if err != nil {
		return nil, err
	}

	inst.inFlight.Add(1)
	defer inst.inFlight.Add(-1)

	start := time.Now()
	result, err := inst.breaker.Execute(func() (any, error) {
		resp, err := inst.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return nil, fmt.Errorf("upstream %s returned %d", inst.Name(), resp.StatusCode)
		}
		return resp, nil
	})
	latency := time.Since(start)

	if err != nil {
		p.RecordFailure(inst)
		return nil, fmt.Errorf("request to %s failed: %w", inst.Name(), err)
	}
	p.RecordSuccess(inst, latency)
	return result.(*http.Response), nil
}

// RecordSuccess updates instance state after a successful request or probe.
// Request-path successes count toward recovery the same way probes do.
func (p *Pool) RecordSuccess(inst *Instance, latency time.Duration) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.consecutiveFailures = 0
	inst.consecutiveSuccesses++
	inst.ewmaLatencyMs = ewma(inst.ewmaLatencyMs, float64(latency.Milliseconds()), 0.2)
	inst.errorRate = ewma(inst.errorRate, 0, 0.1)
	if !inst.healthy && inst.consecutiveSuccesses >= p.successThreshold {
		inst.healthy = true
	}
}

// RecordFailure updates instance state after a failed request or probe.
// Returns true when this failure transitioned the instance to unhealthy.
func (p *Pool) RecordFailure(inst *Instance) bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.consecutiveSuccesses = 0
	inst.consecutiveFailures++
	inst.errorRate = ewma(inst.errorRate, 1, 0.1)
	if inst.healthy && inst.consecutiveFailures >= p.failureThreshold {
		inst.healthy = false
		return true
	}
	return false
}

// usable returns healthy instances whose circuit is not open.
func (p *Pool) usable() []*Instance {
	out := make([]*Instance, 0, len(p.instances))
	for _, inst := range p.instances {
		inst.mu.Lock()
		healthy := inst.healthy
		inst.mu.Unlock()
		if healthy && inst.breaker.State() != gobreaker.StateOpen {
			out = append(out, inst)
		}
	}
	return out
}

func (p *Pool) pickExcluding(excluded map[*Instance]bool) (*Instance, error) {
	candidates := make([]*Instance, 0, len(p.instances))
	for _, inst := range p.usable() {
		if !excluded[inst] {
			candidates = append(candidates, inst)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoHealthyInstances
	}
	switch p.algorithm {
	case "round_robin":
		return candidates[p.rr.Add(1)%uint64(len(candidates))], nil
	case "weighted_by_health":
		return pickWeighted(candidates, effectiveWeight), nil
	default:
		return pickWeighted(candidates, func(i *Instance) float64 { return float64(i.Weight) }), nil
	}
}

// Degraded reports whether the pool has fewer healthy instances than the
// configured hard floor.
func (p *Pool) Degraded() bool {
	return len(p.usable()) < p.minHealthy
}

// HealthyCount returns the number of currently usable instances.
func (p *Pool) HealthyCount() int { return len(p.usable()) }

// Statuses snapshots every instance's state for metrics and dashboards.
func (p *Pool) Statuses() []Status {
	out := make([]Status, 0, len(p.instances))
	for _, inst := range p.instances {
		inst.mu.Lock()
		s := Status{
			Host:                 inst.Host,
			Port:                 inst.Port,
			Weight:               inst.Weight,
			Healthy:              inst.healthy,
			InFlight:             inst.inFlight.Load(),
			ConsecutiveFailures:  inst.consecutiveFailures,
			ConsecutiveSuccesses: inst.consecutiveSuccesses,
			EwmaLatencyMs:        inst.ewmaLatencyMs,
			ErrorRate:            inst.errorRate,
			CircuitState:         inst.breaker.State().String(),
			EffectiveWeight:      effectiveWeight(inst),
		}
		inst.mu.Unlock()
		out = append(out, s)
	}
	return out
}

// effectiveWeight computes the dynamic weight for health-aware balancing:
// configured weight scaled by a monotone composition of inverse latency,
// success rate and inverse concurrency (factors 0.4/0.3/0.3), clamped to
// [0.1, 3.0]. Caller must hold inst.mu or tolerate a racy read.
func effectiveWeight(inst *Instance) float64 {
	latencyFactor := 1.0
	if inst.ewmaLatencyMs > 0 {
		latencyFactor = referenceLatencyMs / inst.ewmaLatencyMs
	}
	successFactor := 1.0 - inst.errorRate
	concurrencyFactor := 1.0 / (1.0 + float64(inst.inFlight.Load()))

	multiplier := 0.4*latencyFactor + 0.3*successFactor + 0.3*concurrencyFactor
	multiplier = math.Max(minWeightMultiplier, math.Min(maxWeightMultiplier, multiplier))
	return float64(inst.Weight) * multiplier
}

// pickWeighted selects randomly-deterministically by cumulative weight using
// a rotating counter, giving proportional selection without a RNG.
func pickWeighted(candidates []*Instance, weight func(*Instance) float64) *Instance {
	var total float64
	weights := make([]float64, len(candidates))
	for i, inst := range candidates {
		w := weight(inst)
		if w <= 0 {
			w = minWeightMultiplier
		}
		weights[i] = w
		total += w
	}
	if total == 0 {
		return candidates[0]
	}
	// Spread selections over the weight space with a shared counter.
	var counter = pickCounter.Add(1)
	point := math.Mod(float64(counter)*goldenRatio, 1.0) * total
	for i, w := range weights {
		point -= w
		if point < 0 {
			return candidates[i]
		}
	}
	return candidates[len(candidates)-1]
}

// goldenRatio conjugate gives a low-discrepancy sequence over (0,1).
const goldenRatio = 0.6180339887498949

var pickCounter atomic.Uint64

// ewma folds a sample into an exponentially weighted moving average.
func ewma(current, sample, alpha float64) float64 {
	if current == 0 {
		return sample
	}
	return alpha*sample + (1-alpha)*current
}
