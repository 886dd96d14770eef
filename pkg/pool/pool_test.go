package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelsec/sentinel/pkg/config"
)

func testPool(instances ...config.InstanceConfig) *Pool {
	poolCfg := config.DefaultPoolConfig()
	poolCfg.Instances = instances
	return New("test", poolCfg, config.DefaultHealthConfig(), "/healthz")
}

func TestPool_FailoverScenario(t *testing.T) {
	// Two instances A(weight 100) and B(weight 80), both healthy.
	p := testPool(
		config.InstanceConfig{Host: "a", Port: 6333, Weight: 100},
		config.InstanceConfig{Host: "b", Port: 6333, Weight: 80},
	)
	a := p.Instances()[0]
	require.True(t, a.Healthy())

	// Three consecutive failures transition A to Unhealthy.
	p.RecordFailure(a)
	p.RecordFailure(a)
	assert.True(t, a.Healthy(), "below the threshold A stays healthy")
	transitioned := p.RecordFailure(a)
	assert.True(t, transitioned)
	assert.False(t, a.Healthy())

	// Selection now routes to B only.
	for i := 0; i < 10; i++ {
		inst, err := p.Pick()
		require.NoError(t, err)
		assert.Equal(t, "b", inst.Host)
	}

	// Two consecutive successful probes return A to rotation.
	p.RecordSuccess(a, 10*time.Millisecond)
	assert.False(t, a.Healthy())
	p.RecordSuccess(a, 10*time.Millisecond)
	assert.True(t, a.Healthy())

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		inst, err := p.Pick()
		require.NoError(t, err)
		seen[inst.Host] = true
	}
	assert.True(t, seen["a"] && seen["b"], "both instances back in rotation")
}

func TestPool_NoHealthyInstances(t *testing.T) {
	p := testPool(config.InstanceConfig{Host: "a", Port: 1, Weight: 1})
	a := p.Instances()[0]
	for i := 0; i < 3; i++ {
		p.RecordFailure(a)
	}
	_, err := p.Pick()
	assert.ErrorIs(t, err, ErrNoHealthyInstances)
	assert.True(t, p.Degraded())
}

func TestPool_WeightedSelectionFavorsHeavier(t *testing.T) {
	p := testPool(
		config.InstanceConfig{Host: "heavy", Port: 1, Weight: 300},
		config.InstanceConfig{Host: "light", Port: 1, Weight: 100},
	)
	counts := map[string]int{}
	for i := 0; i < 400; i++ {
		inst, err := p.Pick()
		require.NoError(t, err)
		counts[inst.Host]++
	}
	assert.Greater(t, counts["heavy"], counts["light"])
}

func TestEffectiveWeight_Clamped(t *testing.T) {
	inst := &Instance{Weight: 100, healthy: true}

	// Pristine instance: all factors neutral → base weight.
	w := effectiveWeight(inst)
	assert.InDelta(t, 100.0, w, 1.0)

	// Terrible latency, error rate and concurrency clamp at the floor
	// multiplier.
	inst.ewmaLatencyMs = 100000
	inst.errorRate = 1.0
	inst.inFlight.Store(10000)
	w = effectiveWeight(inst)
	assert.GreaterOrEqual(t, w, 100*minWeightMultiplier-1e-9)
	assert.Less(t, w, 100*0.2)

	// Stellar latency clamps at the ceiling multiplier.
	fast := &Instance{Weight: 100, healthy: true}
	fast.ewmaLatencyMs = 0.001
	w = effectiveWeight(fast)
	assert.LessOrEqual(t, w, 100*maxWeightMultiplier+1e-9)
}

func TestPool_DefaultWeightApplied(t *testing.T) {
	p := testPool(config.InstanceConfig{Host: "a", Port: 1})
	assert.Equal(t, 100, p.Instances()[0].Weight)
}
