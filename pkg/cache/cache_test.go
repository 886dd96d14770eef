package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache() *Cache {
	return New(Options{
		MaxMemoryBytes:        1 << 20,
		PerKeyspaceMaxEntries: 100,
		SimilarityThreshold:   0.95,
		DefaultTTL:            time.Minute,
	})
}

func TestCache_PutGet(t *testing.T) {
	c := newTestCache()
	c.Put(KeyspaceEmbedding, "k", "v", PutOptions{})

	v, ok := c.Get(KeyspaceEmbedding, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestCache_MissIncrementsCounter(t *testing.T) {
	c := newTestCache()
	_, ok := c.Get(KeyspaceEmbedding, "absent")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestCache_TTLExpiry(t *testing.T) {
	c := newTestCache()
	c.Put(KeyspaceLLMResponse, "k", "v", PutOptions{TTL: 30 * time.Millisecond})

	_, ok := c.Get(KeyspaceLLMResponse, "k")
	assert.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, ok = c.Get(KeyspaceLLMResponse, "k")
	assert.False(t, ok, "entry must not be served past created+ttl")
}

func TestCache_KeyspacesAreIsolated(t *testing.T) {
	c := newTestCache()
	c.Put(KeyspaceEmbedding, "k", "embedding", PutOptions{})
	c.Put(KeyspaceIPEnrichment, "k", "ip", PutOptions{})

	v, _ := c.Get(KeyspaceEmbedding, "k")
	assert.Equal(t, "embedding", v)
	v, _ = c.Get(KeyspaceIPEnrichment, "k")
	assert.Equal(t, "ip", v)
}

func TestCache_LRUEvictionAtKeyspaceCap(t *testing.T) {
	c := New(Options{
		MaxMemoryBytes:        1 << 20,
		PerKeyspaceMaxEntries: 3,
		DefaultTTL:            time.Minute,
	})

	for i := 0; i < 3; i++ {
		c.Put(KeyspaceEmbedding, fmt.Sprintf("k%d", i), i, PutOptions{})
	}
	// Touch k0 so k1 becomes least recently used.
	_, ok := c.Get(KeyspaceEmbedding, "k0")
	require.True(t, ok)

	c.Put(KeyspaceEmbedding, "k3", 3, PutOptions{})

	_, ok = c.Get(KeyspaceEmbedding, "k1")
	assert.False(t, ok, "least recently used entry must be evicted")
	_, ok = c.Get(KeyspaceEmbedding, "k0")
	assert.True(t, ok)
	_, ok = c.Get(KeyspaceEmbedding, "k3")
	assert.True(t, ok)
}

func TestCache_GlobalEvictionToTarget(t *testing.T) {
	c := newTestCache()
	for i := 0; i < 10; i++ {
		c.Put(KeyspaceVectorSearch, fmt.Sprintf("k%d", i), make([]byte, 1000), PutOptions{})
	}
	before := c.Stats().SizeBytes
	require.Greater(t, before, int64(5000))

	c.EvictToBytes(3000)
	assert.LessOrEqual(t, c.Stats().SizeBytes, int64(3000))
}

func TestCache_SemanticHit(t *testing.T) {
	c := newTestCache()
	base := []float32{1, 0, 0, 0}
	c.Put(KeyspaceEmbedding, "orig", "cached-value", PutOptions{Vector: base})

	// Nearly identical direction: cosine ≈ 1.
	query := []float32{0.999, 0.001, 0, 0}
	v, sim, ok := c.GetSimilar(KeyspaceEmbedding, query)
	require.True(t, ok)
	assert.Equal(t, "cached-value", v)
	assert.GreaterOrEqual(t, sim, 0.95)

	// Orthogonal vector must miss.
	_, _, ok = c.GetSimilar(KeyspaceEmbedding, []float32{0, 1, 0, 0})
	assert.False(t, ok)
}

func TestCache_SemanticHitCountsAsHit(t *testing.T) {
	c := newTestCache()
	c.Put(KeyspaceEmbedding, "orig", "v", PutOptions{Vector: []float32{1, 0}})

	_, _, ok := c.GetSimilar(KeyspaceEmbedding, []float32{1, 0})
	require.True(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.SemanticHits)
}

func TestCache_InvalidateAndClear(t *testing.T) {
	c := newTestCache()
	c.Put(KeyspaceEmbedding, "a", 1, PutOptions{})
	c.Put(KeyspaceLLMResponse, "b", 2, PutOptions{})

	c.Invalidate(KeyspaceEmbedding, "a")
	_, ok := c.Get(KeyspaceEmbedding, "a")
	assert.False(t, ok)

	c.Clear("")
	_, ok = c.Get(KeyspaceLLMResponse, "b")
	assert.False(t, ok)
	assert.Equal(t, int64(0), c.Stats().SizeBytes)
}

func TestCache_SingleFlight(t *testing.T) {
	c := newTestCache()
	var calls atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Do(KeyspaceEmbedding, "key", func() (any, error) {
				calls.Add(1)
				time.Sleep(20 * time.Millisecond)
				return "result", nil
			})
			assert.NoError(t, err)
			assert.Equal(t, "result", v)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load(), "concurrent callers must share one flight")
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 2}), "dimension mismatch")
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}), "zero vector")
}
