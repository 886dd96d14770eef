package embedding

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelsec/sentinel/pkg/cache"
	"github.com/sentinelsec/sentinel/pkg/config"
)

type fakeProvider struct {
	calls  atomic.Int32
	vector []float32
	err    error
}

func (f *fakeProvider) Embed(context.Context, string) ([]float32, error) {
	f.calls.Add(1)
	return f.vector, f.err
}
func (f *fakeProvider) Name() string { return "fake/model" }

func testService(p Provider, dim int) *Service {
	c := cache.New(cache.Options{
		MaxMemoryBytes:        1 << 20,
		PerKeyspaceMaxEntries: 100,
		SimilarityThreshold:   0.95,
		DefaultTTL:            time.Minute,
	})
	return NewService(p, c, config.DefaultCacheConfig(), dim)
}

func TestService_CacheFirstExactHit(t *testing.T) {
	p := &fakeProvider{vector: []float32{1, 2, 3}}
	s := testService(p, 3)

	v1, err := s.Embed(context.Background(), "security|4625|host")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, v1)

	// Second call for the same normalized text: no provider call.
	v2, err := s.Embed(context.Background(), "security|4625|host")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, int32(1), p.calls.Load(), "second embedding must be served from cache")
}

func TestService_SemanticAliasReusesCachedVector(t *testing.T) {
	p := &fakeProvider{vector: []float32{1, 0, 0}}
	s := testService(p, 3)

	first, err := s.Embed(context.Background(), "text one")
	require.NoError(t, err)

	// A different text whose fresh embedding is nearly identical reuses the
	// cached vector (cosine ≥ threshold).
	p.vector = []float32{0.999, 0.001, 0}
	second, err := s.Embed(context.Background(), "text two")
	require.NoError(t, err)
	assert.Equal(t, first, second, "near-duplicate embedding aliases to the cached vector")
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestService_InvalidInputNotRetried(t *testing.T) {
	p := &fakeProvider{err: ErrInvalidInput}
	s := testService(p, 3)

	_, err := s.Embed(context.Background(), "text")
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, int32(1), p.calls.Load(), "validation failures must not be retried")
}

func TestService_DimensionMismatchRejected(t *testing.T) {
	p := &fakeProvider{vector: []float32{1, 2}}
	s := testService(p, 768)

	_, err := s.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
