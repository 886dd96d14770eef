package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sentinelsec/sentinel/pkg/cache"
	"github.com/sentinelsec/sentinel/pkg/config"
)

// Service is the cache-first embedding stage.
//
// Lookup order: exact hash hit → provider call (single-flight) → semantic
// alias check against cached vectors. The semantic check runs after the
// provider produced a candidate vector, because the alias decision needs the
// prospective embedding to compare against; a qualifying cached vector is
// reused and the candidate discarded, keeping equal inputs stable.
type Service struct {
	provider  Provider
	cache     *cache.Cache
	ttl       time.Duration
	dimension int
	sim       float64
}

// NewService creates the embedding service.
func NewService(provider Provider, c *cache.Cache, cacheCfg *config.CacheConfig, dimension int) *Service {
	return &Service{
		provider:  provider,
		cache:     c,
		ttl:       cacheCfg.EmbeddingTTL.D(),
		dimension: dimension,
		sim:       cacheCfg.SimilarityThreshold,
	}
}

// Embed returns the vector for normalized text. Transient provider failures
// are retried with jittered backoff; InvalidInput is returned immediately.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	key := textKey(text)

	if v, ok := s.cache.Get(cache.KeyspaceEmbedding, key); ok {
		return v.([]float32), nil
	}

	v, err := s.cache.Do(cache.KeyspaceEmbedding, key, func() (any, error) {
		// Re-check: a concurrent flight may have populated the cache while
		// this caller was queued on the flight group.
		if v, ok := s.cache.Get(cache.KeyspaceEmbedding, key); ok {
			return v, nil
		}

		var vec []float32
		operation := func() error {
			var embedErr error
			vec, embedErr = s.provider.Embed(ctx, text)
			if embedErr != nil {
				if isInvalidInput(embedErr) {
					return backoff.Permanent(embedErr)
				}
				return embedErr
			}
			return nil
		}
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 200 * time.Millisecond
		b.Multiplier = 2
		b.MaxInterval = 5 * time.Second
		if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, 4), ctx)); err != nil {
			return nil, err
		}

		if s.dimension > 0 && len(vec) != s.dimension {
			return nil, fmt.Errorf("%w: provider returned dimension %d, deployment fixed at %d",
				ErrInvalidInput, len(vec), s.dimension)
		}

		// Semantic alias: an existing cached vector close enough to the
		// fresh one is reused so near-duplicate texts share one embedding.
		if cached, _, ok := s.cache.GetSimilar(cache.KeyspaceEmbedding, vec); ok {
			vec = cached.([]float32)
		}

		s.cache.Put(cache.KeyspaceEmbedding, key, vec, cache.PutOptions{
			TTL:        s.ttl,
			SlidingTTL: true,
			Vector:     vec,
		})
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// ProviderName names the configured provider for health reporting.
func (s *Service) ProviderName() string { return s.provider.Name() }

func isInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

func textKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
