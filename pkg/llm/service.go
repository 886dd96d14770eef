package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/sentinelsec/sentinel/pkg/cache"
	"github.com/sentinelsec/sentinel/pkg/config"
)

// highConfidenceFloor is the confidence at which a cached response earns the
// extended TTL; at or below lowConfidenceCeiling the shortened one applies.
const (
	highConfidenceFloor  = 80
	lowConfidenceCeiling = 40
)

// Service is the top of the analyzer stack: the ensemble (or single model
// chain) behind the llm_response cache with confidence-scaled TTLs.
type Service struct {
	analyzer Analyzer
	cache    *cache.Cache
	cfg      *config.LLMConfig
	baseTTL  time.Duration
}

// NewService assembles the analyzer from configuration. Returns nil when
// the stage is disabled.
func NewService(cfg *config.LLMConfig, c *cache.Cache, cacheCfg *config.CacheConfig) *Service {
	if !cfg.Enabled || len(cfg.Models) == 0 {
		return nil
	}
	var analyzer Analyzer
	if len(cfg.Models) == 1 {
		analyzer = buildModelChain(cfg.Models[0], cfg)
	} else {
		analyzer = NewEnsemble(cfg)
	}
	return &Service{
		analyzer: analyzer,
		cache:    c,
		cfg:      cfg,
		baseTTL:  cacheCfg.LLMResponseTTL.D(),
	}
}

// Analyze classifies the event, cache-first. A quorum-shortfall result is
// returned with ErrQuorum alongside the usable analysis so the caller can
// mark the event degraded; all other errors mean no analysis.
func (s *Service) Analyze(ctx context.Context, req *Request) (*Analysis, error) {
	key := s.cacheKey(req)
	if v, ok := s.cache.Get(cache.KeyspaceLLMResponse, key); ok {
		return v.(*Analysis), nil
	}

	v, err := s.cache.Do(cache.KeyspaceLLMResponse, key, func() (any, error) {
		if v, ok := s.cache.Get(cache.KeyspaceLLMResponse, key); ok {
			return v, nil
		}
		analysis, err := s.analyzer.Analyze(ctx, req)
		if err != nil && !errors.Is(err, ErrQuorum) {
			return nil, err
		}
		if analysis == nil {
			return nil, err
		}
		s.cache.Put(cache.KeyspaceLLMResponse, key, analysis, cache.PutOptions{
			TTL: s.ttlFor(analysis),
		})
		if err != nil {
			// Propagate the degraded marker without losing the result.
			return analysis, err
		}
		return analysis, nil
	})
	if v == nil {
		return nil, err
	}
	return v.(*Analysis), err
}

// ModelID names the configured analyzer stack.
func (s *Service) ModelID() string { return s.analyzer.ModelID() }

// ttlFor scales the cache TTL by confidence: high-confidence responses live
// longer, low-confidence ones expire quickly.
func (s *Service) ttlFor(a *Analysis) time.Duration {
	switch {
	case a.Confidence >= highConfidenceFloor:
		return s.cfg.CacheTTLHighConfidence.D()
	case a.Confidence <= lowConfidenceCeiling:
		return s.cfg.CacheTTLLowConfidence.D()
	default:
		return s.baseTTL
	}
}

// cacheKey hashes the canonical prompt together with the model stack id.
func (s *Service) cacheKey(req *Request) string {
	h := sha256.New()
	h.Write([]byte(BuildPrompt(req)))
	h.Write([]byte{0})
	h.Write([]byte(s.analyzer.ModelID()))
	return hex.EncodeToString(h.Sum(nil))
}
