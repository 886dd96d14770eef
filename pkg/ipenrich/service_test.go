package ipenrich

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sentinelsec/sentinel/pkg/cache"
	"github.com/sentinelsec/sentinel/pkg/config"
)

func testService(cfg *config.IPEnrichConfig) *Service {
	c := cache.New(cache.Options{
		MaxMemoryBytes:        1 << 20,
		PerKeyspaceMaxEntries: 100,
		DefaultTTL:            time.Minute,
	})
	return New(cfg, c, config.DefaultCacheConfig())
}

func TestEnrich_SkipsPrivateAndSpecialAddresses(t *testing.T) {
	s := testService(config.DefaultIPEnrichConfig())
	for _, ip := range []string{
		"10.0.0.1", "192.168.1.5", "172.16.3.4", // private
		"127.0.0.1",      // loopback
		"169.254.1.1",    // link-local
		"0.0.0.0",        // unspecified
		"not-an-address", // unparseable
		"",               // empty
	} {
		result := s.Enrich(context.Background(), ip)
		assert.False(t, result.Known, "address %q must resolve to Unknown", ip)
		assert.False(t, result.IsHighRisk)
	}
}

func TestEnrich_NoDatabasesYieldsUnknown(t *testing.T) {
	s := testService(config.DefaultIPEnrichConfig())
	result := s.Enrich(context.Background(), "203.0.113.45")
	assert.Equal(t, "203.0.113.45", result.IP)
	assert.False(t, result.Known)
}

func TestEnrich_ResultIsCached(t *testing.T) {
	s := testService(config.DefaultIPEnrichConfig())
	first := s.Enrich(context.Background(), "203.0.113.45")
	second := s.Enrich(context.Background(), "203.0.113.45")
	assert.Same(t, first, second, "second lookup must come from cache")
}

func TestHighRiskScoring(t *testing.T) {
	cfg := config.DefaultIPEnrichConfig()
	cfg.HighRiskCountries = []string{"kp"}
	cfg.HighRiskASNs = []uint{64500}
	s := testService(cfg)

	assert.True(t, s.highRiskCountries["KP"], "country codes normalize to upper case")
	assert.True(t, s.highRiskASNs[64500])
}
