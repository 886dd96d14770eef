// Package ipenrich resolves source addresses to geo/ASN context with
// high-risk scoring. Lookups are local (MaxMind databases on disk) with an
// optional rate-limited remote fallback; results are cached and failures
// degrade to Unknown without ever blocking the pipeline.
package ipenrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/oschwald/geoip2-golang"
	"golang.org/x/time/rate"

	"github.com/sentinelsec/sentinel/pkg/cache"
	"github.com/sentinelsec/sentinel/pkg/config"
	"github.com/sentinelsec/sentinel/pkg/models"
)

// Service performs IP enrichment.
type Service struct {
	cityDB *geoip2.Reader // nil when not configured
	asnDB  *geoip2.Reader // nil when not configured

	highRiskCountries map[string]bool
	highRiskASNs      map[uint]bool

	remoteURL string
	limiter   *rate.Limiter
	client    *http.Client

	cache *cache.Cache
	ttl   time.Duration
}

// New opens the configured databases and builds the service. Missing
// database files are logged and skipped; the service still answers (Unknown
// or remote-resolved).
func New(cfg *config.IPEnrichConfig, c *cache.Cache, cacheCfg *config.CacheConfig) *Service {
	s := &Service{
		highRiskCountries: make(map[string]bool, len(cfg.HighRiskCountries)),
		highRiskASNs:      make(map[uint]bool, len(cfg.HighRiskASNs)),
		remoteURL:         cfg.RemoteURL,
		client:            &http.Client{Timeout: cfg.Timeout.D()},
		cache:             c,
		ttl:               cacheCfg.IPEnrichmentTTL.D(),
	}
	for _, country := range cfg.HighRiskCountries {
		s.highRiskCountries[strings.ToUpper(country)] = true
	}
	for _, asn := range cfg.HighRiskASNs {
		s.highRiskASNs[asn] = true
	}
	if cfg.RemoteRatePerMin > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RemoteRatePerMin)/60.0), cfg.RemoteRatePerMin)
	}

	if cfg.CityDBPath != "" {
		db, err := geoip2.Open(cfg.CityDBPath)
		if err != nil {
			slog.Warn("City database unavailable, geo fields will be empty",
				"path", cfg.CityDBPath, "error", err)
		} else {
			s.cityDB = db
		}
	}
	if cfg.ASNDBPath != "" {
		db, err := geoip2.Open(cfg.ASNDBPath)
		if err != nil {
			slog.Warn("ASN database unavailable, ASN fields will be empty",
				"path", cfg.ASNDBPath, "error", err)
		} else {
			s.asnDB = db
		}
	}
	return s
}

// Close releases the database readers.
func (s *Service) Close() {
	if s.cityDB != nil {
		_ = s.cityDB.Close()
	}
	if s.asnDB != nil {
		_ = s.asnDB.Close()
	}
}

// Enrich resolves one address. Private, loopback and link-local addresses
// are skipped; any failure returns an Unknown enrichment, never an error.
func (s *Service) Enrich(ctx context.Context, ipStr string) *models.IPEnrichment {
	unknown := &models.IPEnrichment{IP: ipStr, Known: false}
	if ipStr == "" {
		return unknown
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return unknown
	}
	if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return unknown
	}

	if v, ok := s.cache.Get(cache.KeyspaceIPEnrichment, ipStr); ok {
		return v.(*models.IPEnrichment)
	}

	result := s.lookupLocal(ip, ipStr)
	if !result.Known && s.remoteURL != "" {
		if remote := s.lookupRemote(ctx, ipStr); remote != nil {
			result = remote
		}
	}
	result.IsHighRisk = s.highRiskCountries[strings.ToUpper(result.Country)] || s.highRiskASNs[result.ASN]

	s.cache.Put(cache.KeyspaceIPEnrichment, ipStr, result, cache.PutOptions{TTL: s.ttl})
	return result
}

func (s *Service) lookupLocal(ip net.IP, ipStr string) *models.IPEnrichment {
	result := &models.IPEnrichment{IP: ipStr}
	if s.cityDB != nil {
		if city, err := s.cityDB.City(ip); err == nil {
			result.Country = city.Country.IsoCode
			result.City = city.City.Names["en"]
			result.Known = result.Country != ""
		}
	}
	if s.asnDB != nil {
		if asn, err := s.asnDB.ASN(ip); err == nil {
			result.ASN = asn.AutonomousSystemNumber
			result.Organization = asn.AutonomousSystemOrganization
			if result.ASN != 0 {
				result.Known = true
			}
		}
	}
	return result
}

// lookupRemote consults the optional HTTP provider under the per-minute
// rate limit. Timeouts and errors return nil (caller keeps Unknown).
func (s *Service) lookupRemote(ctx context.Context, ipStr string) *models.IPEnrichment {
	if s.limiter != nil && !s.limiter.Allow() {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/%s", strings.TrimRight(s.remoteURL, "/"), ipStr), nil)
	if err != nil {
		return nil
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var parsed struct {
		CountryCode string `json:"countryCode"`
		City        string `json:"city"`
		AS          string `json:"as"`
		Org         string `json:"org"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil
	}

	result := &models.IPEnrichment{
		IP:           ipStr,
		Country:      parsed.CountryCode,
		City:         parsed.City,
		Organization: parsed.Org,
		Known:        parsed.CountryCode != "",
	}
	// "AS15169 Google LLC" → 15169
	if strings.HasPrefix(parsed.AS, "AS") {
		var asn uint
		if _, err := fmt.Sscanf(parsed.AS, "AS%d", &asn); err == nil {
			result.ASN = asn
		}
	}
	return result
}
