// Package vectorstore implements the embedding store client: a Qdrant-
// compatible HTTP API spoken through the load-balanced instance pool, with
// batched upserts, filtered similarity search and a retention sweep.
package vectorstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/sentinelsec/sentinel/pkg/cache"
	"github.com/sentinelsec/sentinel/pkg/config"
	"github.com/sentinelsec/sentinel/pkg/pool"
)

// Point is one stored embedding. The ID equals the SecurityEvent ID (1:1);
// the payload carries event_type, risk_level and timestamp for server-side
// filtering.
type Point struct {
	ID       uuid.UUID         `json:"id"`
	Vector   []float32         `json:"vector"`
	Metadata map[string]string `json:"metadata"`
}

// SearchResult is one similarity hit.
type SearchResult struct {
	ID         uuid.UUID         `json:"id"`
	Similarity float64           `json:"similarity"`
	Metadata   map[string]string `json:"metadata"`
}

// Client talks to the vector store through the instance pool.
type Client struct {
	pool         *pool.Pool
	cfg          *config.VectorConfig
	cache        *cache.Cache
	searchTTL    time.Duration
	simThreshold float64
}

// NewClient creates a vector store client. cache may be nil to disable the
// search cache.
func NewClient(p *pool.Pool, cfg *config.VectorConfig, c *cache.Cache, cacheCfg *config.CacheConfig) *Client {
	cl := &Client{
		pool:  p,
		cfg:   cfg,
		cache: c,
	}
	if cacheCfg != nil {
		cl.searchTTL = cacheCfg.VectorSearchTTL.D()
		cl.simThreshold = cacheCfg.SimilarityThreshold
	}
	return cl
}

// EnsureCollection asserts the collection exists at startup, creating it
// (fixed vector size, cosine distance) when auto-create is enabled. A
// missing collection with auto-create disabled is fatal for the subsystem.
func (c *Client) EnsureCollection(ctx context.Context) error {
	resp, err := c.pool.Do(func(baseURL string) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s/collections/%s", baseURL, c.cfg.Collection), nil)
	})
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	if resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("unexpected status %d checking collection %s", resp.StatusCode, c.cfg.Collection)
	}
	if !c.cfg.AutoCreate() {
		return fmt.Errorf("collection %s missing and auto-create disabled", c.cfg.Collection)
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     c.cfg.Dimension,
			"distance": "Cosine",
		},
	}
	resp2, err := c.pool.Do(func(baseURL string) (*http.Request, error) {
		return c.jsonRequest(ctx, http.MethodPut,
			fmt.Sprintf("%s/collections/%s", baseURL, c.cfg.Collection), body)
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		return fmt.Errorf("collection create returned %d", resp2.StatusCode)
	}
	slog.Info("Vector collection created",
		"collection", c.cfg.Collection,
		"dimension", c.cfg.Dimension)
	return nil
}

// UpsertBatch writes a batch of points, retrying transient failures with
// backoff inside the configured batch-processing timeout. Instance failover
// happens inside the pool per attempt.
func (c *Client) UpsertBatch(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	qdrantPoints := make([]map[string]any, 0, len(points))
	for _, p := range points {
		qdrantPoints = append(qdrantPoints, map[string]any{
			"id":      p.ID.String(),
			"vector":  p.Vector,
			"payload": p.Metadata,
		})
	}
	body := map[string]any{"points": qdrantPoints}

	opCtx, cancel := context.WithTimeout(ctx, c.cfg.BatchProcessingTimeout.D())
	defer cancel()

	operation := func() error {
		resp, err := c.pool.Do(func(baseURL string) (*http.Request, error) {
			return c.jsonRequest(opCtx, http.MethodPut,
				fmt.Sprintf("%s/collections/%s/points?wait=true", baseURL, c.cfg.Collection), body)
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("upsert returned %d", resp.StatusCode)
		}
		return nil
	}

	policy := backoff.WithContext(transientPolicy(), opCtx)
	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("vector upsert failed: %w", err)
	}
	return nil
}

// Search performs a similarity search, serving from the vector_search cache
// when an equivalent (or semantically near-equivalent) query is fresh.
func (c *Client) Search(ctx context.Context, query []float32, k int, minSimilarity float64) ([]SearchResult, error) {
	cacheKey := searchCacheKey(query, k, minSimilarity)
	if c.cache != nil {
		if v, ok := c.cache.Get(cache.KeyspaceVectorSearch, cacheKey); ok {
			return v.([]SearchResult), nil
		}
		if v, _, ok := c.cache.GetSimilar(cache.KeyspaceVectorSearch, query); ok {
			return v.([]SearchResult), nil
		}
	}

	body := map[string]any{
		"vector":          query,
		"limit":           k,
		"score_threshold": minSimilarity,
		"with_payload":    true,
	}
	resp, err := c.pool.Do(func(baseURL string) (*http.Request, error) {
		return c.jsonRequest(ctx, http.MethodPost,
			fmt.Sprintf("%s/collections/%s/points/search", baseURL, c.cfg.Collection), body)
	})
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer resp.Body.Close()

	var parsed struct {
		Result []struct {
			ID      string            `json:"id"`
			Score   float64           `json:"score"`
			Payload map[string]string `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	results := make([]SearchResult, 0, len(parsed.Result))
	for _, r := range parsed.Result {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			continue
		}
		results = append(results, SearchResult{ID: id, Similarity: r.Score, Metadata: r.Payload})
	}

	if c.cache != nil {
		c.cache.Put(cache.KeyspaceVectorSearch, cacheKey, results, cache.PutOptions{
			TTL:    c.searchTTL,
			Vector: query,
		})
	}
	return results, nil
}

// DeleteBefore removes points whose payload timestamp predates the cutoff.
// Driven by the retention sweep; the relational store is the authority.
func (c *Client) DeleteBefore(ctx context.Context, cutoff time.Time) error {
	body := map[string]any{
		"filter": map[string]any{
			"must": []any{
				map[string]any{
					"key":   "timestamp",
					"range": map[string]any{"lt": cutoff.UTC().Format(time.RFC3339)},
				},
			},
		},
	}
	resp, err := c.pool.Do(func(baseURL string) (*http.Request, error) {
		return c.jsonRequest(ctx, http.MethodPost,
			fmt.Sprintf("%s/collections/%s/points/delete", baseURL, c.cfg.Collection), body)
	})
	if err != nil {
		return fmt.Errorf("vector retention delete failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vector retention delete returned %d", resp.StatusCode)
	}
	return nil
}

// Healthy reports whether the pool has at least one usable instance.
func (c *Client) Healthy() bool { return c.pool.HealthyCount() > 0 }

// Degraded reports whether the pool is below its healthy floor.
func (c *Client) Degraded() bool { return c.pool.Degraded() }

func (c *Client) jsonRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	// Allow pool-level failover retries to rebuild the body.
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	}
	return req, nil
}

// transientPolicy is the shared exponential backoff for transient store
// failures: base 200ms, factor 2, jittered, capped at 5s and 5 attempts.
func transientPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 5 * time.Second
	return backoff.WithMaxRetries(b, 4)
}

// searchCacheKey hashes the query vector and parameters into a stable key.
func searchCacheKey(query []float32, k int, minSimilarity float64) string {
	h := sha256.New()
	buf := make([]byte, 4)
	for _, f := range query {
		bits := math.Float32bits(f)
		buf[0] = byte(bits)
		buf[1] = byte(bits >> 8)
		buf[2] = byte(bits >> 16)
		buf[3] = byte(bits >> 24)
		h.Write(buf)
	}
	fmt.Fprintf(h, "|%d|%.4f", k, minSimilarity)
	return hex.EncodeToString(h.Sum(nil))
}
