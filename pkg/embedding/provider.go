// Package embedding turns the canonical text of an event into a dense
// vector via a pluggable provider, cache-first with semantic alias hits and
// single-flight deduplication.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/sentinelsec/sentinel/pkg/config"
)

var (
	// ErrProvider marks transient provider failures (retryable).
	ErrProvider = errors.New("embedding provider error")

	// ErrInvalidInput marks non-transient input failures (not retried).
	ErrInvalidInput = errors.New("invalid embedding input")
)

// Provider computes embeddings for normalized text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
}

// httpProvider speaks the Ollama or OpenAI embeddings HTTP API.
type httpProvider struct {
	provider string
	baseURL  string
	model    string
	apiKey   string
	client   *http.Client
}

// NewProvider builds the configured embeddings provider.
func NewProvider(cfg *config.EmbeddingConfig) (Provider, error) {
	switch cfg.Provider {
	case "ollama", "openai":
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.Provider)
	}
	return &httpProvider{
		provider: cfg.Provider,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		model:    cfg.Model,
		apiKey:   os.Getenv(cfg.APIKeyEnv),
		client:   &http.Client{Timeout: cfg.Timeout.D()},
	}, nil
}

func (p *httpProvider) Name() string { return p.provider + "/" + p.model }

func (p *httpProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", ErrInvalidInput)
	}

	var url string
	var body any
	if p.provider == "ollama" {
		url = p.baseURL + "/api/embeddings"
		body = map[string]any{"model": p.model, "prompt": text}
	} else {
		url = p.baseURL + "/v1/embeddings"
		body = map[string]any{"model": p.model, "input": text}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, fmt.Errorf("%w: provider returned %d", ErrInvalidInput, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: provider returned %d", ErrProvider, resp.StatusCode)
	}

	if p.provider == "ollama" {
		var parsed struct {
			Embedding []float32 `json:"embedding"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, fmt.Errorf("%w: decode: %v", ErrProvider, err)
		}
		return parsed.Embedding, nil
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrProvider, err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("%w: empty embedding response", ErrProvider)
	}
	return parsed.Data[0].Embedding, nil
}
