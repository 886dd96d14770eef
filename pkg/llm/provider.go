package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/sentinelsec/sentinel/pkg/config"
	"github.com/sentinelsec/sentinel/pkg/models"
)

const systemPrompt = `You are a security event analyst. Classify the event and respond with ONLY a JSON object of this exact shape:
{"risk_level":"Critical|High|Medium|Low","confidence":0-100,"threat_classification":"...","mitre_techniques":["T...."],"recommended_actions":["..."],"reasoning":"..."}
No prose, no markdown fences.`

const repairPrompt = `Your previous answer was not valid JSON of the required shape. Respond again with ONLY the JSON object, nothing else.`

// providerClient is the base layer: one chat model over HTTP.
type providerClient struct {
	cfg    config.LLMModelConfig
	apiKey string
	client *http.Client
	repair bool // when set, BuildPrompt appends the repair instruction
}

// newProviderClient builds the base client for a model entry.
func newProviderClient(cfg config.LLMModelConfig) *providerClient {
	return &providerClient{
		cfg:    cfg,
		apiKey: os.Getenv(cfg.APIKeyEnv),
		client: &http.Client{Timeout: cfg.Timeout.D()},
	}
}

func (p *providerClient) ModelID() string { return p.cfg.Provider + "/" + p.cfg.Name }

func (p *providerClient) Analyze(ctx context.Context, req *Request) (*Analysis, error) {
	content, err := p.chat(ctx, BuildPrompt(req))
	if err != nil {
		return nil, err
	}
	return parseAnalysis(content)
}

// analyzeWithRepair re-asks with the narrowed repair prompt. Used by the
// strict-JSON layer for its single repair attempt.
func (p *providerClient) analyzeWithRepair(ctx context.Context, req *Request) (*Analysis, error) {
	content, err := p.chat(ctx, BuildPrompt(req)+"\n\n"+repairPrompt)
	if err != nil {
		return nil, err
	}
	return parseAnalysis(content)
}

func (p *providerClient) chat(ctx context.Context, userPrompt string) (string, error) {
	var url string
	var body any
	messages := []map[string]string{
		{"role": "system", "content": systemPrompt},
		{"role": "user", "content": userPrompt},
	}

	if p.cfg.Provider == "ollama" {
		url = strings.TrimRight(p.cfg.BaseURL, "/") + "/api/chat"
		body = map[string]any{
			"model":    p.cfg.Name,
			"messages": messages,
			"stream":   false,
			"format":   "json",
		}
	} else {
		url = strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/chat/completions"
		body = map[string]any{
			"model":           p.cfg.Name,
			"messages":        messages,
			"response_format": map[string]string{"type": "json_object"},
		}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", ErrUnavailable, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: provider returned %d", ErrUnavailable, resp.StatusCode)
	}

	if p.cfg.Provider == "ollama" {
		var parsed struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return "", fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
		}
		return parsed.Message.Content, nil
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", ErrUnavailable)
	}
	recordTokens(p.ModelID(), parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens)
	return parsed.Choices[0].Message.Content, nil
}

// BuildPrompt renders the analyzer input: the event's canonical form plus
// the retrieved neighbors. Deterministic — it doubles as the cache key body.
func BuildPrompt(req *Request) string {
	var b strings.Builder
	b.WriteString("Event:\n")
	b.WriteString(models.CanonicalText(req.Event))
	fmt.Fprintf(&b, "\nevent_type=%s risk=%s confidence=%d",
		req.Event.EventType, req.Event.RiskLevel, req.Event.Confidence)
	if len(req.Neighbors) > 0 {
		b.WriteString("\n\nSimilar past events:\n")
		for _, n := range req.Neighbors {
			fmt.Fprintf(&b, "- [%.2f] %s (%s)\n", n.Similarity, n.Summary, n.RiskLevel)
		}
	}
	return b.String()
}

// parseAnalysis decodes the model output, tolerating markdown fences that
// slip through despite the instructions.
func parseAnalysis(content string) (*Analysis, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var a Analysis
	if err := json.Unmarshal([]byte(content), &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}
