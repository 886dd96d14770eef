package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/sentinelsec/sentinel/pkg/config"
)

// resilientClient wraps an analyzer with retry/backoff, a circuit breaker
// and a hard timeout. Schema errors pass through untouched — retrying the
// same malformed-output model wastes the budget; that is the strict-JSON
// layer's job.
type resilientClient struct {
	inner       Analyzer
	breaker     *gobreaker.CircuitBreaker
	maxAttempts int
	base        time.Duration
	timeout     time.Duration
}

func newResilientClient(inner Analyzer, cfg *config.LLMConfig, timeout time.Duration) *resilientClient {
	return &resilientClient{
		inner: inner,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    inner.ModelID(),
			Timeout: cfg.BreakerCoolOff.D(),
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(cfg.BreakerFailureCount)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("LLM circuit state change", "model", name, "from", from.String(), "to", to.String())
			},
		}),
		maxAttempts: cfg.MaxAttempts,
		base:        cfg.BackoffBase.D(),
		timeout:     timeout,
	}
}

func (r *resilientClient) ModelID() string { return r.inner.ModelID() }

func (r *resilientClient) Analyze(ctx context.Context, req *Request) (*Analysis, error) {
	result, err := r.breaker.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		var analysis *Analysis
		operation := func() error {
			var callErr error
			analysis, callErr = r.inner.Analyze(callCtx, req)
			if callErr != nil {
				if errors.Is(callErr, ErrSchema) {
					return backoff.Permanent(callErr)
				}
				return callErr
			}
			return nil
		}

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = r.base
		b.Multiplier = 2
		b.MaxInterval = 5 * time.Second
		policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.maxAttempts-1)), callCtx)
		if err := backoff.Retry(operation, policy); err != nil {
			return nil, err
		}
		return analysis, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, errors.Join(ErrUnavailable, err)
		}
		return nil, err
	}
	return result.(*Analysis), nil
}

// strictJSONClient enforces the output schema with exactly one repair
// attempt on violation, then gives up with ErrSchema.
type strictJSONClient struct {
	inner    Analyzer
	provider *providerClient // repair needs the narrowed-prompt path
}

func newStrictJSONClient(inner Analyzer, provider *providerClient) *strictJSONClient {
	return &strictJSONClient{inner: inner, provider: provider}
}

func (s *strictJSONClient) ModelID() string { return s.inner.ModelID() }

func (s *strictJSONClient) Analyze(ctx context.Context, req *Request) (*Analysis, error) {
	analysis, err := s.inner.Analyze(ctx, req)
	if err == nil {
		return analysis, nil
	}
	if !errors.Is(err, ErrSchema) {
		return nil, err
	}

	slog.Debug("LLM schema violation, attempting repair", "model", s.ModelID())
	analysis, repairErr := s.provider.analyzeWithRepair(ctx, req)
	if repairErr != nil {
		if errors.Is(repairErr, ErrSchema) {
			return nil, repairErr
		}
		return nil, errors.Join(err, repairErr)
	}
	return analysis, nil
}

// telemetryClient records latency and outcome for every analysis call.
type telemetryClient struct {
	inner Analyzer
}

func newTelemetryClient(inner Analyzer) *telemetryClient {
	return &telemetryClient{inner: inner}
}

func (t *telemetryClient) ModelID() string { return t.inner.ModelID() }

func (t *telemetryClient) Analyze(ctx context.Context, req *Request) (*Analysis, error) {
	start := time.Now()
	analysis, err := t.inner.Analyze(ctx, req)
	recordCall(t.ModelID(), time.Since(start), err == nil)
	return analysis, err
}

// buildModelChain assembles the per-model decorator chain, innermost first:
// provider → resilient → strict-JSON → telemetry.
func buildModelChain(modelCfg config.LLMModelConfig, cfg *config.LLMConfig) Analyzer {
	timeout := modelCfg.Timeout.D()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	provider := newProviderClient(modelCfg)
	var chain Analyzer = provider
	chain = newResilientClient(chain, cfg, timeout)
	chain = newStrictJSONClient(chain, provider)
	chain = newTelemetryClient(chain)
	return chain
}
