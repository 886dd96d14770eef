package llm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sentinel",
		Subsystem: "llm",
		Name:      "call_duration_seconds",
		Help:      "LLM analysis call latency per model.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"model"})

	callTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "llm",
		Name:      "calls_total",
		Help:      "LLM analysis calls per model and outcome.",
	}, []string{"model", "outcome"})

	tokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "llm",
		Name:      "tokens_total",
		Help:      "Token usage per model and direction.",
	}, []string{"model", "direction"})
)

func recordCall(model string, elapsed time.Duration, ok bool) {
	callLatency.WithLabelValues(model).Observe(elapsed.Seconds())
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	callTotal.WithLabelValues(model, outcome).Inc()
}

func recordTokens(model string, prompt, completion int) {
	if prompt > 0 {
		tokensTotal.WithLabelValues(model, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		tokensTotal.WithLabelValues(model, "completion").Add(float64(completion))
	}
}
