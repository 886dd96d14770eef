package llm

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/sentinelsec/sentinel/pkg/config"
	"github.com/sentinelsec/sentinel/pkg/models"
)

// Ensemble runs multiple model chains and combines their answers with the
// configured voting strategy and confidence aggregation. It satisfies the
// same Analyzer contract as a single model.
type Ensemble struct {
	members   []member
	parallel  bool
	voting    string
	conf      string
	minQuorum int
}

type member struct {
	analyzer Analyzer
	weight   float64
}

type memberResult struct {
	analysis *Analysis
	weight   float64
	modelID  string
}

// NewEnsemble builds the ensemble from configured models.
func NewEnsemble(cfg *config.LLMConfig) *Ensemble {
	e := &Ensemble{
		parallel:  cfg.Parallel,
		voting:    cfg.Voting,
		conf:      cfg.Confidence,
		minQuorum: cfg.MinQuorum,
	}
	for _, mc := range cfg.Models {
		weight := mc.Weight
		if weight <= 0 {
			weight = 1
		}
		e.members = append(e.members, member{
			analyzer: buildModelChain(mc, cfg),
			weight:   weight,
		})
	}
	return e
}

// ModelID identifies the ensemble in logs and cache keys.
func (e *Ensemble) ModelID() string {
	ids := make([]string, 0, len(e.members))
	for _, m := range e.members {
		ids = append(ids, m.analyzer.ModelID())
	}
	sort.Strings(ids)
	id := "ensemble"
	for _, s := range ids {
		id += "+" + s
	}
	return id
}

// Analyze runs the members and votes. Quorum shortfall falls back to the
// highest-weight single response; total failure returns ErrUnavailable so
// the pipeline degrades to the deterministic classification.
func (e *Ensemble) Analyze(ctx context.Context, req *Request) (*Analysis, error) {
	if len(e.members) == 0 {
		return nil, ErrUnavailable
	}
	if len(e.members) == 1 {
		return e.members[0].analyzer.Analyze(ctx, req)
	}

	results := e.collect(ctx, req)
	if len(results) == 0 {
		return nil, ErrUnavailable
	}

	if len(results) < e.minQuorum {
		// Quorum shortfall: highest-weight successful response wins.
		slog.Warn("LLM ensemble quorum shortfall, using highest-weight response",
			"responses", len(results), "min_quorum", e.minQuorum)
		best := results[0]
		for _, r := range results[1:] {
			if r.weight > best.weight {
				best = r
			}
		}
		// Non-nil analysis with ErrQuorum means usable-but-degraded; the
		// caller decides whether to keep it.
		return best.analysis, ErrQuorum
	}

	winner, ok := e.vote(results)
	if !ok {
		// Unanimous required but members disagreed.
		return nil, ErrQuorum
	}
	// Copy so the member's own result is not overwritten.
	out := *winner
	out.Confidence = e.aggregateConfidence(results)
	return &out, nil
}

func (e *Ensemble) collect(ctx context.Context, req *Request) []memberResult {
	if !e.parallel {
		var out []memberResult
		for _, m := range e.members {
			if a, err := m.analyzer.Analyze(ctx, req); err == nil {
				out = append(out, memberResult{analysis: a, weight: m.weight, modelID: m.analyzer.ModelID()})
			}
		}
		return out
	}

	var mu sync.Mutex
	var out []memberResult
	var wg sync.WaitGroup
	for _, m := range e.members {
		wg.Add(1)
		go func(m member) {
			defer wg.Done()
			a, err := m.analyzer.Analyze(ctx, req)
			if err != nil {
				slog.Debug("Ensemble member failed", "model", m.analyzer.ModelID(), "error", err)
				return
			}
			mu.Lock()
			out = append(out, memberResult{analysis: a, weight: m.weight, modelID: m.analyzer.ModelID()})
			mu.Unlock()
		}(m)
	}
	wg.Wait()
	return out
}

// vote picks the winning analysis by risk level, the ensemble's categorical
// field. Ties break toward the highest-weighted model.
func (e *Ensemble) vote(results []memberResult) (*Analysis, bool) {
	switch e.voting {
	case "unanimous":
		first := results[0].analysis.RiskLevel
		for _, r := range results[1:] {
			if r.analysis.RiskLevel != first {
				return nil, false
			}
		}
		return pickHeaviest(results), true

	case "majority":
		counts := make(map[models.RiskLevel]int)
		for _, r := range results {
			counts[r.analysis.RiskLevel]++
		}
		best := 0
		for _, n := range counts {
			if n > best {
				best = n
			}
		}
		// The mode wins; among tied modes the heaviest model decides.
		var tied []memberResult
		for _, r := range results {
			if counts[r.analysis.RiskLevel] == best {
				tied = append(tied, r)
			}
		}
		return pickHeaviest(tied), true

	default: // weighted
		sums := make(map[models.RiskLevel]float64)
		for _, r := range results {
			sums[r.analysis.RiskLevel] += r.weight
		}
		var best float64
		for _, w := range sums {
			if w > best {
				best = w
			}
		}
		// Among levels tied on summed weight the heaviest model decides.
		var winners []memberResult
		for _, r := range results {
			if sums[r.analysis.RiskLevel] == best {
				winners = append(winners, r)
			}
		}
		return pickHeaviest(winners), true
	}
}

func (e *Ensemble) aggregateConfidence(results []memberResult) int {
	values := make([]float64, 0, len(results))
	var weightedSum, weightTotal float64
	for _, r := range results {
		v := float64(r.analysis.Confidence)
		values = append(values, v)
		weightedSum += v * r.weight
		weightTotal += r.weight
	}
	sort.Float64s(values)

	var out float64
	switch e.conf {
	case "min":
		out = values[0]
	case "max":
		out = values[len(values)-1]
	case "median":
		mid := len(values) / 2
		if len(values)%2 == 0 {
			out = (values[mid-1] + values[mid]) / 2
		} else {
			out = values[mid]
		}
	case "mean":
		var sum float64
		for _, v := range values {
			sum += v
		}
		out = sum / float64(len(values))
	default: // weighted_mean
		out = weightedSum / weightTotal
	}
	return int(out + 0.5)
}

func pickHeaviest(results []memberResult) *Analysis {
	best := results[0]
	for _, r := range results[1:] {
		if r.weight > best.weight {
			best = r
		}
	}
	return best.analysis
}
