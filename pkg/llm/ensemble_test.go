package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelsec/sentinel/pkg/config"
	"github.com/sentinelsec/sentinel/pkg/models"
)

type fakeAnalyzer struct {
	id     string
	result *Analysis
	err    error
}

func (f *fakeAnalyzer) Analyze(context.Context, *Request) (*Analysis, error) {
	return f.result, f.err
}
func (f *fakeAnalyzer) ModelID() string { return f.id }

func analysisWith(risk models.RiskLevel, confidence int) *Analysis {
	return &Analysis{RiskLevel: risk, Confidence: confidence}
}

func testEnsemble(voting, conf string, minQuorum int, members ...member) *Ensemble {
	return &Ensemble{
		members:   members,
		parallel:  false,
		voting:    voting,
		conf:      conf,
		minQuorum: minQuorum,
	}
}

func TestEnsemble_WeightedVoting(t *testing.T) {
	e := testEnsemble("weighted", "weighted_mean", 2,
		member{analyzer: &fakeAnalyzer{id: "m1", result: analysisWith(models.RiskHigh, 90)}, weight: 1},
		member{analyzer: &fakeAnalyzer{id: "m2", result: analysisWith(models.RiskLow, 40)}, weight: 3},
		member{analyzer: &fakeAnalyzer{id: "m3", result: analysisWith(models.RiskHigh, 80)}, weight: 1},
	)
	got, err := e.Analyze(context.Background(), &Request{Event: &models.SecurityEvent{}})
	require.NoError(t, err)
	assert.Equal(t, models.RiskLow, got.RiskLevel, "weight 3 beats 1+1")
}

func TestEnsemble_MajorityVoting(t *testing.T) {
	e := testEnsemble("majority", "mean", 2,
		member{analyzer: &fakeAnalyzer{id: "m1", result: analysisWith(models.RiskHigh, 90)}, weight: 1},
		member{analyzer: &fakeAnalyzer{id: "m2", result: analysisWith(models.RiskHigh, 70)}, weight: 1},
		member{analyzer: &fakeAnalyzer{id: "m3", result: analysisWith(models.RiskLow, 50)}, weight: 5},
	)
	got, err := e.Analyze(context.Background(), &Request{Event: &models.SecurityEvent{}})
	require.NoError(t, err)
	assert.Equal(t, models.RiskHigh, got.RiskLevel, "mode wins over weight")
	assert.Equal(t, 70, got.Confidence, "mean of 90, 70, 50")
}

func TestEnsemble_UnanimousDisagreementDegrades(t *testing.T) {
	e := testEnsemble("unanimous", "mean", 2,
		member{analyzer: &fakeAnalyzer{id: "m1", result: analysisWith(models.RiskHigh, 90)}, weight: 1},
		member{analyzer: &fakeAnalyzer{id: "m2", result: analysisWith(models.RiskLow, 40)}, weight: 1},
	)
	got, err := e.Analyze(context.Background(), &Request{Event: &models.SecurityEvent{}})
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrQuorum)
}

func TestEnsemble_QuorumShortfallUsesHighestWeight(t *testing.T) {
	e := testEnsemble("weighted", "weighted_mean", 2,
		member{analyzer: &fakeAnalyzer{id: "m1", err: errors.New("down")}, weight: 5},
		member{analyzer: &fakeAnalyzer{id: "m2", result: analysisWith(models.RiskMedium, 60)}, weight: 1},
		member{analyzer: &fakeAnalyzer{id: "m3", err: errors.New("down")}, weight: 2},
	)
	got, err := e.Analyze(context.Background(), &Request{Event: &models.SecurityEvent{}})
	require.NotNil(t, got)
	assert.Equal(t, models.RiskMedium, got.RiskLevel)
	assert.ErrorIs(t, err, ErrQuorum, "shortfall is surfaced as a degraded marker")
}

func TestEnsemble_AllFailedIsUnavailable(t *testing.T) {
	e := testEnsemble("weighted", "weighted_mean", 2,
		member{analyzer: &fakeAnalyzer{id: "m1", err: ErrUnavailable}, weight: 1},
		member{analyzer: &fakeAnalyzer{id: "m2", err: ErrUnavailable}, weight: 1},
	)
	got, err := e.Analyze(context.Background(), &Request{Event: &models.SecurityEvent{}})
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestEnsemble_ConfidenceAggregation(t *testing.T) {
	members := []member{
		{analyzer: &fakeAnalyzer{id: "m1", result: analysisWith(models.RiskHigh, 90)}, weight: 3},
		{analyzer: &fakeAnalyzer{id: "m2", result: analysisWith(models.RiskHigh, 60)}, weight: 1},
		{analyzer: &fakeAnalyzer{id: "m3", result: analysisWith(models.RiskHigh, 30)}, weight: 1},
	}
	tests := []struct {
		agg  string
		want int
	}{
		{"mean", 60},
		{"median", 60},
		{"min", 30},
		{"max", 90},
		{"weighted_mean", 72}, // (90*3 + 60 + 30) / 5
	}
	for _, tt := range tests {
		t.Run(tt.agg, func(t *testing.T) {
			e := testEnsemble("weighted", tt.agg, 2, members...)
			got, err := e.Analyze(context.Background(), &Request{Event: &models.SecurityEvent{}})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Confidence)
		})
	}
}

func TestParseAnalysis(t *testing.T) {
	valid := `{"risk_level":"High","confidence":85,"threat_classification":"BruteForce","mitre_techniques":["T1110.001"],"recommended_actions":["lock account"],"reasoning":"repeated failures"}`

	a, err := parseAnalysis(valid)
	require.NoError(t, err)
	assert.Equal(t, models.RiskHigh, a.RiskLevel)
	assert.Equal(t, 85, a.Confidence)

	// Markdown fences are tolerated.
	a, err = parseAnalysis("```json\n" + valid + "\n```")
	require.NoError(t, err)
	assert.Equal(t, 85, a.Confidence)

	// Shape violations are schema errors.
	_, err = parseAnalysis(`{"risk_level":"Extreme","confidence":85}`)
	assert.ErrorIs(t, err, ErrSchema)
	_, err = parseAnalysis(`{"risk_level":"High","confidence":250}`)
	assert.ErrorIs(t, err, ErrSchema)
	_, err = parseAnalysis(`not json at all`)
	assert.ErrorIs(t, err, ErrSchema)
}

func TestBuildPrompt_Deterministic(t *testing.T) {
	req := &Request{
		Event: &models.SecurityEvent{
			Channel: "Security", EventID: 4625, Host: "WIN-SERVER01",
			EventType: models.EventTypeAuthFailure, RiskLevel: models.RiskHigh,
		},
		Neighbors: []Neighbor{{Summary: "prior failure", RiskLevel: "High", Similarity: 0.91}},
	}
	assert.Equal(t, BuildPrompt(req), BuildPrompt(req))
	assert.Contains(t, BuildPrompt(req), "prior failure")
}

func TestNewService_DisabledReturnsNil(t *testing.T) {
	cfg := config.DefaultLLMConfig()
	assert.Nil(t, NewService(cfg, nil, config.DefaultCacheConfig()))
}
