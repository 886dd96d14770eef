// Package correlation consumes persisted security events off the hot path
// and emits higher-order incidents: windowed pattern matching per key with a
// model-scored confidence blend, duplicate suppression, and monotonic risk
// upgrades for participants.
package correlation

import (
	"math"
	"time"

	"github.com/sentinelsec/sentinel/pkg/models"
)

// featureVector is the 8-feature projection of a candidate event window
// scored by the anomaly model.
type featureVector struct {
	EventRate       float64 // events per minute over the window span
	RiskMix         float64 // mean risk rank, normalized to 0..1
	UniqueHosts     float64
	UniqueUsers     float64
	UniqueProcesses float64
	FailureRatio    float64 // AuthenticationFailure share of the window
	TimeSpan        float64 // window span in minutes
	OffHours        float64 // 1 when the newest event falls outside 07:00–19:00
}

// modelWeights is the fixed-weight logistic model. The spec pins only the
// contract (a calibrated 0..1 score over these eight features); the weights
// below were chosen so that dense, failure-heavy, multi-host bursts at night
// score high while sparse business-hours activity scores low.
var modelWeights = featureVector{
	EventRate:       0.35,
	RiskMix:         1.6,
	UniqueHosts:     0.30,
	UniqueUsers:     0.20,
	UniqueProcesses: 0.10,
	FailureRatio:    1.4,
	TimeSpan:        -0.02,
	OffHours:        0.6,
}

const modelBias = -2.0

// extractFeatures computes the feature vector for a window of events.
func extractFeatures(events []*models.SecurityEvent) featureVector {
	if len(events) == 0 {
		return featureVector{}
	}

	hosts := make(map[string]bool)
	users := make(map[string]bool)
	procs := make(map[string]bool)
	failures := 0
	var riskSum float64

	oldest, newest := events[0].Timestamp, events[0].Timestamp
	for _, e := range events {
		hosts[e.Host] = true
		if e.User != "" {
			users[e.User] = true
		}
		if e.Process != "" {
			procs[e.Process] = true
		}
		if e.EventType == models.EventTypeAuthFailure {
			failures++
		}
		riskSum += float64(e.RiskLevel.Rank())
		if e.Timestamp.Before(oldest) {
			oldest = e.Timestamp
		}
		if e.Timestamp.After(newest) {
			newest = e.Timestamp
		}
	}

	span := newest.Sub(oldest)
	spanMinutes := span.Minutes()
	rate := float64(len(events))
	if spanMinutes > 0 {
		rate = float64(len(events)) / spanMinutes
	}

	hour := newest.Hour()
	offHours := 0.0
	if hour < 7 || hour >= 19 {
		offHours = 1.0
	}

	return featureVector{
		EventRate:       rate,
		RiskMix:         riskSum / float64(len(events)) / 4.0,
		UniqueHosts:     float64(len(hosts)),
		UniqueUsers:     float64(len(users)),
		UniqueProcesses: float64(len(procs)),
		FailureRatio:    float64(failures) / float64(len(events)),
		TimeSpan:        spanMinutes,
		OffHours:        offHours,
	}
}

// score runs the logistic model over a feature vector, yielding 0..1.
func (f featureVector) score() float64 {
	z := modelBias +
		modelWeights.EventRate*f.EventRate +
		modelWeights.RiskMix*f.RiskMix +
		modelWeights.UniqueHosts*f.UniqueHosts +
		modelWeights.UniqueUsers*f.UniqueUsers +
		modelWeights.UniqueProcesses*f.UniqueProcesses +
		modelWeights.FailureRatio*f.FailureRatio +
		modelWeights.TimeSpan*f.TimeSpan +
		modelWeights.OffHours*f.OffHours
	return 1.0 / (1.0 + math.Exp(-z))
}

// blendConfidence combines a rule's raw confidence with the model score at
// the configured weight (model share).
func blendConfidence(ruleConfidence, modelScore, modelWeight float64) float64 {
	blended := (1-modelWeight)*ruleConfidence + modelWeight*modelScore
	return math.Max(0, math.Min(1, blended))
}

// windowSpan is a small helper for evaluators needing the span of a window.
func windowSpan(events []*models.SecurityEvent) time.Duration {
	if len(events) < 2 {
		return 0
	}
	oldest, newest := events[0].Timestamp, events[0].Timestamp
	for _, e := range events {
		if e.Timestamp.Before(oldest) {
			oldest = e.Timestamp
		}
		if e.Timestamp.After(newest) {
			newest = e.Timestamp
		}
	}
	return newest.Sub(oldest)
}
