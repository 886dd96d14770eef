package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalText_Normalization(t *testing.T) {
	e := &SecurityEvent{
		Channel: "Security",
		EventID: 4625,
		Host:    "WIN-SERVER01",
		User:    "SYSTEM\\Administrator",
		Summary: "Failed   account\tlogon",
	}
	got := CanonicalText(e)
	assert.Equal(t, "security|4625|win-server01|system\\administrator|||failed account logon", got)
}

func TestCanonicalText_WhitespaceOnlyDifferenceIsEqual(t *testing.T) {
	a := &SecurityEvent{Channel: "Security", EventID: 1, Host: "h", Summary: "a  b   c"}
	b := &SecurityEvent{Channel: "Security", EventID: 1, Host: "h", Summary: " a b c "}

	assert.Equal(t, CanonicalText(a), CanonicalText(b))
	assert.Equal(t, CanonicalKey(a), CanonicalKey(b))
}

func TestCanonicalText_CaseInsensitive(t *testing.T) {
	a := &SecurityEvent{Channel: "SECURITY", EventID: 1, Host: "Host-A"}
	b := &SecurityEvent{Channel: "security", EventID: 1, Host: "host-a"}
	assert.Equal(t, CanonicalKey(a), CanonicalKey(b))
}

func TestRiskLevel_MaxIsMonotonic(t *testing.T) {
	assert.Equal(t, RiskHigh, RiskLow.Max(RiskHigh))
	assert.Equal(t, RiskHigh, RiskHigh.Max(RiskLow))
	assert.Equal(t, RiskCritical, RiskHigh.Max(RiskCritical))
	assert.Equal(t, RiskMedium, RiskMedium.Max(RiskMedium))
}

func TestDedupKey_StablePerTuple(t *testing.T) {
	rec := func() *RawRecord {
		return &RawRecord{
			Channel:    "Security",
			EventID:    4625,
			Host:       "WIN-SERVER01",
			XMLPayload: "<Event/>",
		}
	}
	a, b := rec(), rec()
	assert.Equal(t, a.DedupKey(), b.DedupKey())

	b.XMLPayload = "<Event>changed</Event>"
	assert.NotEqual(t, a.DedupKey(), b.DedupKey())
}
