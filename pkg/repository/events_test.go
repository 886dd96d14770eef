package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sentinelsec/sentinel/pkg/models"
)

func TestEventFilter_WhereClause(t *testing.T) {
	from := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	tests := []struct {
		name     string
		filter   EventFilter
		contains []string
		argCount int
	}{
		{
			name:     "empty filter",
			filter:   EventFilter{},
			argCount: 0,
		},
		{
			name:     "time range",
			filter:   EventFilter{From: &from, To: &to},
			contains: []string{`"timestamp" >= $1`, `"timestamp" <= $2`},
			argCount: 2,
		},
		{
			name:     "risk and type",
			filter:   EventFilter{RiskLevel: models.RiskHigh, EventType: models.EventTypeAuthFailure},
			contains: []string{"risk_level = $1", "event_type = $2"},
			argCount: 2,
		},
		{
			name:     "host user ip",
			filter:   EventFilter{Host: "h", User: "u", SourceIP: "1.2.3.4"},
			contains: []string{"host = $1", `"user" = $2`, "source_ip = $3"},
			argCount: 3,
		},
		{
			name:     "full text",
			filter:   EventFilter{Text: "lsass"},
			contains: []string{"plainto_tsquery"},
			argCount: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := tt.filter.whereClause()
			assert.Len(t, args, tt.argCount)
			if tt.argCount == 0 {
				assert.Empty(t, where)
				return
			}
			assert.Contains(t, where, " WHERE ")
			for _, fragment := range tt.contains {
				assert.Contains(t, where, fragment)
			}
		})
	}
}

func TestNullStr(t *testing.T) {
	assert.False(t, nullStr("").Valid)
	assert.True(t, nullStr("x").Valid)
}

func TestSliceOrEmpty(t *testing.T) {
	assert.NotNil(t, sliceOrEmpty(nil))
	assert.Equal(t, []string{"a"}, sliceOrEmpty([]string{"a"}))
}
