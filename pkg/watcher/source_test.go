package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelsec/sentinel/pkg/config"
)

func TestCompileFilter(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		eventID int
		match   bool
		wantErr bool
	}{
		{name: "empty matches all", expr: "", eventID: 4625, match: true},
		{name: "star matches all", expr: "*", eventID: 1, match: true},
		{name: "single id match", expr: "*[System[(EventID=4625)]]", eventID: 4625, match: true},
		{name: "single id miss", expr: "*[System[(EventID=4625)]]", eventID: 4624, match: false},
		{name: "or list", expr: "*[System[(EventID=4624 or EventID=4625)]]", eventID: 4624, match: true},
		{name: "unsupported filter", expr: "*[System[Level=2]]", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := compileFilter(tt.expr)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrFilterInvalid))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.match, f.match(tt.eventID))
		})
	}
}

func TestTokenRoundTrip(t *testing.T) {
	assert.Equal(t, int64(12345), ParseToken(FormatToken(12345)))
	assert.Equal(t, int64(0), ParseToken(""))
	assert.Equal(t, int64(0), ParseToken("garbage"))
	assert.Equal(t, int64(0), ParseToken("-5"))
}

func TestFileSource_ReadsRecordsAndSkipsUnparseable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "security.jsonl")
	content := `{"event_id":4625,"time_created":"2024-01-15T10:30:00Z","host":"WIN-SERVER01","xml":"<Event/>","user":"administrator","source_ip":"203.0.113.45"}
not valid json
{"event_id":4624,"time_created":"2024-01-15T10:31:00Z","host":"WIN-SERVER01","xml":"<Event/>"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	src := NewFileSource()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	items, err := src.Subscribe(ctx, config.ChannelConfig{Name: "Security", Path: path}, "")
	require.NoError(t, err)

	first := <-items
	require.NotNil(t, first.Record)
	assert.Equal(t, 4625, first.Record.EventID)
	assert.Equal(t, "WIN-SERVER01", first.Record.Host)
	assert.Equal(t, "administrator", first.Record.User)
	assert.NotEmpty(t, first.Record.BookmarkToken)

	second := <-items
	assert.Nil(t, second.Record)
	assert.Error(t, second.ParseErr)

	third := <-items
	require.NotNil(t, third.Record)
	assert.Equal(t, 4624, third.Record.EventID)
	assert.Greater(t, ParseToken(third.Record.BookmarkToken), ParseToken(first.Record.BookmarkToken))
}

func TestFileSource_ResumesFromBookmark(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "security.jsonl")
	line1 := `{"event_id":1,"time_created":"2024-01-15T10:30:00Z","host":"h","xml":"<a/>"}` + "\n"
	line2 := `{"event_id":2,"time_created":"2024-01-15T10:31:00Z","host":"h","xml":"<b/>"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(line1+line2), 0o644))

	src := NewFileSource()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Resume after the first line: only event 2 should arrive.
	items, err := src.Subscribe(ctx, config.ChannelConfig{Name: "c", Path: path},
		FormatToken(int64(len(line1))))
	require.NoError(t, err)

	item := <-items
	require.NotNil(t, item.Record)
	assert.Equal(t, 2, item.Record.EventID)
}

func TestFileSource_FilterApplied(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "security.jsonl")
	content := `{"event_id":1,"time_created":"2024-01-15T10:30:00Z","host":"h","xml":"<a/>"}
{"event_id":4625,"time_created":"2024-01-15T10:31:00Z","host":"h","xml":"<b/>"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	src := NewFileSource()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	items, err := src.Subscribe(ctx, config.ChannelConfig{
		Name: "Security", Path: path,
		XPathFilter: "*[System[(EventID=4625)]]",
	}, "")
	require.NoError(t, err)

	item := <-items
	require.NotNil(t, item.Record)
	assert.Equal(t, 4625, item.Record.EventID, "filtered ids are skipped silently")
}

func TestFileSource_MissingFileIsUnavailable(t *testing.T) {
	src := NewFileSource()
	_, err := src.Subscribe(context.Background(),
		config.ChannelConfig{Name: "c", Path: "/nonexistent/file.jsonl"}, "")
	assert.True(t, errors.Is(err, ErrChannelUnavailable))
}
