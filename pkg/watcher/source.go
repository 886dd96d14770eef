// Package watcher tails OS event-log channels with durable bookmarks and
// at-least-once delivery into the pipeline. OS-specific subscribers plug in
// behind the Source interface; the in-tree implementation follows
// newline-delimited event-log export files.
package watcher

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sentinelsec/sentinel/pkg/config"
	"github.com/sentinelsec/sentinel/pkg/models"
)

var (
	// ErrChannelUnavailable marks a retryable subscription failure.
	ErrChannelUnavailable = errors.New("channel unavailable")

	// ErrPermissionDenied is fatal for the channel; other channels continue.
	ErrPermissionDenied = errors.New("channel permission denied")

	// ErrFilterInvalid is fatal for the channel.
	ErrFilterInvalid = errors.New("channel filter invalid")
)

// Source produces raw records for one channel subscription. The stream
// closes when the context is cancelled or the subscription drops; the
// watcher resubscribes from the persisted bookmark.
type Source interface {
	Subscribe(ctx context.Context, ch config.ChannelConfig, fromToken string) (<-chan SourceItem, error)
}

// SourceItem is one record or a parse failure from the subscription.
type SourceItem struct {
	Record   *models.RawRecord
	ParseErr error // set instead of Record for unparseable input
}

// eventIDPattern extracts EventID equality terms from the channel's XPath
// filter. Only the (EventID=N or EventID=M) terms are honored; a non-empty
// filter with no EventID term is rejected as invalid, and other terms next
// to EventID terms are ignored.
var eventIDPattern = regexp.MustCompile(`EventID\s*=\s*(\d+)`)

// filter is the compiled form of an XPath filter.
type filter struct {
	eventIDs map[int]bool // empty = match all
}

func compileFilter(expr string) (*filter, error) {
	f := &filter{eventIDs: make(map[int]bool)}
	expr = strings.TrimSpace(expr)
	if expr == "" || expr == "*" {
		return f, nil
	}
	matches := eventIDPattern.FindAllStringSubmatch(expr, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrFilterInvalid, expr)
	}
	for _, m := range matches {
		id, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrFilterInvalid, expr)
		}
		f.eventIDs[id] = true
	}
	return f, nil
}

func (f *filter) match(eventID int) bool {
	return len(f.eventIDs) == 0 || f.eventIDs[eventID]
}

// fileRecord is the on-disk JSON-lines form of one exported event record.
type fileRecord struct {
	EventID     int       `json:"event_id"`
	TimeCreated time.Time `json:"time_created"`
	Host        string    `json:"host"`
	XML         string    `json:"xml"`

	User          string `json:"user,omitempty"`
	SourceIP      string `json:"source_ip,omitempty"`
	DestIP        string `json:"dest_ip,omitempty"`
	Process       string `json:"process,omitempty"`
	CommandLine   string `json:"command_line,omitempty"`
	ParentProcess string `json:"parent_process,omitempty"`
}

// FileSource tails append-only export files, one per channel. Bookmark
// tokens are "<offset>" strings: the byte offset after the record's line.
type FileSource struct {
	pollInterval time.Duration
}

// NewFileSource creates a file-tail source.
func NewFileSource() *FileSource {
	return &FileSource{pollInterval: 500 * time.Millisecond}
}

// Subscribe opens the channel's file at the bookmark offset and streams
// records. The returned channel closes on context cancellation or a read
// error (the watcher resubscribes).
func (s *FileSource) Subscribe(ctx context.Context, ch config.ChannelConfig, fromToken string) (<-chan SourceItem, error) {
	if ch.Path == "" {
		return nil, fmt.Errorf("%w: channel %s has no path", ErrChannelUnavailable, ch.Name)
	}
	flt, err := compileFilter(ch.XPathFilter)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(ch.Path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s: %v", ErrPermissionDenied, ch.Path, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrChannelUnavailable, ch.Path, err)
	}

	offset := ParseToken(fromToken)
	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("%w: seek to bookmark: %v", ErrChannelUnavailable, err)
		}
	}

	// The bounded per-channel queue: the tail goroutine blocks when the
	// consumer falls this far behind (the default overflow policy).
	queueSize := ch.MaxQueue
	if queueSize <= 0 {
		queueSize = 5000
	}
	out := make(chan SourceItem, queueSize)
	go s.tail(ctx, ch, file, offset, flt, out)
	return out, nil
}

func (s *FileSource) tail(ctx context.Context, ch config.ChannelConfig, file *os.File, offset int64, flt *filter, out chan<- SourceItem) {
	defer close(out)
	defer file.Close()

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return // read failure — watcher resubscribes
			}
			// At EOF: wait for appends, keeping any partial line buffered.
			if line == "" {
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.pollInterval):
					continue
				}
			}
			// Partial line without newline: wait for the rest.
			if _, seekErr := file.Seek(offset, io.SeekStart); seekErr != nil {
				return
			}
			reader.Reset(file)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.pollInterval):
				continue
			}
		}

		offset += int64(len(line))
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var raw fileRecord
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			// Unparseable record: surface the parse error and advance past
			// its bookmark.
			item := SourceItem{ParseErr: fmt.Errorf("channel %s offset %d: %w", ch.Name, offset, err)}
			select {
			case out <- item:
			case <-ctx.Done():
				return
			}
			continue
		}
		if !flt.match(raw.EventID) {
			continue
		}

		rec := &models.RawRecord{
			Channel:       ch.Name,
			EventID:       raw.EventID,
			TimeCreated:   raw.TimeCreated,
			XMLPayload:    raw.XML,
			Host:          raw.Host,
			BookmarkToken: FormatToken(offset),
			User:          raw.User,
			SourceIP:      raw.SourceIP,
			DestIP:        raw.DestIP,
			Process:       raw.Process,
			CommandLine:   raw.CommandLine,
			ParentProcess: raw.ParentProcess,
		}
		select {
		case out <- SourceItem{Record: rec}:
		case <-ctx.Done():
			return
		}
	}
}

// FormatToken renders a bookmark token for a byte offset.
func FormatToken(offset int64) string {
	return strconv.FormatInt(offset, 10)
}

// ParseToken reads a bookmark token back into an offset; malformed or empty
// tokens mean start-of-stream.
func ParseToken(token string) int64 {
	if token == "" {
		return 0
	}
	offset, err := strconv.ParseInt(token, 10, 64)
	if err != nil || offset < 0 {
		return 0
	}
	return offset
}
