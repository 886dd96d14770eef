package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// BookmarkRepository persists per-channel log-watcher bookmarks.
type BookmarkRepository struct {
	db *sql.DB
}

// NewBookmarkRepository creates a BookmarkRepository on the shared handle.
func NewBookmarkRepository(db *sql.DB) *BookmarkRepository {
	return &BookmarkRepository{db: db}
}

// Get returns the persisted token for a channel, or "" when none exists.
func (r *BookmarkRepository) Get(ctx context.Context, channel string) (string, error) {
	var token string
	err := r.db.QueryRowContext(ctx,
		`SELECT token FROM bookmarks WHERE channel = $1`, channel).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read bookmark: %w", err)
	}
	return token, nil
}

// Set upserts the bookmark for a channel.
func (r *BookmarkRepository) Set(ctx context.Context, channel, token string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bookmarks (channel, token, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (channel) DO UPDATE SET token = $2, updated_at = $3`,
		channel, token, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to write bookmark: %w", err)
	}
	return nil
}
