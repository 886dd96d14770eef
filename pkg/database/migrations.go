package database

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateGINIndexes creates full-text search GIN indexes for PostgreSQL.
// These enable efficient text search over event summaries and command lines.
// Kept out of the numbered migrations because CREATE INDEX IF NOT EXISTS is
// idempotent and the expression index syntax predates the migration set.
func CreateGINIndexes(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_security_events_text_gin
		ON security_events USING gin(to_tsvector('english', summary || ' ' || COALESCE(command_line, '')))`)
	if err != nil {
		return fmt.Errorf("failed to create security_events text GIN index: %w", err)
	}
	return nil
}
