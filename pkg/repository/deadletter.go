package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// DeadLetter is one diverted event awaiting operator attention or requeue.
type DeadLetter struct {
	ID            int64           `json:"id"`
	Payload       json.RawMessage `json:"payload"`
	Reason        string          `json:"reason"`
	Attempts      int             `json:"attempts"`
	FirstFailedAt time.Time       `json:"first_failed_at"`
	LastAttemptAt time.Time       `json:"last_attempt_at"`
}

// DeadLetterRepository persists events whose writes exhausted their retries.
type DeadLetterRepository struct {
	db *sql.DB
}

// NewDeadLetterRepository creates a DeadLetterRepository on the shared handle.
func NewDeadLetterRepository(db *sql.DB) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

// Add diverts a payload into the dead-letter queue.
func (r *DeadLetterRepository) Add(ctx context.Context, payload any, reason string, attempts int) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter payload: %w", err)
	}
	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO dead_letters (payload, reason, attempts, first_failed_at, last_attempt_at)
		VALUES ($1, $2, $3, $4, $4)`,
		raw, reason, attempts, now)
	if err != nil {
		return fmt.Errorf("failed to insert dead letter: %w", err)
	}
	return nil
}

// List returns dead letters, oldest first.
func (r *DeadLetterRepository) List(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, payload, reason, attempts, first_failed_at, last_attempt_at
		FROM dead_letters ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var d DeadLetter
		if err := rows.Scan(&d.ID, &d.Payload, &d.Reason, &d.Attempts,
			&d.FirstFailedAt, &d.LastAttemptAt); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Delete removes a dead letter after successful requeue.
func (r *DeadLetterRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete dead letter: %w", err)
	}
	return requireRow(res)
}

// Touch bumps the attempt counter after a failed requeue.
func (r *DeadLetterRepository) Touch(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE dead_letters SET attempts = attempts + 1, last_attempt_at = $1 WHERE id = $2`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to touch dead letter: %w", err)
	}
	return nil
}
