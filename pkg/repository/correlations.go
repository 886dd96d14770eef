package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelsec/sentinel/pkg/models"
)

// CorrelationRepository persists correlations and their event links.
type CorrelationRepository struct {
	db *sql.DB
}

// NewCorrelationRepository creates a CorrelationRepository on the shared handle.
func NewCorrelationRepository(db *sql.DB) *CorrelationRepository {
	return &CorrelationRepository{db: db}
}

// Insert writes a correlation and its event links in one transaction.
func (r *CorrelationRepository) Insert(ctx context.Context, c *models.Correlation) error {
	mitre, err := json.Marshal(sliceOrEmpty(c.MitreTechniques))
	if err != nil {
		return fmt.Errorf("failed to marshal mitre techniques: %w", err)
	}
	var meta any
	if c.Metadata != nil {
		meta, err = json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO correlations (id, type, confidence, risk_level, pattern,
			mitre_techniques, detected_at, time_window_seconds, matched_rule, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		c.ID, c.Type, c.Confidence, c.RiskLevel, c.Pattern, mitre,
		c.DetectedAt, int64(c.TimeWindow.Seconds()), c.MatchedRule, meta)
	if err != nil {
		return fmt.Errorf("failed to insert correlation: %w", err)
	}

	for _, eventID := range c.EventIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO correlation_events (correlation_id, event_id)
			VALUES ($1, $2) ON CONFLICT DO NOTHING`, c.ID, eventID); err != nil {
			return fmt.Errorf("failed to link correlation event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit correlation: %w", err)
	}
	return nil
}

// CorrelationFilter selects correlations for Query.
type CorrelationFilter struct {
	From          *time.Time
	To            *time.Time
	Type          models.CorrelationType
	MinConfidence float64
	Limit         int
}

// Query returns correlations matching the filter, newest first.
func (r *CorrelationRepository) Query(ctx context.Context, f CorrelationFilter) ([]*models.Correlation, error) {
	query := `SELECT id, type, confidence, risk_level, pattern, mitre_techniques,
		detected_at, time_window_seconds, matched_rule, metadata FROM correlations WHERE 1=1`
	var args []any
	if f.From != nil {
		args = append(args, *f.From)
		query += fmt.Sprintf(" AND detected_at >= $%d", len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		query += fmt.Sprintf(" AND detected_at <= $%d", len(args))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if f.MinConfidence > 0 {
		args = append(args, f.MinConfidence)
		query += fmt.Sprintf(" AND confidence >= $%d", len(args))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY detected_at DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query correlations: %w", err)
	}
	defer rows.Close()

	var out []*models.Correlation
	for rows.Next() {
		c, err := scanCorrelation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, c := range out {
		if err := r.loadEventIDs(ctx, c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Statistics summarizes stored correlations by type and confidence.
type Statistics struct {
	Total         int                            `json:"total"`
	ByType        map[models.CorrelationType]int `json:"by_type"`
	AvgConfidence float64                        `json:"avg_confidence"`
	LastDetected  *time.Time                     `json:"last_detected,omitempty"`
}

// Stats aggregates correlation statistics at the store layer.
func (r *CorrelationRepository) Stats(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{ByType: make(map[models.CorrelationType]int)}

	rows, err := r.db.QueryContext(ctx,
		`SELECT type, COUNT(*), AVG(confidence), MAX(detected_at) FROM correlations GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate correlation stats: %w", err)
	}
	defer rows.Close()

	var weightedSum float64
	for rows.Next() {
		var t models.CorrelationType
		var count int
		var avg sql.NullFloat64
		var last sql.NullTime
		if err := rows.Scan(&t, &count, &avg, &last); err != nil {
			return nil, fmt.Errorf("failed to scan correlation stats: %w", err)
		}
		stats.ByType[t] = count
		stats.Total += count
		weightedSum += avg.Float64 * float64(count)
		if last.Valid && (stats.LastDetected == nil || last.Time.After(*stats.LastDetected)) {
			ts := last.Time
			stats.LastDetected = &ts
		}
	}
	if stats.Total > 0 {
		stats.AvgConfidence = weightedSum / float64(stats.Total)
	}
	return stats, rows.Err()
}

// DeleteOlderThan removes correlations past retention; links cascade.
func (r *CorrelationRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM correlations WHERE detected_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old correlations: %w", err)
	}
	return res.RowsAffected()
}

func (r *CorrelationRepository) loadEventIDs(ctx context.Context, c *models.Correlation) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT event_id FROM correlation_events WHERE correlation_id = $1`, c.ID)
	if err != nil {
		return fmt.Errorf("failed to load correlation events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan event id: %w", err)
		}
		c.EventIDs = append(c.EventIDs, id)
	}
	return rows.Err()
}

func scanCorrelation(rows *sql.Rows) (*models.Correlation, error) {
	var c models.Correlation
	var mitre, meta []byte
	var windowSeconds int64
	if err := rows.Scan(&c.ID, &c.Type, &c.Confidence, &c.RiskLevel, &c.Pattern,
		&mitre, &c.DetectedAt, &windowSeconds, &c.MatchedRule, &meta); err != nil {
		return nil, fmt.Errorf("failed to scan correlation: %w", err)
	}
	c.TimeWindow = time.Duration(windowSeconds) * time.Second
	if len(mitre) > 0 {
		if err := json.Unmarshal(mitre, &c.MitreTechniques); err != nil {
			return nil, fmt.Errorf("failed to unmarshal mitre techniques: %w", err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &c.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &c, nil
}
