package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sentinelsec/sentinel/pkg/models"
)

// EventRepository persists SecurityEvents.
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository creates an EventRepository on the shared handle.
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

const eventColumns = `id, event_id, channel, event_type, risk_level, confidence,
	correlation_score, "timestamp", created_at, host, "user", source_ip, dest_ip,
	process, command_line, parent_process, mitre_techniques, summary,
	recommended_actions, detection_method, ip_enrichment, embedding_ref, notes,
	status, degraded`

// Insert writes a new event row. Returns ErrDuplicate when the dedup key
// already exists (the event was created by an earlier submit).
func (r *EventRepository) Insert(ctx context.Context, e *models.SecurityEvent, dedupKey string) error {
	mitre, err := json.Marshal(sliceOrEmpty(e.MitreTechniques))
	if err != nil {
		return fmt.Errorf("failed to marshal mitre techniques: %w", err)
	}
	actions, err := json.Marshal(sliceOrEmpty(e.RecommendedActions))
	if err != nil {
		return fmt.Errorf("failed to marshal recommended actions: %w", err)
	}
	var enrichment any
	if e.IPEnrichment != nil {
		enrichment, err = json.Marshal(e.IPEnrichment)
		if err != nil {
			return fmt.Errorf("failed to marshal ip enrichment: %w", err)
		}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO security_events (
			id, event_id, channel, event_type, risk_level, confidence,
			correlation_score, "timestamp", created_at, host, "user", source_ip,
			dest_ip, process, command_line, parent_process, mitre_techniques,
			summary, recommended_actions, detection_method, ip_enrichment,
			embedding_ref, notes, status, degraded, dedup_key
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)`,
		e.ID, e.EventID, e.Channel, e.EventType, e.RiskLevel, e.Confidence,
		e.CorrelationScore, e.Timestamp, e.CreatedAt, e.Host, nullStr(e.User),
		nullStr(e.SourceIP), nullStr(e.DestIP), nullStr(e.Process),
		nullStr(e.CommandLine), nullStr(e.ParentProcess), mitre, e.Summary,
		actions, e.DetectionMethod, enrichment, nullStr(e.EmbeddingRef),
		e.Notes, e.Status, e.Degraded, dedupKey,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// GetByID fetches a single event, including its correlation ids.
func (r *EventRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SecurityEvent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM security_events WHERE id = $1`, id)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	if err := r.loadCorrelationIDs(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Patch applies operator updates to the mutable fields.
func (r *EventRepository) Patch(ctx context.Context, id uuid.UUID, patch models.EventPatch) error {
	sets := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if patch.Notes != nil {
		args = append(args, *patch.Notes)
		sets = append(sets, fmt.Sprintf("notes = $%d", len(args)))
	}
	if patch.Status != nil {
		args = append(args, *patch.Status)
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE security_events SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args)),
		args...)
	if err != nil {
		return fmt.Errorf("failed to patch event: %w", err)
	}
	return requireRow(res)
}

// riskRankSQL maps a risk_level column value to its numeric rank in SQL so
// the monotonic comparison happens inside the UPDATE, keeping concurrent
// upgrades consistent.
const riskRankSQL = `CASE %s WHEN 'Low' THEN 1 WHEN 'Medium' THEN 2 WHEN 'High' THEN 3 WHEN 'Critical' THEN 4 ELSE 0 END`

// UpgradeRisk raises an event's risk level, never lowering it.
func (r *EventRepository) UpgradeRisk(ctx context.Context, id uuid.UUID, level models.RiskLevel, score float64) error {
	newRank := fmt.Sprintf(riskRankSQL, "$1::text")
	curRank := fmt.Sprintf(riskRankSQL, "risk_level")
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE security_events SET
			risk_level = CASE WHEN %[1]s > %[2]s THEN $1 ELSE risk_level END,
			correlation_score = GREATEST(correlation_score, $2)
		WHERE id = $3`, newRank, curRank),
		level, score, id)
	if err != nil {
		return fmt.Errorf("failed to upgrade risk: %w", err)
	}
	return nil
}

// AppendCorrelation links an event to a correlation (idempotent).
func (r *EventRepository) AppendCorrelation(ctx context.Context, eventID, correlationID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO correlation_events (correlation_id, event_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		correlationID, eventID)
	if err != nil {
		return fmt.Errorf("failed to append correlation: %w", err)
	}
	return nil
}

// EventFilter selects events for Query.
type EventFilter struct {
	From      *time.Time
	To        *time.Time
	RiskLevel models.RiskLevel
	EventType models.EventType
	Host      string
	User      string
	SourceIP  string
	Text      string // full-text over summary + command_line
	Page      int    // 1-based
	Limit     int
}

// Query returns a page of events (timestamp descending) plus the total count
// for the filter.
func (r *EventRepository) Query(ctx context.Context, f EventFilter) ([]*models.SecurityEvent, int, error) {
	where, args := f.whereClause()

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM security_events`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	args = append(args, limit, (page-1)*limit)
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM security_events`+where+
			fmt.Sprintf(` ORDER BY "timestamp" DESC, seq DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*models.SecurityEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, total, nil
}

// Recent returns summaries of the newest events since the given time.
func (r *EventRepository) Recent(ctx context.Context, since time.Time, limit int) ([]models.EventSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_type, risk_level, confidence, "timestamp", host,
			COALESCE("user", ''), COALESCE(source_ip, ''), summary, detection_method
		FROM security_events WHERE "timestamp" >= $1
		ORDER BY "timestamp" DESC, seq DESC LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	defer rows.Close()

	var out []models.EventSummary
	for rows.Next() {
		var s models.EventSummary
		if err := rows.Scan(&s.ID, &s.EventType, &s.RiskLevel, &s.Confidence,
			&s.Timestamp, &s.Host, &s.User, &s.SourceIP, &s.Summary,
			&s.DetectionMethod); err != nil {
			return nil, fmt.Errorf("failed to scan event summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountsByRisk returns per-risk-level counts since the given time, plus the
// most recent event timestamp in the window.
func (r *EventRepository) CountsByRisk(ctx context.Context, since time.Time) (map[models.RiskLevel]int, *time.Time, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT risk_level, COUNT(*), MAX("timestamp")
		FROM security_events WHERE "timestamp" >= $1 GROUP BY risk_level`, since)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to count events by risk: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.RiskLevel]int)
	var last *time.Time
	for rows.Next() {
		var level models.RiskLevel
		var count int
		var maxTS time.Time
		if err := rows.Scan(&level, &count, &maxTS); err != nil {
			return nil, nil, fmt.Errorf("failed to scan risk count: %w", err)
		}
		counts[level] = count
		if last == nil || maxTS.After(*last) {
			ts := maxTS
			last = &ts
		}
	}
	return counts, last, rows.Err()
}

// DeleteOlderThan removes events past retention; returns rows removed.
func (r *EventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM security_events WHERE "timestamp" < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	return res.RowsAffected()
}

func (r *EventRepository) loadCorrelationIDs(ctx context.Context, e *models.SecurityEvent) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT correlation_id FROM correlation_events WHERE event_id = $1`, e.ID)
	if err != nil {
		return fmt.Errorf("failed to load correlation ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan correlation id: %w", err)
		}
		e.CorrelationIDs = append(e.CorrelationIDs, id)
	}
	return rows.Err()
}

func (f EventFilter) whereClause() (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.From != nil {
		add(`"timestamp" >= $%d`, *f.From)
	}
	if f.To != nil {
		add(`"timestamp" <= $%d`, *f.To)
	}
	if f.RiskLevel != "" {
		add(`risk_level = $%d`, f.RiskLevel)
	}
	if f.EventType != "" {
		add(`event_type = $%d`, f.EventType)
	}
	if f.Host != "" {
		add(`host = $%d`, f.Host)
	}
	if f.User != "" {
		add(`"user" = $%d`, f.User)
	}
	if f.SourceIP != "" {
		add(`source_ip = $%d`, f.SourceIP)
	}
	if f.Text != "" {
		add(`to_tsvector('english', summary || ' ' || COALESCE(command_line, '')) @@ plainto_tsquery('english', $%d)`, f.Text)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.SecurityEvent, error) {
	var e models.SecurityEvent
	var user, sourceIP, destIP, process, cmdline, parent, embeddingRef sql.NullString
	var mitre, actions []byte
	var enrichment []byte

	err := row.Scan(&e.ID, &e.EventID, &e.Channel, &e.EventType, &e.RiskLevel,
		&e.Confidence, &e.CorrelationScore, &e.Timestamp, &e.CreatedAt, &e.Host,
		&user, &sourceIP, &destIP, &process, &cmdline, &parent, &mitre,
		&e.Summary, &actions, &e.DetectionMethod, &enrichment, &embeddingRef,
		&e.Notes, &e.Status, &e.Degraded)
	if err != nil {
		return nil, err
	}
	e.User = user.String
	e.SourceIP = sourceIP.String
	e.DestIP = destIP.String
	e.Process = process.String
	e.CommandLine = cmdline.String
	e.ParentProcess = parent.String
	e.EmbeddingRef = embeddingRef.String
	if len(mitre) > 0 {
		if err := json.Unmarshal(mitre, &e.MitreTechniques); err != nil {
			return nil, fmt.Errorf("failed to unmarshal mitre techniques: %w", err)
		}
	}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &e.RecommendedActions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recommended actions: %w", err)
		}
	}
	if len(enrichment) > 0 {
		var ipe models.IPEnrichment
		if err := json.Unmarshal(enrichment, &ipe); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ip enrichment: %w", err)
		}
		e.IPEnrichment = &ipe
	}
	return &e, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func sliceOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
