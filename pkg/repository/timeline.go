package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sentinelsec/sentinel/pkg/models"
)

// TimelineRepository serves aggregate queries over security events. All
// bucketing happens in SQL (date_trunc); rows are never pulled out wholesale.
type TimelineRepository struct {
	db *sql.DB
}

// NewTimelineRepository creates a TimelineRepository on the shared handle.
func NewTimelineRepository(db *sql.DB) *TimelineRepository {
	return &TimelineRepository{db: db}
}

// Granularity names a supported timeline bucket size.
type Granularity string

const (
	GranularityMinute Granularity = "minute"
	GranularityHour   Granularity = "hour"
	GranularityDay    Granularity = "day"
	GranularityWeek   Granularity = "week"
	GranularityMonth  Granularity = "month"
)

// ValidGranularity reports whether s names a supported granularity.
func ValidGranularity(s string) bool {
	switch Granularity(s) {
	case GranularityMinute, GranularityHour, GranularityDay, GranularityWeek, GranularityMonth:
		return true
	}
	return false
}

// Aggregate returns event counts bucketed by the granularity. An event at
// exactly a bucket boundary falls into the later bucket (date_trunc
// semantics). Optional event-type and risk-level filters narrow the rows.
func (r *TimelineRepository) Aggregate(ctx context.Context, from, to time.Time, g Granularity, eventTypes []models.EventType, riskLevels []models.RiskLevel) ([]models.TimelineBucket, error) {
	if !ValidGranularity(string(g)) {
		return nil, fmt.Errorf("unsupported granularity %q", g)
	}

	query := fmt.Sprintf(`
		SELECT date_trunc('%s', "timestamp") AS bucket, COUNT(*)
		FROM security_events
		WHERE "timestamp" >= $1 AND "timestamp" < $2`, g)
	args := []any{from, to}

	if len(eventTypes) > 0 {
		placeholders := ""
		for i, t := range eventTypes {
			args = append(args, t)
			if i > 0 {
				placeholders += ","
			}
			placeholders += fmt.Sprintf("$%d", len(args))
		}
		query += fmt.Sprintf(" AND event_type IN (%s)", placeholders)
	}
	if len(riskLevels) > 0 {
		placeholders := ""
		for i, l := range riskLevels {
			args = append(args, l)
			if i > 0 {
				placeholders += ","
			}
			placeholders += fmt.Sprintf("$%d", len(args))
		}
		query += fmt.Sprintf(" AND risk_level IN (%s)", placeholders)
	}
	query += " GROUP BY bucket ORDER BY bucket"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate timeline: %w", err)
	}
	defer rows.Close()

	var out []models.TimelineBucket
	for rows.Next() {
		var b models.TimelineBucket
		if err := rows.Scan(&b.BucketStart, &b.Count); err != nil {
			return nil, fmt.Errorf("failed to scan timeline bucket: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Stats computes the timeline summary object for a window.
func (r *TimelineRepository) Stats(ctx context.Context, from, to time.Time) (*models.TimelineStats, error) {
	stats := &models.TimelineStats{
		ByRisk:      make(map[models.RiskLevel]int),
		ByType:      make(map[models.EventType]int),
		ByHour:      make(map[int]int),
		ByDayOfWeek: make(map[string]int),
	}

	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(AVG(confidence), 0), COALESCE(AVG(correlation_score), 0)
		FROM security_events WHERE "timestamp" >= $1 AND "timestamp" < $2`,
		from, to).Scan(&stats.TotalEvents, &stats.AvgConfidence, &stats.AvgCorrelation)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate totals: %w", err)
	}

	if err := r.groupCount(ctx, from, to, `risk_level`, func(key string, count int) {
		stats.ByRisk[models.RiskLevel(key)] = count
	}); err != nil {
		return nil, err
	}
	if err := r.groupCount(ctx, from, to, `event_type`, func(key string, count int) {
		stats.ByType[models.EventType(key)] = count
	}); err != nil {
		return nil, err
	}
	if err := r.groupCount(ctx, from, to, `to_char("timestamp", 'HH24')`, func(key string, count int) {
		var hour int
		fmt.Sscanf(key, "%d", &hour)
		stats.ByHour[hour] = count
	}); err != nil {
		return nil, err
	}
	if err := r.groupCount(ctx, from, to, `trim(to_char("timestamp", 'Day'))`, func(key string, count int) {
		stats.ByDayOfWeek[key] = count
	}); err != nil {
		return nil, err
	}

	var topErr error
	stats.TopMachines, topErr = r.topValues(ctx, from, to, `host`, 10)
	if topErr != nil {
		return nil, topErr
	}
	stats.TopUsers, topErr = r.topValues(ctx, from, to, `"user"`, 10)
	if topErr != nil {
		return nil, topErr
	}
	stats.TopTechniques, topErr = r.topTechniques(ctx, from, to, 10)
	if topErr != nil {
		return nil, topErr
	}
	return stats, nil
}

func (r *TimelineRepository) groupCount(ctx context.Context, from, to time.Time, expr string, collect func(string, int)) error {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, COUNT(*) FROM security_events
		WHERE "timestamp" >= $1 AND "timestamp" < $2 GROUP BY 1`, expr), from, to)
	if err != nil {
		return fmt.Errorf("failed to group by %s: %w", expr, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key sql.NullString
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("failed to scan group row: %w", err)
		}
		collect(key.String, count)
	}
	return rows.Err()
}

func (r *TimelineRepository) topValues(ctx context.Context, from, to time.Time, column string, limit int) ([]models.NamedCount, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %[1]s, COUNT(*) FROM security_events
		WHERE "timestamp" >= $1 AND "timestamp" < $2 AND %[1]s IS NOT NULL AND %[1]s <> ''
		GROUP BY %[1]s ORDER BY COUNT(*) DESC LIMIT $3`, column), from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top %s: %w", column, err)
	}
	defer rows.Close()

	var out []models.NamedCount
	for rows.Next() {
		var nc models.NamedCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan top value: %w", err)
		}
		out = append(out, nc)
	}
	return out, rows.Err()
}

func (r *TimelineRepository) topTechniques(ctx context.Context, from, to time.Time, limit int) ([]models.NamedCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT technique, COUNT(*) FROM security_events,
			jsonb_array_elements_text(mitre_techniques) AS technique
		WHERE "timestamp" >= $1 AND "timestamp" < $2
		GROUP BY technique ORDER BY COUNT(*) DESC LIMIT $3`, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top techniques: %w", err)
	}
	defer rows.Close()

	var out []models.NamedCount
	for rows.Next() {
		var nc models.NamedCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan technique: %w", err)
		}
		out = append(out, nc)
	}
	return out, rows.Err()
}
