package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sentinelsec/sentinel/pkg/models"
)

// RuleRepository persists detection rules.
type RuleRepository struct {
	db *sql.DB
}

// NewRuleRepository creates a RuleRepository on the shared handle.
func NewRuleRepository(db *sql.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

const ruleColumns = `id, event_id, channel, event_type, risk_level, confidence,
	summary, mitre_techniques, recommended_actions, enabled, priority, tags`

// ListEnabled returns the full enabled rule set, highest priority first.
// This is what the detector snapshots.
func (r *RuleRepository) ListEnabled(ctx context.Context) ([]models.DetectionRule, error) {
	return r.list(ctx, `SELECT `+ruleColumns+` FROM detection_rules WHERE enabled ORDER BY priority DESC, id`)
}

// ListAll returns every rule for the admin surface.
func (r *RuleRepository) ListAll(ctx context.Context) ([]models.DetectionRule, error) {
	return r.list(ctx, `SELECT `+ruleColumns+` FROM detection_rules ORDER BY priority DESC, id`)
}

func (r *RuleRepository) list(ctx context.Context, query string) ([]models.DetectionRule, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []models.DetectionRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// Create inserts a rule; returns ErrDuplicate on (event_id, channel) clash.
func (r *RuleRepository) Create(ctx context.Context, rule *models.DetectionRule) error {
	mitre, actions, tags, err := marshalRuleArrays(rule)
	if err != nil {
		return err
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO detection_rules (event_id, channel, event_type, risk_level,
			confidence, summary, mitre_techniques, recommended_actions, enabled,
			priority, tags)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		rule.EventID, rule.Channel, rule.EventType, rule.RiskLevel,
		rule.Confidence, rule.Summary, mitre, actions, rule.Enabled,
		rule.Priority, tags,
	).Scan(&rule.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

// Update rewrites a rule in full.
func (r *RuleRepository) Update(ctx context.Context, rule *models.DetectionRule) error {
	mitre, actions, tags, err := marshalRuleArrays(rule)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE detection_rules SET event_id=$1, channel=$2, event_type=$3,
			risk_level=$4, confidence=$5, summary=$6, mitre_techniques=$7,
			recommended_actions=$8, enabled=$9, priority=$10, tags=$11
		WHERE id=$12`,
		rule.EventID, rule.Channel, rule.EventType, rule.RiskLevel,
		rule.Confidence, rule.Summary, mitre, actions, rule.Enabled,
		rule.Priority, tags, rule.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return requireRow(res)
}

// Delete removes a rule by id.
func (r *RuleRepository) Delete(ctx context.Context, id int) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM detection_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return requireRow(res)
}

// Count returns the number of stored rules.
func (r *RuleRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM detection_rules`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rules: %w", err)
	}
	return n, nil
}

// SeedDefaults installs the built-in rule set when the table is empty.
func (r *RuleRepository) SeedDefaults(ctx context.Context, rules []models.DetectionRule) (int, error) {
	n, err := r.Count(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}
	inserted := 0
	for i := range rules {
		if err := r.Create(ctx, &rules[i]); err != nil {
			if errors.Is(err, ErrDuplicate) {
				continue
			}
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

func scanRule(rows *sql.Rows) (models.DetectionRule, error) {
	var rule models.DetectionRule
	var mitre, actions, tags []byte
	if err := rows.Scan(&rule.ID, &rule.EventID, &rule.Channel, &rule.EventType,
		&rule.RiskLevel, &rule.Confidence, &rule.Summary, &mitre, &actions,
		&rule.Enabled, &rule.Priority, &tags); err != nil {
		return rule, fmt.Errorf("failed to scan rule: %w", err)
	}
	for _, pair := range []struct {
		raw []byte
		dst *[]string
	}{{mitre, &rule.MitreTechniques}, {actions, &rule.RecommendedActions}, {tags, &rule.Tags}} {
		if len(pair.raw) > 0 {
			if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
				return rule, fmt.Errorf("failed to unmarshal rule array: %w", err)
			}
		}
	}
	return rule, nil
}

func marshalRuleArrays(rule *models.DetectionRule) (mitre, actions, tags []byte, err error) {
	if mitre, err = json.Marshal(sliceOrEmpty(rule.MitreTechniques)); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal mitre techniques: %w", err)
	}
	if actions, err = json.Marshal(sliceOrEmpty(rule.RecommendedActions)); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal recommended actions: %w", err)
	}
	if tags, err = json.Marshal(sliceOrEmpty(rule.Tags)); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal tags: %w", err)
	}
	return mitre, actions, tags, nil
}
