package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sentinelsec/sentinel/pkg/models"
)

// TemplateRepository persists notification templates. Rendering is external;
// only storage lives here.
type TemplateRepository struct {
	db *sql.DB
}

// NewTemplateRepository creates a TemplateRepository on the shared handle.
func NewTemplateRepository(db *sql.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// List returns all templates.
func (r *TemplateRepository) List(ctx context.Context) ([]models.NotificationTemplate, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, channel, subject, body, enabled FROM notification_templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	var out []models.NotificationTemplate
	for rows.Next() {
		var t models.NotificationTemplate
		if err := rows.Scan(&t.ID, &t.Name, &t.Channel, &t.Subject, &t.Body, &t.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Create inserts a template; returns ErrDuplicate on name clash.
func (r *TemplateRepository) Create(ctx context.Context, t *models.NotificationTemplate) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO notification_templates (name, channel, subject, body, enabled)
		VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		t.Name, t.Channel, t.Subject, t.Body, t.Enabled).Scan(&t.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

// Update rewrites a template in full.
func (r *TemplateRepository) Update(ctx context.Context, t *models.NotificationTemplate) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notification_templates SET name=$1, channel=$2, subject=$3, body=$4, enabled=$5
		WHERE id=$6`,
		t.Name, t.Channel, t.Subject, t.Body, t.Enabled, t.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to update template: %w", err)
	}
	return requireRow(res)
}

// Delete removes a template by id.
func (r *TemplateRepository) Delete(ctx context.Context, id int) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notification_templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	return requireRow(res)
}
