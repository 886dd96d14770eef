package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sentinelsec/sentinel/pkg/detect"
	"github.com/sentinelsec/sentinel/pkg/models"
	"github.com/sentinelsec/sentinel/pkg/repository"
)

// RuleService owns the detection-rule admin surface. Every successful write
// invalidates the detector's snapshot.
type RuleService struct {
	rules    *repository.RuleRepository
	detector *detect.Detector
}

// NewRuleService creates a RuleService.
func NewRuleService(rules *repository.RuleRepository, detector *detect.Detector) *RuleService {
	return &RuleService{rules: rules, detector: detector}
}

// List returns every stored rule.
func (s *RuleService) List(ctx context.Context) ([]models.DetectionRule, error) {
	rules, err := s.rules.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

// Create validates and stores a rule, then invalidates the rule cache.
func (s *RuleService) Create(ctx context.Context, rule *models.DetectionRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}
	if err := s.rules.Create(ctx, rule); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create rule: %w", err)
	}
	s.detector.Invalidate(ctx)
	return nil
}

// Update rewrites a rule, then invalidates the rule cache.
func (s *RuleService) Update(ctx context.Context, rule *models.DetectionRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}
	if err := s.rules.Update(ctx, rule); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return ErrNotFound
		case errors.Is(err, repository.ErrDuplicate):
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to update rule: %w", err)
	}
	s.detector.Invalidate(ctx)
	return nil
}

// Delete removes a rule, then invalidates the rule cache.
func (s *RuleService) Delete(ctx context.Context, id int) error {
	if err := s.rules.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	s.detector.Invalidate(ctx)
	return nil
}

func validateRule(rule *models.DetectionRule) error {
	if rule.Channel == "" {
		return NewValidationError("channel", "required")
	}
	if rule.EventID <= 0 {
		return NewValidationError("event_id", "must be positive")
	}
	if !models.ValidEventType(string(rule.EventType)) {
		return NewValidationError("event_type", "unknown event type")
	}
	if !models.ValidRiskLevel(string(rule.RiskLevel)) {
		return NewValidationError("risk_level", "unknown risk level")
	}
	if rule.Confidence < 0 || rule.Confidence > 100 {
		return NewValidationError("confidence", "must be 0..100")
	}
	return nil
}
