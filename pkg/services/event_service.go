package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelsec/sentinel/pkg/models"
	"github.com/sentinelsec/sentinel/pkg/repository"
)

// EventService serves the security-event query and triage surface.
type EventService struct {
	events   *repository.EventRepository
	timeline *repository.TimelineRepository
}

// NewEventService creates an EventService.
func NewEventService(events *repository.EventRepository, timeline *repository.TimelineRepository) *EventService {
	return &EventService{events: events, timeline: timeline}
}

// Query returns a filtered page of events with the filter's total count.
func (s *EventService) Query(ctx context.Context, f repository.EventFilter) ([]*models.SecurityEvent, int, error) {
	if f.Limit > 500 {
		return nil, 0, NewValidationError("limit", "must be at most 500")
	}
	events, total, err := s.events.Query(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query events: %w", err)
	}
	return events, total, nil
}

// Get fetches one event by id.
func (s *EventService) Get(ctx context.Context, id uuid.UUID) (*models.SecurityEvent, error) {
	event, err := s.events.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return event, nil
}

// Patch applies an operator update to notes/status.
func (s *EventService) Patch(ctx context.Context, id uuid.UUID, patch models.EventPatch) error {
	if patch.Status != nil && !models.ValidEventStatus(string(*patch.Status)) {
		return NewValidationError("status", "unknown status value")
	}
	if err := s.events.Patch(ctx, id, patch); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to patch event: %w", err)
	}
	return nil
}

// Timeline aggregates bucketed event counts at the store layer.
func (s *EventService) Timeline(ctx context.Context, from, to time.Time, granularity string, eventTypes []models.EventType, riskLevels []models.RiskLevel) ([]models.TimelineBucket, error) {
	if !repository.ValidGranularity(granularity) {
		return nil, NewValidationError("granularity", "must be minute|hour|day|week|month")
	}
	if !to.After(from) {
		return nil, NewValidationError("from", "time range is empty")
	}
	buckets, err := s.timeline.Aggregate(ctx, from, to, repository.Granularity(granularity), eventTypes, riskLevels)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate timeline: %w", err)
	}
	return buckets, nil
}

// TimelineStats computes the summary object for a window.
func (s *EventService) TimelineStats(ctx context.Context, from, to time.Time) (*models.TimelineStats, error) {
	if !to.After(from) {
		return nil, NewValidationError("startTime", "time range is empty")
	}
	stats, err := s.timeline.Stats(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to compute timeline stats: %w", err)
	}
	return stats, nil
}
