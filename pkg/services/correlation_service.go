package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sentinelsec/sentinel/pkg/correlation"
	"github.com/sentinelsec/sentinel/pkg/models"
	"github.com/sentinelsec/sentinel/pkg/repository"
)

// CorrelationService serves the correlation query/statistics surface.
type CorrelationService struct {
	repo   *repository.CorrelationRepository
	events *repository.EventRepository
	engine *correlation.Engine

	mu    sync.Mutex
	rules map[string]models.CorrelationRule
}

// NewCorrelationService creates a CorrelationService. rules is the
// configured rule set; SetRule updates it in place, taking effect at the
// next engine start.
func NewCorrelationService(repo *repository.CorrelationRepository, events *repository.EventRepository, engine *correlation.Engine, rules map[string]models.CorrelationRule) *CorrelationService {
	return &CorrelationService{repo: repo, events: events, engine: engine, rules: rules}
}

// Query returns correlations matching the filter.
func (s *CorrelationService) Query(ctx context.Context, f repository.CorrelationFilter) ([]*models.Correlation, error) {
	out, err := s.repo.Query(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to query correlations: %w", err)
	}
	return out, nil
}

// Statistics aggregates stored correlations plus live engine counters.
type Statistics struct {
	Store  *repository.Statistics  `json:"store"`
	Engine correlation.EngineStats `json:"engine"`
}

// Stats returns correlation statistics.
func (s *CorrelationService) Stats(ctx context.Context) (*Statistics, error) {
	store, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute correlation stats: %w", err)
	}
	return &Statistics{Store: store, Engine: s.engine.Stats()}, nil
}

// Rules returns the configured correlation rules.
func (s *CorrelationService) Rules() []models.CorrelationRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.CorrelationRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out
}

// Rule returns one configured rule by id.
func (s *CorrelationService) Rule(id string) (models.CorrelationRule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	return r, ok
}

// SetRule replaces a configured rule. The stored set is what the API
// serves; the running engine picks the change up at its next start.
func (s *CorrelationService) SetRule(rule models.CorrelationRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.ID] = rule
}

// Replay re-submits recently persisted events to the engine's intake for
// on-demand analysis. Returns how many events were queued.
func (s *CorrelationService) Replay(ctx context.Context, window time.Duration) (int, error) {
	from := time.Now().Add(-window)
	events, _, err := s.events.Query(ctx, repository.EventFilter{
		From:  &from,
		Limit: 1000,
		Page:  1,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to load events for replay: %w", err)
	}
	// Query returns newest first; replay oldest first so windows rebuild in
	// arrival order.
	for i := len(events) - 1; i >= 0; i-- {
		s.engine.Submit(events[i])
	}
	return len(events), nil
}
