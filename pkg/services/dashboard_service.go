package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sentinelsec/sentinel/pkg/models"
	"github.com/sentinelsec/sentinel/pkg/repository"
)

// snapshotCacheTTL bounds how stale a served dashboard snapshot may be;
// reads during a store outage serve the cached copy inside this window.
const snapshotCacheTTL = 30 * time.Second

// recentEventLimit caps the recent-events list in a snapshot.
const recentEventLimit = 20

// StatusProvider supplies the component-health section of the snapshot.
type StatusProvider func(ctx context.Context) models.SystemStatusOverview

// ScannerProvider supplies the threat-scanner section. The scanner is an
// external collaborator; a nil provider yields zeroes.
type ScannerProvider func(ctx context.Context) models.ScannerOverview

// DashboardService computes the consolidated dashboard snapshot, cached for
// at most snapshotCacheTTL per time range.
type DashboardService struct {
	events  *repository.EventRepository
	status  StatusProvider
	scanner ScannerProvider

	mu     sync.Mutex
	cached map[models.TimeRange]*cachedSnapshot
}

type cachedSnapshot struct {
	snap *models.DashboardSnapshot
	at   time.Time
}

// NewDashboardService creates a DashboardService.
func NewDashboardService(events *repository.EventRepository, status StatusProvider, scanner ScannerProvider) *DashboardService {
	return &DashboardService{
		events:  events,
		status:  status,
		scanner: scanner,
		cached:  make(map[models.TimeRange]*cachedSnapshot),
	}
}

// Consolidated returns the snapshot for a time range, serving the cached
// copy when fresh — and, on store failure, serving it stale rather than
// failing the dashboard.
func (s *DashboardService) Consolidated(ctx context.Context, timeRange models.TimeRange) (*models.DashboardSnapshot, error) {
	s.mu.Lock()
	cached, ok := s.cached[timeRange]
	s.mu.Unlock()
	if ok && time.Since(cached.at) < snapshotCacheTTL {
		return cached.snap, nil
	}

	snap, err := s.compute(ctx, timeRange)
	if err != nil {
		if ok {
			return cached.snap, nil
		}
		return nil, err
	}

	s.mu.Lock()
	s.cached[timeRange] = &cachedSnapshot{snap: snap, at: time.Now()}
	s.mu.Unlock()
	return snap, nil
}

func (s *DashboardService) compute(ctx context.Context, timeRange models.TimeRange) (*models.DashboardSnapshot, error) {
	since := time.Now().Add(-timeRange.Duration())

	counts, lastEvent, err := s.events.CountsByRisk(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate risk counts: %w", err)
	}
	recent, err := s.events.Recent(ctx, since, recentEventLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent events: %w", err)
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	snap := &models.DashboardSnapshot{
		SecurityEvents: models.EventsOverview{
			Total:         total,
			RiskCounts:    counts,
			Recent:        recent,
			LastEventTime: lastEvent,
		},
		LastUpdated: time.Now().UTC(),
		TimeRange:   timeRange,
	}
	if s.status != nil {
		snap.SystemStatus = s.status(ctx)
	}
	if s.scanner != nil {
		snap.ThreatScanner = s.scanner(ctx)
	}
	return snap, nil
}
