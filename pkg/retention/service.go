// Package retention enforces data retention policies in the background:
// old events and correlations are removed from the relational store, and
// the vector store is swept to match the relational truth.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/sentinelsec/sentinel/pkg/config"
	"github.com/sentinelsec/sentinel/pkg/repository"
	"github.com/sentinelsec/sentinel/pkg/vectorstore"
)

// Service runs the periodic retention sweeps. All operations are idempotent.
type Service struct {
	cfg          *config.RetentionConfig
	events       *repository.EventRepository
	correlations *repository.CorrelationRepository
	vectors      *vectorstore.Client // nil when the vector store is disabled

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates the retention service.
func NewService(cfg *config.RetentionConfig, events *repository.EventRepository, correlations *repository.CorrelationRepository, vectors *vectorstore.Client) *Service {
	return &Service{
		cfg:          cfg,
		events:       events,
		correlations: correlations,
		vectors:      vectors,
	}
}

// Start launches the background sweep loops.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Retention service started",
		"event_days", s.cfg.EventDays,
		"correlation_days", s.cfg.CorrelationDays,
		"sweep_interval", s.cfg.SweepInterval.D(),
		"vector_sweep_interval", s.cfg.VectorSweepInterval.D())
}

// Stop signals the sweep loops to exit and waits for them to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Retention service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweepRelational(ctx)

	relational := time.NewTicker(s.cfg.SweepInterval.D())
	defer relational.Stop()
	vector := time.NewTicker(s.cfg.VectorSweepInterval.D())
	defer vector.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-relational.C:
			s.sweepRelational(ctx)
		case <-vector.C:
			s.sweepVectors(ctx)
		}
	}
}

func (s *Service) sweepRelational(ctx context.Context) {
	eventCutoff := time.Now().AddDate(0, 0, -s.cfg.EventDays)
	if n, err := s.events.DeleteOlderThan(ctx, eventCutoff); err != nil {
		slog.Error("Retention: event sweep failed", "error", err)
	} else if n > 0 {
		slog.Info("Retention: removed old events", "count", n)
	}

	corrCutoff := time.Now().AddDate(0, 0, -s.cfg.CorrelationDays)
	if n, err := s.correlations.DeleteOlderThan(ctx, corrCutoff); err != nil {
		slog.Error("Retention: correlation sweep failed", "error", err)
	} else if n > 0 {
		slog.Info("Retention: removed old correlations", "count", n)
	}
}

// sweepVectors removes stale embeddings. The relational store is the
// authority: everything older than the event retention cutoff goes.
func (s *Service) sweepVectors(ctx context.Context) {
	if s.vectors == nil {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -s.cfg.EventDays)
	if err := s.vectors.DeleteBefore(ctx, cutoff); err != nil {
		slog.Error("Retention: vector sweep failed", "error", err)
	}
}
