package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/sentinelsec/sentinel/pkg/database"
	"github.com/sentinelsec/sentinel/pkg/models"
)

// HealthCheck is one named component probe.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) models.ComponentHealth
}

// SystemService aggregates component health for /api/system-status and the
// hub's SystemStatusUpdate pushes.
type SystemService struct {
	checks []HealthCheck
}

// NewSystemService creates a SystemService with the given probes.
func NewSystemService(checks ...HealthCheck) *SystemService {
	return &SystemService{checks: checks}
}

// Register appends a probe after construction.
func (s *SystemService) Register(check HealthCheck) {
	s.checks = append(s.checks, check)
}

// Overview runs every probe and assembles the status overview.
func (s *SystemService) Overview(ctx context.Context) models.SystemStatusOverview {
	overview := models.SystemStatusOverview{
		ComponentStatuses: make(map[string]models.ComponentHealth, len(s.checks)),
	}
	for _, check := range s.checks {
		health := check.Check(ctx)
		health.Name = check.Name
		health.CheckedAt = time.Now().UTC()
		overview.ComponentStatuses[check.Name] = health
		overview.TotalComponents++
		if health.Healthy {
			overview.HealthyComponents++
		}
	}
	return overview
}

// DatabaseCheck probes the relational store.
func DatabaseCheck(db *sql.DB) HealthCheck {
	return HealthCheck{
		Name: "database",
		Check: func(ctx context.Context) models.ComponentHealth {
			probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			status, err := database.Health(probeCtx, db)
			if err != nil {
				return models.ComponentHealth{Healthy: false, Status: "unhealthy", Detail: err.Error()}
			}
			return models.ComponentHealth{
				Healthy:      true,
				Status:       status.Status,
				ResponseTime: status.ResponseTime,
			}
		},
	}
}

// BoolCheck adapts a healthy/degraded predicate pair into a probe.
func BoolCheck(name string, healthy func() bool, degraded func() bool) HealthCheck {
	return HealthCheck{
		Name: name,
		Check: func(context.Context) models.ComponentHealth {
			switch {
			case !healthy():
				return models.ComponentHealth{Healthy: false, Status: "unhealthy"}
			case degraded != nil && degraded():
				return models.ComponentHealth{Healthy: true, Status: "degraded"}
			default:
				return models.ComponentHealth{Healthy: true, Status: "healthy"}
			}
		},
	}
}
