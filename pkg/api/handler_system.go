package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/sentinelsec/sentinel/pkg/database"
)

// systemStatusHandler handles GET /api/system-status.
func (s *Server) systemStatusHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.system.Overview(c.Request().Context()))
}

// dbPoolMetricsHandler handles GET /api/database-pool/metrics.
func (s *Server) dbPoolMetricsHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	health, err := database.Health(reqCtx, s.dbClient.DB())
	if err != nil {
		return c.JSON(http.StatusOK, map[string]any{
			"database": health,
			"error":    err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"database": health})
}

// dbPoolConnectionsHandler handles GET /api/database-pool/connections:
// upstream pool instance states (vector store today).
func (s *Server) dbPoolConnectionsHandler(c *echo.Context) error {
	out := map[string]any{}
	if s.vectorPool != nil {
		out["vector_store"] = map[string]any{
			"healthy_instances": s.vectorPool.HealthyCount(),
			"degraded":          s.vectorPool.Degraded(),
			"instances":         s.vectorPool.Statuses(),
		}
	}
	return c.JSON(http.StatusOK, out)
}

// pipelineMetricsHandler handles GET /api/pipeline/metrics.
func (s *Server) pipelineMetricsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.orchestrator.MetricsSnapshot())
}

// deadLettersHandler handles GET /api/dead-letters.
func (s *Server) deadLettersHandler(c *echo.Context) error {
	limit := intParam(c, "limit", 100)
	letters, err := s.deadLetters.List(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list dead letters")
	}
	return c.JSON(http.StatusOK, letters)
}
