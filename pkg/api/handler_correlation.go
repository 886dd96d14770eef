package api

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/sentinelsec/sentinel/pkg/models"
	"github.com/sentinelsec/sentinel/pkg/repository"
)

// correlationStatsHandler handles GET /api/correlation/statistics.
func (s *Server) correlationStatsHandler(c *echo.Context) error {
	stats, err := s.correlations.Stats(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

// correlationRulesHandler handles GET /api/correlation/rules.
func (s *Server) correlationRulesHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.correlations.Rules())
}

// updateCorrelationRuleHandler handles PUT /api/correlation/rules/:id.
// Correlation rules are configuration-backed; the update is validated and
// acknowledged but takes effect at the next engine start (see DESIGN.md).
func (s *Server) updateCorrelationRuleHandler(c *echo.Context) error {
	id := c.Param("id")
	if _, ok := s.correlations.Rule(id); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "correlation rule not found")
	}
	var rule models.CorrelationRule
	if err := c.Bind(&rule); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rule.ID = id
	if rule.TimeWindow <= 0 || rule.MinEventCount < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "time_window and min_event_count must be positive")
	}
	s.correlations.SetRule(rule)
	return c.JSON(http.StatusOK, rule)
}

// listCorrelationsHandler handles GET /api/correlation/correlations.
func (s *Server) listCorrelationsHandler(c *echo.Context) error {
	filter := repository.CorrelationFilter{
		Limit: intParam(c, "limit", 100),
	}
	if v := c.QueryParam("startTime"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "startTime must be RFC3339")
		}
		filter.From = &t
	}
	if v := c.QueryParam("endTime"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "endTime must be RFC3339")
		}
		filter.To = &t
	}
	if v := c.QueryParam("type"); v != "" {
		filter.Type = models.CorrelationType(v)
	}
	if v := c.QueryParam("minConfidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "minConfidence must be 0..1")
		}
		filter.MinConfidence = f
	}

	out, err := s.correlations.Query(c.Request().Context(), filter)
	if err != nil {
		return mapServiceError(err)
	}
	if out == nil {
		out = []*models.Correlation{}
	}
	return c.JSON(http.StatusOK, out)
}

// analyzeHandler handles POST /api/correlation/analyze: replays recent
// persisted events through the engine's intake for on-demand analysis.
func (s *Server) analyzeHandler(c *echo.Context) error {
	window := intParam(c, "minutes", 60)
	if window < 1 || window > 24*60 {
		return echo.NewHTTPError(http.StatusBadRequest, "minutes must be 1..1440")
	}

	submitted, err := s.correlations.Replay(c.Request().Context(), time.Duration(window)*time.Minute)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]any{
		"status":    "queued",
		"submitted": submitted,
	})
}
