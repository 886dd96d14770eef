package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/sentinelsec/sentinel/pkg/models"
)

// listRulesHandler handles GET /api/security-event-rules.
func (s *Server) listRulesHandler(c *echo.Context) error {
	rules, err := s.rules.List(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	if rules == nil {
		rules = []models.DetectionRule{}
	}
	return c.JSON(http.StatusOK, rules)
}

// createRuleHandler handles POST /api/security-event-rules.
func (s *Server) createRuleHandler(c *echo.Context) error {
	var rule models.DetectionRule
	if err := c.Bind(&rule); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.rules.Create(c.Request().Context(), &rule); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, rule)
}

// updateRuleHandler handles PUT /api/security-event-rules/:id.
func (s *Server) updateRuleHandler(c *echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid rule id")
	}
	var rule models.DetectionRule
	if err := c.Bind(&rule); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rule.ID = id
	if err := s.rules.Update(c.Request().Context(), &rule); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, rule)
}

// deleteRuleHandler handles DELETE /api/security-event-rules/:id.
func (s *Server) deleteRuleHandler(c *echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid rule id")
	}
	if err := s.rules.Delete(c.Request().Context(), id); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// --- notification templates ---

// listTemplatesHandler handles GET /api/notification-templates.
func (s *Server) listTemplatesHandler(c *echo.Context) error {
	templates, err := s.templates.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list templates")
	}
	if templates == nil {
		templates = []models.NotificationTemplate{}
	}
	return c.JSON(http.StatusOK, templates)
}

// createTemplateHandler handles POST /api/notification-templates.
func (s *Server) createTemplateHandler(c *echo.Context) error {
	var t models.NotificationTemplate
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if t.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	if err := s.templates.Create(c.Request().Context(), &t); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

// updateTemplateHandler handles PUT /api/notification-templates/:id.
func (s *Server) updateTemplateHandler(c *echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid template id")
	}
	var t models.NotificationTemplate
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t.ID = id
	if err := s.templates.Update(c.Request().Context(), &t); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, t)
}

// deleteTemplateHandler handles DELETE /api/notification-templates/:id.
func (s *Server) deleteTemplateHandler(c *echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid template id")
	}
	if err := s.templates.Delete(c.Request().Context(), id); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
