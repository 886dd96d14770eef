package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/sentinelsec/sentinel/pkg/models"
	"github.com/sentinelsec/sentinel/pkg/repository"
)

// EventsPage is the paginated response of GET /api/security-events.
type EventsPage struct {
	Data       []*models.SecurityEvent `json:"data"`
	Total      int                     `json:"total"`
	Page       int                     `json:"page"`
	PerPage    int                     `json:"perPage"`
	TotalPages int                     `json:"totalPages"`
}

// listEventsHandler handles GET /api/security-events.
func (s *Server) listEventsHandler(c *echo.Context) error {
	filter, page, limit, err := parseEventFilter(c)
	if err != nil {
		return err
	}

	events, total, err := s.events.Query(c.Request().Context(), filter)
	if err != nil {
		return mapServiceError(err)
	}
	if events == nil {
		events = []*models.SecurityEvent{}
	}

	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return c.JSON(http.StatusOK, EventsPage{
		Data:       events,
		Total:      total,
		Page:       page,
		PerPage:    limit,
		TotalPages: totalPages,
	})
}

// getEventHandler handles GET /api/security-events/:id.
func (s *Server) getEventHandler(c *echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid event id")
	}
	event, err := s.events.Get(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, event)
}

// patchEventHandler handles PATCH /api/security-events/:id.
func (s *Server) patchEventHandler(c *echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid event id")
	}
	var patch models.EventPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.events.Patch(c.Request().Context(), id, patch); err != nil {
		return mapServiceError(err)
	}
	event, err := s.events.Get(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, event)
}

// exportEventsHandler handles GET /api/security-events/export?format=csv|json.
func (s *Server) exportEventsHandler(c *echo.Context) error {
	filter, _, _, err := parseEventFilter(c)
	if err != nil {
		return err
	}
	filter.Limit = 500
	filter.Page = 1

	format := c.QueryParam("format")
	if format == "" {
		format = "json"
	}

	var all []*models.SecurityEvent
	for {
		events, total, err := s.events.Query(c.Request().Context(), filter)
		if err != nil {
			return mapServiceError(err)
		}
		all = append(all, events...)
		if len(all) >= total || len(events) == 0 {
			break
		}
		filter.Page++
	}

	switch format {
	case "json":
		c.Response().Header().Set("Content-Disposition", `attachment; filename="security-events.json"`)
		return c.JSON(http.StatusOK, all)
	case "csv":
		c.Response().Header().Set("Content-Type", "text/csv")
		c.Response().Header().Set("Content-Disposition", `attachment; filename="security-events.csv"`)
		c.Response().WriteHeader(http.StatusOK)
		w := csv.NewWriter(c.Response())
		_ = w.Write([]string{"id", "timestamp", "channel", "event_id", "event_type",
			"risk_level", "confidence", "host", "user", "source_ip", "summary", "status"})
		for _, e := range all {
			_ = w.Write([]string{
				e.ID.String(),
				e.Timestamp.UTC().Format(time.RFC3339),
				e.Channel,
				strconv.Itoa(e.EventID),
				string(e.EventType),
				string(e.RiskLevel),
				strconv.Itoa(e.Confidence),
				e.Host,
				e.User,
				e.SourceIP,
				e.Summary,
				string(e.Status),
			})
		}
		w.Flush()
		return w.Error()
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "format must be csv or json")
	}
}

func parseEventFilter(c *echo.Context) (repository.EventFilter, int, int, error) {
	page := intParam(c, "page", 1)
	limit := intParam(c, "limit", 50)
	if page < 1 || limit < 1 {
		return repository.EventFilter{}, 0, 0,
			echo.NewHTTPError(http.StatusBadRequest, "page and limit must be positive")
	}

	filter := repository.EventFilter{
		Page:     page,
		Limit:    limit,
		Host:     c.QueryParam("computer"),
		User:     c.QueryParam("user"),
		SourceIP: c.QueryParam("sourceIP"),
		Text:     c.QueryParam("search"),
	}
	if v := c.QueryParam("riskLevel"); v != "" {
		if !models.ValidRiskLevel(v) {
			return filter, 0, 0, echo.NewHTTPError(http.StatusBadRequest, "unknown riskLevel")
		}
		filter.RiskLevel = models.RiskLevel(v)
	}
	if v := c.QueryParam("eventType"); v != "" {
		if !models.ValidEventType(v) {
			return filter, 0, 0, echo.NewHTTPError(http.StatusBadRequest, "unknown eventType")
		}
		filter.EventType = models.EventType(v)
	}
	if v := c.QueryParam("dateFrom"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, 0, 0, echo.NewHTTPError(http.StatusBadRequest, "dateFrom must be RFC3339")
		}
		filter.From = &t
	}
	if v := c.QueryParam("dateTo"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, 0, 0, echo.NewHTTPError(http.StatusBadRequest, "dateTo must be RFC3339")
		}
		filter.To = &t
	}
	return filter, page, limit, nil
}

func intParam(c *echo.Context, name string, fallback int) int {
	v := c.QueryParam(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func timeParam(c *echo.Context, name string, fallback time.Time) (time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("%s must be RFC3339", name))
	}
	return t, nil
}
