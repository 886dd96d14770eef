package api

import (
	"net/http"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/sentinelsec/sentinel/pkg/models"
)

// TimelineResponse is the response of GET /api/timeline.
type TimelineResponse struct {
	Data  []models.TimelineBucket `json:"data"`
	Total int                     `json:"total"`
}

// timelineHandler handles GET /api/timeline.
func (s *Server) timelineHandler(c *echo.Context) error {
	granularity := c.QueryParam("granularity")
	if granularity == "" {
		granularity = "hour"
	}

	now := time.Now().UTC()
	from, err := timeParam(c, "from", now.Add(-24*time.Hour))
	if err != nil {
		return err
	}
	to, err := timeParam(c, "to", now)
	if err != nil {
		return err
	}

	var eventTypes []models.EventType
	if v := c.QueryParam("eventTypes"); v != "" {
		for _, t := range strings.Split(v, ",") {
			if !models.ValidEventType(t) {
				return echo.NewHTTPError(http.StatusBadRequest, "unknown event type in eventTypes")
			}
			eventTypes = append(eventTypes, models.EventType(t))
		}
	}
	var riskLevels []models.RiskLevel
	if v := c.QueryParam("riskLevels"); v != "" {
		for _, l := range strings.Split(v, ",") {
			if !models.ValidRiskLevel(l) {
				return echo.NewHTTPError(http.StatusBadRequest, "unknown risk level in riskLevels")
			}
			riskLevels = append(riskLevels, models.RiskLevel(l))
		}
	}

	buckets, err := s.events.Timeline(c.Request().Context(), from, to, granularity, eventTypes, riskLevels)
	if err != nil {
		return mapServiceError(err)
	}
	if buckets == nil {
		buckets = []models.TimelineBucket{}
	}

	total := 0
	for _, b := range buckets {
		total += b.Count
	}
	return c.JSON(http.StatusOK, TimelineResponse{Data: buckets, Total: total})
}

// timelineStatsHandler handles GET /api/timeline/stats.
func (s *Server) timelineStatsHandler(c *echo.Context) error {
	now := time.Now().UTC()
	start, err := timeParam(c, "startTime", now.Add(-24*time.Hour))
	if err != nil {
		return err
	}
	end, err := timeParam(c, "endTime", now)
	if err != nil {
		return err
	}

	stats, err := s.events.TimelineStats(c.Request().Context(), start, end)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, stats)
}
