package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/sentinelsec/sentinel/pkg/models"
)

// dashboardHandler handles GET /api/dashboarddata/consolidated.
func (s *Server) dashboardHandler(c *echo.Context) error {
	timeRange := c.QueryParam("timeRange")
	if timeRange == "" {
		timeRange = string(models.Range24h)
	}
	if !models.ValidTimeRange(timeRange) {
		return echo.NewHTTPError(http.StatusBadRequest, "timeRange must be 1h|24h|7d|30d")
	}

	snap, err := s.dashboard.Consolidated(c.Request().Context(), models.TimeRange(timeRange))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

// broadcastHandler handles POST /api/dashboarddata/broadcast: an immediate
// snapshot push through the hub, bypassing the debounce window.
func (s *Server) broadcastHandler(c *echo.Context) error {
	if err := s.hub.BroadcastSnapshot(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "snapshot broadcast failed")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "broadcast"})
}
