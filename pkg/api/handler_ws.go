package api

import (
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/sentinelsec/sentinel/pkg/hub"
)

// negotiateHandler handles the hub negotiation request. Returns the
// connection metadata and the single supported transport; the client then
// opens the long-lived WebSocket at the hub path.
func (s *Server) negotiateHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"connectionId": uuid.New().String(),
		"availableTransports": []map[string]any{
			{
				"transport":       "WebSockets",
				"transferFormats": []string{"Text"},
			},
		},
	})
}

// hubHandler upgrades GET /hubs/scan-progress to a WebSocket and hands the
// connection to the hub. The principal is pre-validated upstream; the
// gateway injects subject and roles.
func (s *Server) hubHandler(c *echo.Context) error {
	opts := &websocket.AcceptOptions{}
	if len(s.cfg.Server.AllowedWSOrigins) > 0 {
		opts.OriginPatterns = s.cfg.Server.AllowedWSOrigins
	} else {
		opts.InsecureSkipVerify = true
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), opts)
	if err != nil {
		return err
	}

	principal := hub.Principal{
		Subject: c.Request().Header.Get("X-Sentinel-Subject"),
		Roles:   splitRoles(c.Request().Header.Get("X-Sentinel-Role")),
	}

	// HandleConnection blocks until the WebSocket closes.
	s.hub.HandleConnection(c.Request().Context(), conn, principal)
	return nil
}

// scanProgressHandler handles POST /api/scanner/progress: the external
// threat scanner relays its progress here and the hub fans it out to the
// scan's subscribers.
func (s *Server) scanProgressHandler(c *echo.Context) error {
	var update hub.ScanProgressUpdate
	if err := c.Bind(&update); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if update.ScanID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "scan_id is required")
	}
	s.hub.PublishScanProgress(update)
	return c.JSON(http.StatusAccepted, map[string]string{"status": "published"})
}

func splitRoles(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
