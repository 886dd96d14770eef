// Package api provides the HTTP/WebSocket surface: the REST endpoints
// consumed by the dashboard and CLI, plus the real-time hub route.
package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentinelsec/sentinel/pkg/config"
	"github.com/sentinelsec/sentinel/pkg/database"
	"github.com/sentinelsec/sentinel/pkg/embedding"
	"github.com/sentinelsec/sentinel/pkg/hub"
	"github.com/sentinelsec/sentinel/pkg/pipeline"
	"github.com/sentinelsec/sentinel/pkg/pool"
	"github.com/sentinelsec/sentinel/pkg/repository"
	"github.com/sentinelsec/sentinel/pkg/services"
	"github.com/sentinelsec/sentinel/pkg/vectorstore"
	"github.com/sentinelsec/sentinel/pkg/version"
)

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	cfg        *config.Config

	dbClient     *database.Client
	events       *services.EventService
	rules        *services.RuleService
	correlations *services.CorrelationService
	dashboard    *services.DashboardService
	system       *services.SystemService
	templates    *repository.TemplateRepository
	deadLetters  *repository.DeadLetterRepository
	orchestrator *pipeline.Orchestrator
	embedder     *embedding.Service
	vectors      *vectorstore.Client
	vectorPool   *pool.Pool
	hub          *hub.Hub
}

// Deps bundles the server's collaborators.
type Deps struct {
	DB           *database.Client
	Events       *services.EventService
	Rules        *services.RuleService
	Correlations *services.CorrelationService
	Dashboard    *services.DashboardService
	System       *services.SystemService
	Templates    *repository.TemplateRepository
	DeadLetters  *repository.DeadLetterRepository
	Orchestrator *pipeline.Orchestrator
	Embedder     *embedding.Service
	Vectors      *vectorstore.Client
	VectorPool   *pool.Pool
	Hub          *hub.Hub
}

// NewServer creates the API server and registers all routes.
func NewServer(cfg *config.Config, deps Deps) *Server {
	e := echo.New()

	s := &Server{
		echo:         e,
		cfg:          cfg,
		dbClient:     deps.DB,
		events:       deps.Events,
		rules:        deps.Rules,
		correlations: deps.Correlations,
		dashboard:    deps.Dashboard,
		system:       deps.System,
		templates:    deps.Templates,
		deadLetters:  deps.DeadLetters,
		orchestrator: deps.Orchestrator,
		embedder:     deps.Embedder,
		vectors:      deps.Vectors,
		vectorPool:   deps.VectorPool,
		hub:          deps.Hub,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.HTTPErrorHandler = errorHandler
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))
	s.echo.Use(correlationIDMiddleware())
	s.echo.Use(securityHeaders())

	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/metrics", func(c *echo.Context) error {
		promhttp.Handler().ServeHTTP(c.Response(), c.Request())
		return nil
	})

	api := s.echo.Group("/api")

	// Events & aggregates
	api.GET("/security-events", s.listEventsHandler)
	api.GET("/security-events/export", s.exportEventsHandler)
	api.GET("/security-events/:id", s.getEventHandler)
	api.PATCH("/security-events/:id", s.patchEventHandler)
	api.GET("/timeline", s.timelineHandler)
	api.GET("/timeline/stats", s.timelineStatsHandler)
	api.GET("/dashboarddata/consolidated", s.dashboardHandler)
	api.POST("/dashboarddata/broadcast", s.broadcastHandler)

	// Detection rules (admin-gated writes)
	api.GET("/security-event-rules", s.listRulesHandler)
	api.POST("/security-event-rules", s.createRuleHandler, adminOnly())
	api.PUT("/security-event-rules/:id", s.updateRuleHandler, adminOnly())
	api.DELETE("/security-event-rules/:id", s.deleteRuleHandler, adminOnly())

	// Correlations
	api.GET("/correlation/statistics", s.correlationStatsHandler)
	api.GET("/correlation/rules", s.correlationRulesHandler)
	api.PUT("/correlation/rules/:id", s.updateCorrelationRuleHandler, adminOnly())
	api.GET("/correlation/correlations", s.listCorrelationsHandler)
	api.POST("/correlation/analyze", s.analyzeHandler)

	// Notification templates (storage only)
	api.GET("/notification-templates", s.listTemplatesHandler)
	api.POST("/notification-templates", s.createTemplateHandler, adminOnly())
	api.PUT("/notification-templates/:id", s.updateTemplateHandler, adminOnly())
	api.DELETE("/notification-templates/:id", s.deleteTemplateHandler, adminOnly())

	// Vector & system
	api.POST("/vector/search", s.vectorSearchHandler)
	api.GET("/system-status", s.systemStatusHandler)
	api.GET("/database-pool/metrics", s.dbPoolMetricsHandler)
	api.GET("/database-pool/connections", s.dbPoolConnectionsHandler)
	api.GET("/pipeline/metrics", s.pipelineMetricsHandler)
	api.GET("/dead-letters", s.deadLettersHandler)

	// Scanner progress relay (the scanner itself is external)
	api.POST("/scanner/progress", s.scanProgressHandler, adminOnly())

	// Real-time hub
	s.echo.GET("/hubs/scan-progress", s.hubHandler)
	s.echo.POST("/hubs/scan-progress/negotiate", s.negotiateHandler)
	s.echo.GET("/hubs/scan-progress/negotiate", s.negotiateHandler)
}

// Start starts the HTTP server (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *echo.Context) error {
	overview := s.system.Overview(c.Request().Context())

	status := "healthy"
	code := http.StatusOK
	if overview.HealthyComponents < overview.TotalComponents {
		status = "degraded"
	}
	if overview.TotalComponents > 0 && overview.HealthyComponents == 0 {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	return c.JSON(code, map[string]any{
		"status":     status,
		"version":    version.Full(),
		"components": overview.ComponentStatuses,
	})
}
