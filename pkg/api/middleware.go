package api

import (
	"net/http"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"
)

const correlationIDKey = "correlation_id"

// correlationIDMiddleware assigns every request a correlation id (reusing a
// caller-provided X-Correlation-ID) and echoes it on the response. The id
// propagates into logs and the error envelope.
func correlationIDMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			id := c.Request().Header.Get("X-Correlation-ID")
			if id == "" {
				id = uuid.New().String()
			}
			c.Set(correlationIDKey, id)
			c.Response().Header().Set("X-Correlation-ID", id)
			return next(c)
		}
	}
}

// correlationID reads the request's correlation id.
func correlationID(c *echo.Context) string {
	if id, ok := c.Get(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// securityHeaders sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}

// adminOnly gates write endpoints on the pre-validated principal role
// header. Authentication/JWT issuance is external; the gateway injects the
// role after validating the caller.
func adminOnly() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			role := c.Request().Header.Get("X-Sentinel-Role")
			if role == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing principal")
			}
			if role != "admin" {
				return echo.NewHTTPError(http.StatusForbidden, "admin role required")
			}
			return next(c)
		}
	}
}
