package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/sentinelsec/sentinel/pkg/repository"
	"github.com/sentinelsec/sentinel/pkg/services"
)

// ErrorBody is the wire error envelope returned by every REST endpoint on
// failure.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the taxonomy code, message and request correlation id.
type ErrorDetail struct {
	Code          string         `json:"code"`
	Message       string         `json:"message"`
	Details       map[string]any `json:"details,omitempty"`
	CorrelationID string         `json:"correlationId"`
	Timestamp     string         `json:"timestamp"`
}

// codeForStatus maps HTTP statuses to taxonomy codes.
func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "VALIDATION_ERROR"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		return "INTERNAL_ERROR"
	}
}

// errorHandler renders every error through the standard envelope, carrying
// the request's correlation id.
func errorHandler(c *echo.Context, err error) {
	status := http.StatusInternalServerError
	message := "internal server error"

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		status = httpErr.Code
		if httpErr.Message != "" {
			message = httpErr.Message
		}
	}

	if status >= 500 {
		slog.Error("Request failed", "status", status, "error", err,
			"correlation_id", correlationID(c))
	}

	body := ErrorBody{Error: ErrorDetail{
		Code:          codeForStatus(status),
		Message:       message,
		CorrelationID: correlationID(c),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}}
	if err := c.JSON(status, body); err != nil {
		slog.Error("Failed to write error response", "error", err)
	}
}

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, services.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, services.ErrAlreadyExists) {
		return echo.NewHTTPError(http.StatusConflict, "resource already exists")
	}
	if errors.Is(err, services.ErrInvalidInput) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, repository.ErrDuplicate) {
		return echo.NewHTTPError(http.StatusConflict, "resource already exists")
	}

	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
