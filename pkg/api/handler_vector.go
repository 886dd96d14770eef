package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// VectorSearchRequest is the body of POST /api/vector/search.
type VectorSearchRequest struct {
	Query               string  `json:"query"`
	Limit               int     `json:"limit"`
	SimilarityThreshold float64 `json:"similarityThreshold"`
}

// vectorSearchHandler handles POST /api/vector/search: embeds the query
// text and searches the vector store.
func (s *Server) vectorSearchHandler(c *echo.Context) error {
	if s.embedder == nil || s.vectors == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "vector search not configured")
	}

	var req VectorSearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	if req.Limit > 100 {
		return echo.NewHTTPError(http.StatusBadRequest, "limit must be at most 100")
	}
	if req.SimilarityThreshold < 0 || req.SimilarityThreshold > 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "similarityThreshold must be 0..1")
	}

	ctx := c.Request().Context()
	vec, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "embedding unavailable")
	}
	results, err := s.vectors.Search(ctx, vec, req.Limit, req.SimilarityThreshold)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "vector search failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"results": results})
}
