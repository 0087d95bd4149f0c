package api

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/cortex-ops/cortex/pkg/intent"
)

// listIntentsHandler handles GET /api/v1/intents.
func (s *Server) listIntentsHandler(c *echo.Context) error {
	if s.intents == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "intent auditing is disabled")
	}

	filter := intent.Filter{
		AgentID:  c.QueryParam("agent_id"),
		Kind:     c.QueryParam("type"),
		Level:    c.QueryParam("level"),
		Category: c.QueryParam("category"),
		Limit:    queryInt(c, "limit", 0),
		Offset:   queryInt(c, "offset", 0),
	}
	if hours := queryInt(c, "hours", 0); hours > 0 {
		filter.Since = time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	}

	records, err := s.intents.Query(c.Request().Context(), filter)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, records)
}

// getIntentHandler handles GET /api/v1/intents/:id.
func (s *Server) getIntentHandler(c *echo.Context) error {
	if s.intents == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "intent auditing is disabled")
	}

	id, err := pathID(c)
	if err != nil {
		return err
	}
	record, err := s.intents.Get(c.Request().Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, record)
}

// intentSummaryHandler handles GET /api/v1/intents/stats/summary.
func (s *Server) intentSummaryHandler(c *echo.Context) error {
	hours := queryInt(c, "hours", 24)
	if hours <= 0 {
		hours = 24
	}
	summary, err := s.intents.Summarize(c.Request().Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, summary)
}
