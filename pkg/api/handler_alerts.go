package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/cortex-ops/cortex/pkg/services"
)

// listAlertsHandler handles GET /api/v1/alerts.
func (s *Server) listAlertsHandler(c *echo.Context) error {
	filter := services.AlertFilter{
		AgentID:  c.QueryParam("agent_id"),
		Level:    c.QueryParam("level"),
		Status:   c.QueryParam("status"),
		Severity: c.QueryParam("severity"),
		Limit:    queryInt(c, "limit", 0),
		Offset:   queryInt(c, "offset", 0),
	}
	alerts, err := s.alerts.List(c.Request().Context(), filter)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, alerts)
}

// getAlertHandler handles GET /api/v1/alerts/:id.
func (s *Server) getAlertHandler(c *echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	alert, err := s.alerts.Get(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, alert)
}

// AlertActionRequest is the body of the acknowledge and resolve endpoints.
type AlertActionRequest struct {
	By    string `json:"by"`
	Notes string `json:"notes"`
}

// acknowledgeAlertHandler handles POST /api/v1/alerts/:id/acknowledge.
func (s *Server) acknowledgeAlertHandler(c *echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	var req AlertActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.By == "" {
		if username, ok := c.Get(ctxKeyUsername).(string); ok {
			req.By = username
		}
	}

	alert, err := s.alerts.Acknowledge(c.Request().Context(), id, req.By, req.Notes)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, alert)
}

// resolveAlertHandler handles POST /api/v1/alerts/:id/resolve.
func (s *Server) resolveAlertHandler(c *echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	var req AlertActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	alert, err := s.alerts.Resolve(c.Request().Context(), id, req.Notes)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, alert)
}

// alertSummaryHandler handles GET /api/v1/alerts/stats/summary.
func (s *Server) alertSummaryHandler(c *echo.Context) error {
	hours := queryInt(c, "hours", 24)
	if hours <= 0 {
		hours = 24
	}
	summary, err := s.alerts.Summarize(c.Request().Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, summary)
}
