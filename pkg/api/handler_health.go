package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/cortex-ops/cortex/pkg/database"
	"github.com/cortex-ops/cortex/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// HealthCheck is one component's verdict in the health response.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string                 `json:"status"`
	Version     string                 `json:"version"`
	Connections int                    `json:"ws_connections"`
	Checks      map[string]HealthCheck `json:"checks"`
}

// healthHandler handles GET /health. Unauthenticated; only the monitor's
// own database is checked.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if _, err := database.Health(reqCtx, s.dbClient.DB()); err != nil {
		status = healthStatusUnhealthy
		checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["database"] = HealthCheck{Status: healthStatusHealthy}
	}

	connections := 0
	if s.connMgr != nil {
		connections = s.connMgr.ActiveConnections()
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:      status,
		Version:     version.Version,
		Connections: connections,
		Checks:      checks,
	})
}
