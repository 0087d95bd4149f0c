package probe

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/cortex-ops/cortex/pkg/config"
	"github.com/cortex-ops/cortex/pkg/events"
	"github.com/cortex-ops/cortex/pkg/queue"
	"github.com/cortex-ops/cortex/pkg/version"
)

// Server is the probe's local HTTP API: status, manual triggers, schedule
// control, local report history, and the inspection event stream.
type Server struct {
	cfg       *config.Config
	scheduler *Scheduler
	queue     *queue.Store
	connMgr   *events.ConnectionManager
	logger    *slog.Logger
}

// NewServer creates the probe API server. queue and connMgr may be nil.
func NewServer(cfg *config.Config, scheduler *Scheduler, store *queue.Store, connMgr *events.ConnectionManager) *Server {
	return &Server{
		cfg:       cfg,
		scheduler: scheduler,
		queue:     store,
		connMgr:   connMgr,
		logger:    slog.Default().With("component", "probe-api"),
	}
}

// Handler builds the routing table and returns the HTTP handler to serve.
func (s *Server) Handler() http.Handler {
	e := echo.New()

	e.GET("/health", s.healthHandler)
	e.GET("/status", s.statusHandler)
	e.GET("/config", s.configHandler)
	e.POST("/execute", s.executeHandler)
	e.GET("/schedule", s.scheduleHandler)
	e.POST("/schedule/pause", s.pauseHandler)
	e.POST("/schedule/resume", s.resumeHandler)
	e.GET("/reports", s.reportsHandler)
	e.GET("/reports/:id", s.reportHandler)
	e.GET("/ws", s.websocketHandler)

	return e
}

func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":   "ok",
		"agent_id": s.cfg.Agent.ID,
		"version":  version.Version,
	})
}

// statusHandler reports scheduler state plus queue depth.
func (s *Server) statusHandler(c *echo.Context) error {
	out := map[string]any{
		"agent_id":  s.cfg.Agent.ID,
		"scheduler": s.scheduler.Status(),
	}
	if s.queue != nil {
		stats, err := s.queue.Stats(c.Request().Context())
		if err != nil {
			s.logger.Error("Failed to read queue stats", "error", err)
		} else {
			out["queue"] = stats
		}
	}
	return c.JSON(http.StatusOK, out)
}

// configHandler exposes the running configuration with secrets blanked.
func (s *Server) configHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.cfg.Redacted())
}

// ExecuteRequest is the body of POST /execute.
type ExecuteRequest struct {
	Force bool `json:"force"`
}

func (s *Server) executeHandler(c *echo.Context) error {
	var req ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid execute body")
	}

	id, err := s.scheduler.ExecuteOnce(c.Request().Context(), req.Force)
	if errors.Is(err, ErrAlreadyRunning) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"execution_id": id})
}

func (s *Server) scheduleHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.scheduler.Status())
}

func (s *Server) pauseHandler(c *echo.Context) error {
	s.scheduler.Pause()
	return c.JSON(http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) resumeHandler(c *echo.Context) error {
	s.scheduler.Resume()
	return c.JSON(http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) reportsHandler(c *echo.Context) error {
	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	return c.JSON(http.StatusOK, s.scheduler.RecentReports(limit))
}

func (s *Server) reportHandler(c *echo.Context) error {
	exec := s.scheduler.GetReport(c.Param("id"))
	if exec == nil {
		return echo.NewHTTPError(http.StatusNotFound, "execution not found")
	}
	return c.JSON(http.StatusOK, exec)
}

func (s *Server) websocketHandler(c *echo.Context) error {
	if s.connMgr == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event stream is disabled")
	}
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", "error", err)
		return nil
	}
	s.connMgr.HandleConnection(c.Request().Context(), conn)
	return nil
}
