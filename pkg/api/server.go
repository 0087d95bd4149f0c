// Package api exposes the monitor's HTTP surface: report ingestion, the
// cluster registry, decisions, alerts, the audit trail, auth, and the
// WebSocket event stream.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cortex-ops/cortex/pkg/alerts"
	"github.com/cortex-ops/cortex/pkg/auth"
	"github.com/cortex-ops/cortex/pkg/cache"
	"github.com/cortex-ops/cortex/pkg/config"
	"github.com/cortex-ops/cortex/pkg/database"
	"github.com/cortex-ops/cortex/pkg/decision"
	"github.com/cortex-ops/cortex/pkg/events"
	"github.com/cortex-ops/cortex/pkg/intent"
	"github.com/cortex-ops/cortex/pkg/notify"
	"github.com/cortex-ops/cortex/pkg/services"
)

// wsWriteTimeout bounds a single WebSocket send.
const wsWriteTimeout = 5 * time.Second

// Cache TTLs for read-heavy cluster endpoints.
const (
	agentListTTL       = 30 * time.Second
	clusterOverviewTTL = 30 * time.Second
	topologyTTL        = 60 * time.Second
)

// Server wires the service layer to the HTTP API.
type Server struct {
	cfg      config.MonitorConfig
	dbClient *database.Client
	db       *sqlx.DB

	agents    *services.AgentService
	reports   *services.ReportService
	decisions *services.DecisionService
	alerts    *services.AlertService
	users     *services.UserService
	apiKeys   *services.APIKeyService

	engine     *decision.Engine
	aggregator *alerts.Aggregator
	notifier   *notify.Service
	connMgr    *events.ConnectionManager
	intents    *intent.Recorder
	issuer     *auth.TokenIssuer
	cache      *cache.Cache

	logger *slog.Logger
}

// Deps bundles everything the server needs. notifier, intents, and connMgr
// may be nil.
type Deps struct {
	Config   config.MonitorConfig
	DBClient *database.Client
	DB       *sqlx.DB

	Agents    *services.AgentService
	Reports   *services.ReportService
	Decisions *services.DecisionService
	Alerts    *services.AlertService
	Users     *services.UserService
	APIKeys   *services.APIKeyService

	Engine     *decision.Engine
	Aggregator *alerts.Aggregator
	Notifier   *notify.Service
	ConnMgr    *events.ConnectionManager
	Intents    *intent.Recorder
	Issuer     *auth.TokenIssuer
	Cache      *cache.Cache
}

// NewServer creates the API server.
func NewServer(deps Deps) *Server {
	return &Server{
		cfg:        deps.Config,
		dbClient:   deps.DBClient,
		db:         deps.DB,
		agents:     deps.Agents,
		reports:    deps.Reports,
		decisions:  deps.Decisions,
		alerts:     deps.Alerts,
		users:      deps.Users,
		apiKeys:    deps.APIKeys,
		engine:     deps.Engine,
		aggregator: deps.Aggregator,
		notifier:   deps.Notifier,
		connMgr:    deps.ConnMgr,
		intents:    deps.Intents,
		issuer:     deps.Issuer,
		cache:      deps.Cache,
		logger:     slog.Default().With("component", "api"),
	}
}

// Handler builds the routing table and returns the HTTP handler to serve.
func (s *Server) Handler() http.Handler {
	e := echo.New()
	e.Use(securityHeaders())

	e.GET("/health", s.healthHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/ws", s.websocketHandler)

	api := e.Group("/api/v1")

	// Probe-facing endpoints authenticate with the agent's API key.
	api.POST("/reports", s.ingestReportHandler, s.agentAuth())
	api.POST("/heartbeat", s.quickHeartbeatHandler, s.agentAuth())
	api.POST("/agents/:id/heartbeat", s.heartbeatHandler, s.agentAuth())
	api.POST("/decisions/request", s.requestDecisionHandler, s.agentAuth())
	api.POST("/decisions/:id/feedback", s.decisionFeedbackHandler, s.agentAuth())

	// Registration is guarded by the shared cluster token.
	api.POST("/agents", s.registerAgentHandler)

	// Operator endpoints authenticate with a JWT or a managed API key.
	authed := api.Group("", s.authenticate())

	authed.GET("/agents", s.listAgentsHandler)
	authed.GET("/agents/:id", s.getAgentHandler)
	authed.DELETE("/agents/:id", s.deleteAgentHandler, s.requireRole(services.RoleAdmin))
	authed.GET("/cluster/overview", s.clusterOverviewHandler)
	authed.GET("/cluster/topology", s.topologyHandler)

	authed.GET("/reports", s.listReportsHandler)
	authed.GET("/reports/:id", s.getReportHandler)

	authed.GET("/decisions", s.listDecisionsHandler)
	authed.GET("/decisions/:id", s.getDecisionHandler)

	authed.GET("/alerts", s.listAlertsHandler)
	authed.GET("/alerts/stats/summary", s.alertSummaryHandler)
	authed.GET("/alerts/:id", s.getAlertHandler)
	authed.POST("/alerts/:id/acknowledge", s.acknowledgeAlertHandler, s.requireRole(services.RoleOperator))
	authed.POST("/alerts/:id/resolve", s.resolveAlertHandler, s.requireRole(services.RoleOperator))

	authed.GET("/intents", s.listIntentsHandler)
	authed.GET("/intents/stats/summary", s.intentSummaryHandler)
	authed.GET("/intents/:id", s.getIntentHandler)

	api.POST("/auth/login", s.loginHandler)
	api.POST("/auth/refresh", s.refreshHandler)
	authed.GET("/auth/me", s.whoamiHandler)
	authed.GET("/auth/users", s.listUsersHandler, s.requireRole(services.RoleAdmin))
	authed.POST("/auth/users", s.createUserHandler, s.requireRole(services.RoleAdmin))
	authed.PATCH("/auth/users/:id", s.updateUserHandler, s.requireRole(services.RoleAdmin))
	authed.DELETE("/auth/users/:id", s.deleteUserHandler, s.requireRole(services.RoleAdmin))
	authed.GET("/auth/api-keys", s.listAPIKeysHandler, s.requireRole(services.RoleAdmin))
	authed.POST("/auth/api-keys", s.createAPIKeyHandler, s.requireRole(services.RoleAdmin))
	authed.DELETE("/auth/api-keys/:id", s.revokeAPIKeyHandler, s.requireRole(services.RoleAdmin))

	return e
}
