package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/cortex-ops/cortex/pkg/cache"
	"github.com/cortex-ops/cortex/pkg/models"
	"github.com/cortex-ops/cortex/pkg/services"
	"github.com/cortex-ops/cortex/pkg/topology"
)

// RegisterAgentRequest is the body of POST /api/v1/agents. The shared
// cluster registration token travels in the body, not a header.
type RegisterAgentRequest struct {
	ID                string  `json:"id"`
	Hostname          string  `json:"hostname"`
	IPAddress         string  `json:"ip_address"`
	Version           string  `json:"version"`
	Role              string  `json:"role"`
	ParentID          *string `json:"parent_id"`
	UpstreamURL       string  `json:"upstream_url"`
	APIKey            string  `json:"api_key"`
	RegistrationToken string  `json:"registration_token"`
}

// registerAgentHandler handles POST /api/v1/agents, guarded by the shared
// cluster registration token.
func (s *Server) registerAgentHandler(c *echo.Context) error {
	var req RegisterAgentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid registration body")
	}
	if req.RegistrationToken == "" || req.RegistrationToken != s.cfg.RegistrationToken {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid registration token")
	}

	agent, created, err := s.agents.Register(c.Request().Context(), services.RegisterInput{
		ID:          req.ID,
		Hostname:    req.Hostname,
		IPAddress:   req.IPAddress,
		Version:     req.Version,
		Role:        req.Role,
		ParentID:    req.ParentID,
		UpstreamURL: req.UpstreamURL,
		APIKey:      req.APIKey,
	})
	if err != nil {
		return mapServiceError(err)
	}

	if s.cache != nil {
		s.cache.ClearPattern("agents:")
		s.cache.ClearPattern("cluster:")
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return respond(c, status, agent)
}

// listAgentsHandler handles GET /api/v1/agents with a short cache.
func (s *Server) listAgentsHandler(c *echo.Context) error {
	filter := services.AgentFilter{
		Status:       c.QueryParam("status"),
		HealthStatus: c.QueryParam("health"),
		Limit:        queryInt(c, "limit", 0),
		Offset:       queryInt(c, "offset", 0),
	}

	key := cache.Key("agents", filter)
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			return respond(c, http.StatusOK, cached)
		}
	}

	agents, err := s.agents.List(c.Request().Context(), filter)
	if err != nil {
		return mapServiceError(err)
	}
	if s.cache != nil {
		s.cache.Set(key, agents, agentListTTL)
	}
	return respond(c, http.StatusOK, agents)
}

// AgentDetail pairs an agent with its report statistics.
type AgentDetail struct {
	services.Agent
	ReportCount       int `json:"report_count"`
	ReportCountLast24 int `json:"report_count_last_24h"`
}

// getAgentHandler handles GET /api/v1/agents/:id.
func (s *Server) getAgentHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	agent, err := s.agents.Get(ctx, c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	total, last24h, err := s.reports.CountForAgent(ctx, agent.ID)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, AgentDetail{
		Agent:             *agent,
		ReportCount:       total,
		ReportCountLast24: last24h,
	})
}

// deleteAgentHandler handles DELETE /api/v1/agents/:id.
func (s *Server) deleteAgentHandler(c *echo.Context) error {
	if err := s.agents.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	if s.cache != nil {
		s.cache.ClearPattern("agents:")
		s.cache.ClearPattern("cluster:")
	}
	return respondMessage(c, http.StatusOK, "agent deleted")
}

// HeartbeatRequest is the body of POST /api/v1/agents/:id/heartbeat.
type HeartbeatRequest struct {
	HealthStatus string `json:"health_status"`
}

// heartbeatHandler handles POST /api/v1/agents/:id/heartbeat.
func (s *Server) heartbeatHandler(c *echo.Context) error {
	agentID := c.Param("id")
	if err := s.verifyAgentKey(c, agentID); err != nil {
		return err
	}

	var req HeartbeatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid heartbeat body")
	}

	agent, oldStatus, err := s.agents.Heartbeat(c.Request().Context(), agentID, req.HealthStatus)
	if err != nil {
		return mapServiceError(err)
	}
	s.afterHeartbeat(agent, oldStatus)
	return respond(c, http.StatusOK, agent)
}

// quickHeartbeatHandler handles POST /api/v1/heartbeat?agent_id=X, the
// lightweight liveness ping without a health verdict.
func (s *Server) quickHeartbeatHandler(c *echo.Context) error {
	agentID := c.QueryParam("agent_id")
	if agentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent_id is required")
	}
	if err := s.verifyAgentKey(c, agentID); err != nil {
		return err
	}

	agent, oldStatus, err := s.agents.Heartbeat(c.Request().Context(), agentID, "")
	if err != nil {
		return mapServiceError(err)
	}
	s.afterHeartbeat(agent, oldStatus)
	return respond(c, http.StatusOK, agent)
}

// afterHeartbeat publishes the status transition and drops stale cache
// entries.
func (s *Server) afterHeartbeat(agent *services.Agent, oldStatus models.AgentStatus) {
	if oldStatus != agent.Status && s.connMgr != nil {
		s.connMgr.Publish("agent_status_changed", map[string]any{
			"agent_id":   agent.ID,
			"old_status": string(oldStatus),
			"new_status": string(agent.Status),
		})
	}
	if s.cache != nil {
		s.cache.ClearPattern("agents:")
		s.cache.ClearPattern("cluster:")
	}
}

// clusterOverviewHandler handles GET /api/v1/cluster/overview.
func (s *Server) clusterOverviewHandler(c *echo.Context) error {
	key := cache.Key("cluster", "overview")
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			return respond(c, http.StatusOK, cached)
		}
	}

	overview, err := s.agents.ClusterOverview(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	if s.cache != nil {
		s.cache.Set(key, overview, clusterOverviewTTL)
	}
	return respond(c, http.StatusOK, overview)
}

// topologyHandler handles GET /api/v1/cluster/topology.
func (s *Server) topologyHandler(c *echo.Context) error {
	key := cache.Key("cluster", "topology")
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			return respond(c, http.StatusOK, cached)
		}
	}

	agents, err := s.agents.ListAll(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	tree := topology.Build(agents)
	if s.cache != nil {
		s.cache.Set(key, tree, topologyTTL)
	}
	return respond(c, http.StatusOK, tree)
}
