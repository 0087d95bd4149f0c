package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/cortex-ops/cortex/pkg/models"
	"github.com/cortex-ops/cortex/pkg/services"
)

// requestDecisionHandler handles POST /api/v1/decisions/request: a child
// monitor or probe escalates one L2 issue for a verdict.
func (s *Server) requestDecisionHandler(c *echo.Context) error {
	var req models.DecisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid decision request body")
	}
	if err := s.verifyAgentKey(c, req.AgentID); err != nil {
		return err
	}

	verdict, err := s.engine.Decide(c.Request().Context(), req)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, verdict)
}

// listDecisionsHandler handles GET /api/v1/decisions.
func (s *Server) listDecisionsHandler(c *echo.Context) error {
	filter := services.DecisionFilter{
		AgentID: c.QueryParam("agent_id"),
		Status:  c.QueryParam("status"),
		Limit:   queryInt(c, "limit", 0),
		Offset:  queryInt(c, "offset", 0),
	}
	decisions, err := s.decisions.List(c.Request().Context(), filter)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, decisions)
}

// getDecisionHandler handles GET /api/v1/decisions/:id.
func (s *Server) getDecisionHandler(c *echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	decision, err := s.decisions.Get(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, decision)
}

// DecisionFeedbackRequest is the body of POST /api/v1/decisions/:id/feedback.
type DecisionFeedbackRequest struct {
	Result string `json:"result"`
}

// decisionFeedbackHandler handles POST /api/v1/decisions/:id/feedback: the
// agent reports how the approved action went.
func (s *Server) decisionFeedbackHandler(c *echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	var req DecisionFeedbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid feedback body")
	}
	if req.Result == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "result is required")
	}

	decision, err := s.decisions.RecordFeedback(c.Request().Context(), id, req.Result)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, decision)
}
