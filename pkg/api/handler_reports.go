package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cortex-ops/cortex/pkg/models"
	"github.com/cortex-ops/cortex/pkg/services"
)

var reportsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cortex_reports_ingested_total",
	Help: "Probe reports accepted, by report status.",
}, []string{"status"})

// IngestResponse is the body returned to a probe after its report is
// processed.
type IngestResponse struct {
	ReportID          int64                     `json:"report_id"`
	L2Decisions       []models.DecisionResponse `json:"l2_decisions"`
	L3AlertsTriggered int                       `json:"l3_alerts_triggered"`
}

// ingestReportHandler handles POST /api/v1/reports: persists the report,
// runs the decision engine over its L2 issues, raises alerts for its L3
// issues, and notifies humans about new ones.
func (s *Server) ingestReportHandler(c *echo.Context) error {
	var report models.ProbeReport
	if err := c.Bind(&report); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid report body")
	}
	if report.AgentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent_id is required")
	}
	ctx := c.Request().Context()

	if err := s.verifyAgentKey(c, report.AgentID); err != nil {
		return err
	}

	// The agent upsert and the report insert commit together; a failed
	// insert must not leave a fresh auto-registered agent with no report.
	tx, err := s.db.Beginx()
	if err != nil {
		return mapServiceError(err)
	}
	agent, err := s.agents.WithTx(tx).EnsureRegistered(ctx, report.AgentID, string(report.Status))
	if err != nil {
		_ = tx.Rollback()
		return mapServiceError(err)
	}
	reportID, err := s.reports.WithTx(tx).Create(ctx, &report)
	if err != nil {
		_ = tx.Rollback()
		return mapServiceError(err)
	}
	if err := tx.Commit(); err != nil {
		return mapServiceError(err)
	}
	reportsIngested.WithLabelValues(string(report.Status)).Inc()

	resp := IngestResponse{ReportID: reportID, L2Decisions: []models.DecisionResponse{}}

	// An agent-level escalation URL overrides the monitor-wide upstream.
	engine := s.engine.WithUpstream(agent.UpstreamURL)

	for _, issue := range report.Issues {
		if issue.Level != models.LevelL2 {
			continue
		}
		verdict, err := engine.Decide(ctx, models.DecisionRequest{
			AgentID:          report.AgentID,
			IssueType:        issue.Type,
			IssueDescription: issue.Description,
			Severity:         issue.Severity,
			ProposedAction:   issue.ProposedFix,
			RiskAssessment:   issue.RiskAssessment,
			Details:          issue.Details,
		})
		if err != nil {
			s.logger.Error("Decision failed during ingest",
				"agent_id", report.AgentID, "issue_type", issue.Type, "error", err)
			continue
		}
		resp.L2Decisions = append(resp.L2Decisions, *verdict)
	}

	created := s.aggregator.ProcessBatch(ctx, report.AgentID, report.Issues)
	resp.L3AlertsTriggered = len(created)
	if len(created) > 0 {
		s.notifier.NotifyAlertBatch(ctx, created)
	}

	if s.connMgr != nil {
		s.connMgr.Publish("report_received", map[string]any{
			"report_id": reportID,
			"agent_id":  report.AgentID,
			"status":    string(report.Status),
			"issues":    len(report.Issues),
			"actions":   len(report.ActionsTaken),
		})
	}
	if s.cache != nil {
		s.cache.ClearPattern("agents:")
		s.cache.ClearPattern("cluster:")
	}

	return respond(c, http.StatusCreated, resp)
}

// listReportsHandler handles GET /api/v1/reports.
func (s *Server) listReportsHandler(c *echo.Context) error {
	filter := services.ReportFilter{
		AgentID: c.QueryParam("agent_id"),
		Status:  c.QueryParam("status"),
		Limit:   queryInt(c, "limit", 0),
		Offset:  queryInt(c, "offset", 0),
	}
	rows, err := s.reports.List(c.Request().Context(), filter)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, rows)
}

// getReportHandler handles GET /api/v1/reports/:id, returning the full
// stored report body.
func (s *Server) getReportHandler(c *echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	row, err := s.reports.Get(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	body, err := row.Body()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "stored report is unreadable")
	}
	return respond(c, http.StatusOK, body)
}

func pathID(c *echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func queryInt(c *echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
