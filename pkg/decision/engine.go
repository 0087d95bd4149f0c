// Package decision turns escalated L2 issues into approve/reject verdicts,
// either by consulting the LLM locally or by forwarding the request to a
// parent monitor.
package decision

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cortex-ops/cortex/pkg/events"
	"github.com/cortex-ops/cortex/pkg/intent"
	"github.com/cortex-ops/cortex/pkg/llm"
	"github.com/cortex-ops/cortex/pkg/models"
	"github.com/cortex-ops/cortex/pkg/services"
)

var decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cortex_decisions_total",
	Help: "Decision verdicts by status.",
}, []string{"status"})

const systemPrompt = `You are the decision engine of a server operations network.
You receive one issue detected on a host and must decide whether the proposed
remediation is safe to execute automatically.

Respond with exactly these lines:
DECISION: APPROVE or REJECT
REASON: one sentence justifying the verdict
ANALYSIS: a short assessment of the issue and the remediation risk

Reject anything destructive, irreversible, or unclear. Service restarts,
cache flushes, and log cleanup are generally safe. Package removals, config
rewrites, and anything touching data volumes are not.`

// Engine produces verdicts for escalated issues.
type Engine struct {
	llm       llm.Client
	forwarder *Forwarder
	decisions *services.DecisionService
	intents   *intent.Recorder
	events    events.Publisher
	logger    *slog.Logger
}

// NewEngine creates an Engine. llmClient may be nil (verdicts are then
// rejected unless a forwarder answers); forwarder and publisher may be nil.
func NewEngine(llmClient llm.Client, forwarder *Forwarder, decisions *services.DecisionService, intents *intent.Recorder, publisher events.Publisher) *Engine {
	return &Engine{
		llm:       llmClient,
		forwarder: forwarder,
		decisions: decisions,
		intents:   intents,
		events:    publisher,
		logger:    slog.Default().With("component", "decision-engine"),
	}
}

// WithUpstream returns an engine that escalates to url instead of the
// configured default upstream, reusing the default's credential. An empty
// url returns the receiver unchanged.
func (e *Engine) WithUpstream(url string) *Engine {
	if url == "" {
		return e
	}
	key := ""
	if e.forwarder != nil {
		key = e.forwarder.apiKey
	}
	clone := *e
	clone.forwarder = NewForwarder(url, key)
	return &clone
}

// Decide produces and persists a verdict for one escalated issue. When a
// parent monitor is configured its verdict wins; if the parent cannot be
// reached the engine decides locally.
func (e *Engine) Decide(ctx context.Context, req models.DecisionRequest) (*models.DecisionResponse, error) {
	if req.AgentID == "" {
		return nil, services.NewValidationError("agent_id", "agent id is required")
	}
	if req.IssueType == "" {
		return nil, services.NewValidationError("issue_type", "issue type is required")
	}
	if req.Severity == "" {
		req.Severity = models.SeverityMedium
	}

	var verdict Verdict
	decidedBy := "local"

	// A parent verdict is still materialized as a local row so listings and
	// execution feedback work the same for escalated issues.
	if e.forwarder != nil {
		if resp := e.forwarder.Forward(ctx, req); resp != nil {
			e.logger.Info("Decision delegated to parent",
				"agent_id", req.AgentID, "issue_type", req.IssueType, "status", resp.Status)
			verdict = Verdict{
				Status:   resp.Status,
				Reason:   resp.Reason,
				Analysis: resp.LLMAnalysis,
			}
			decidedBy = "upstream"
		} else {
			e.logger.Warn("Parent monitor unreachable, deciding locally",
				"agent_id", req.AgentID, "issue_type", req.IssueType)
			verdict = e.consult(ctx, req)
		}
	} else {
		verdict = e.consult(ctx, req)
	}

	stored, err := e.decisions.Create(ctx, services.CreateDecisionInput{
		AgentID:          req.AgentID,
		IssueType:        req.IssueType,
		IssueDescription: req.IssueDescription,
		Severity:         string(req.Severity),
		ProposedAction:   req.ProposedAction,
		RiskAssessment:   req.RiskAssessment,
		Status:           string(verdict.Status),
		Reason:           verdict.Reason,
		LLMAnalysis:      verdict.Analysis,
		Details:          req.Details,
	})
	if err != nil {
		return nil, fmt.Errorf("persist decision: %w", err)
	}
	decisionsTotal.WithLabelValues(string(verdict.Status)).Inc()

	e.intents.RecordDecision(ctx, req.AgentID, string(models.LevelL2), req.IssueType,
		fmt.Sprintf("%s: %s", verdict.Status, verdict.Reason),
		map[string]any{
			"decision_id":     stored.ID,
			"proposed_action": req.ProposedAction,
			"decided_by":      decidedBy,
		})

	if e.events != nil {
		e.events.Publish(events.EventDecisionMade, map[string]any{
			"decision_id": stored.ID,
			"agent_id":    req.AgentID,
			"issue_type":  req.IssueType,
			"status":      string(verdict.Status),
		})
	}

	return &models.DecisionResponse{
		DecisionID:  stored.ID,
		Status:      verdict.Status,
		Reason:      verdict.Reason,
		LLMAnalysis: verdict.Analysis,
		CreatedAt:   stored.CreatedAt,
	}, nil
}

// consult asks the LLM for a verdict. Any failure rejects the issue so a
// broken decision backend never approves actions by accident.
func (e *Engine) consult(ctx context.Context, req models.DecisionRequest) Verdict {
	if e.llm == nil {
		return Verdict{
			Status: models.DecisionRejected,
			Reason: "no decision backend configured",
		}
	}

	output, err := e.llm.Complete(ctx, systemPrompt, buildPrompt(req))
	if err != nil {
		e.logger.Error("LLM consultation failed",
			"agent_id", req.AgentID, "issue_type", req.IssueType, "error", err)
		return Verdict{
			Status: models.DecisionRejected,
			Reason: fmt.Sprintf("llm request failed: %v", err),
		}
	}
	return parseVerdict(output)
}

func buildPrompt(req models.DecisionRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Agent: %s\n", req.AgentID)
	fmt.Fprintf(&sb, "Issue type: %s\n", req.IssueType)
	fmt.Fprintf(&sb, "Severity: %s\n", req.Severity)
	fmt.Fprintf(&sb, "Description: %s\n", req.IssueDescription)
	if req.ProposedAction != "" {
		fmt.Fprintf(&sb, "Proposed action: %s\n", req.ProposedAction)
	}
	if req.RiskAssessment != "" {
		fmt.Fprintf(&sb, "Risk assessment: %s\n", req.RiskAssessment)
	}
	if len(req.Details) > 0 {
		sb.WriteString("Details:\n")
		for k, v := range req.Details {
			fmt.Fprintf(&sb, "  %s: %v\n", k, v)
		}
	}
	return sb.String()
}
