package decision

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-ops/cortex/pkg/models"
	"github.com/cortex-ops/cortex/pkg/retry"
	"github.com/cortex-ops/cortex/pkg/services"
)

const decisionsSchema = `
CREATE TABLE decisions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id TEXT NOT NULL,
	issue_type TEXT NOT NULL,
	issue_description TEXT NOT NULL DEFAULT '',
	severity TEXT NOT NULL DEFAULT 'medium',
	proposed_action TEXT NOT NULL DEFAULT '',
	risk_assessment TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	llm_analysis TEXT NOT NULL DEFAULT '',
	details TEXT,
	created_at TIMESTAMP NOT NULL,
	executed_at TIMESTAMP,
	execution_result TEXT
);`

func newDecisionService(t *testing.T) *services.DecisionService {
	t.Helper()
	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(decisionsSchema)
	require.NoError(t, err)
	return services.NewDecisionService(db)
}

type stubLLM struct {
	output string
	err    error
	system string
	prompt string
}

func (s *stubLLM) Complete(_ context.Context, system, prompt string) (string, error) {
	s.system = system
	s.prompt = prompt
	return s.output, s.err
}

type capturingPublisher struct {
	events []string
	data   []map[string]any
}

func (p *capturingPublisher) Publish(eventType string, data map[string]any) {
	p.events = append(p.events, eventType)
	p.data = append(p.data, data)
}

func TestEngine_DecideApproves(t *testing.T) {
	llmStub := &stubLLM{output: "DECISION: APPROVE\nREASON: safe restart\nANALYSIS: unit inactive"}
	pub := &capturingPublisher{}
	svc := newDecisionService(t)
	engine := NewEngine(llmStub, nil, svc, nil, pub)

	resp, err := engine.Decide(context.Background(), models.DecisionRequest{
		AgentID:          "web-01",
		IssueType:        "service_down",
		IssueDescription: "nginx is not running",
		ProposedAction:   "systemctl restart nginx",
	})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionApproved, resp.Status)
	assert.Equal(t, "safe restart", resp.Reason)
	assert.Positive(t, resp.DecisionID)

	// The verdict is persisted.
	stored, err := svc.Get(context.Background(), resp.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, "approved", stored.Status)
	assert.Equal(t, "medium", stored.Severity)

	// The prompt carries the issue context.
	assert.Contains(t, llmStub.prompt, "service_down")
	assert.Contains(t, llmStub.prompt, "systemctl restart nginx")

	require.Len(t, pub.events, 1)
	assert.Equal(t, "decision_made", pub.events[0])
	assert.Equal(t, "approved", pub.data[0]["status"])
}

func TestEngine_DecideRejectsOnLLMError(t *testing.T) {
	llmStub := &stubLLM{err: errors.New("connection refused")}
	svc := newDecisionService(t)
	engine := NewEngine(llmStub, nil, svc, nil, nil)

	resp, err := engine.Decide(context.Background(), models.DecisionRequest{
		AgentID:   "web-01",
		IssueType: "service_down",
	})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionRejected, resp.Status)
	assert.Contains(t, resp.Reason, "llm request failed")
}

func TestEngine_DecideRejectsWithoutBackend(t *testing.T) {
	svc := newDecisionService(t)
	engine := NewEngine(nil, nil, svc, nil, nil)

	resp, err := engine.Decide(context.Background(), models.DecisionRequest{
		AgentID:   "web-01",
		IssueType: "config_drift",
	})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionRejected, resp.Status)
	assert.Equal(t, "no decision backend configured", resp.Reason)
}

func TestEngine_DecideValidation(t *testing.T) {
	engine := NewEngine(nil, nil, newDecisionService(t), nil, nil)

	_, err := engine.Decide(context.Background(), models.DecisionRequest{IssueType: "x"})
	var verr *services.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "agent_id", verr.Field)

	_, err = engine.Decide(context.Background(), models.DecisionRequest{AgentID: "a"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "issue_type", verr.Field)
}

func TestEngine_PrefersParentVerdict(t *testing.T) {
	parent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/decisions/request", r.URL.Path)
		assert.Equal(t, "sk_parent", r.Header.Get("X-API-Key"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": models.DecisionResponse{
				DecisionID: 77,
				Status:     models.DecisionApproved,
				Reason:     "parent approved",
			},
		})
	}))
	defer parent.Close()

	forwarder := NewForwarder(parent.URL, "sk_parent")
	svc := newDecisionService(t)
	pub := &capturingPublisher{}
	engine := NewEngine(nil, forwarder, svc, nil, pub)

	resp, err := engine.Decide(context.Background(), models.DecisionRequest{
		AgentID:   "web-01",
		IssueType: "service_down",
	})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionApproved, resp.Status)
	assert.Equal(t, "parent approved", resp.Reason)
	assert.Positive(t, resp.DecisionID)

	// The parent's verdict is materialized as a local row, so listings and
	// execution feedback see escalated decisions too.
	stored, err := svc.Get(context.Background(), resp.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, "approved", stored.Status)
	assert.Equal(t, "parent approved", stored.Reason)
	assert.Equal(t, "web-01", stored.AgentID)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "decision_made", pub.events[0])
}

func TestEngine_FallsBackWhenParentUnreachable(t *testing.T) {
	parent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound) // non-retryable
	}))
	defer parent.Close()

	forwarder := NewForwarder(parent.URL, "")
	forwarder.profile = retry.Fast

	llmStub := &stubLLM{output: "DECISION: REJECT\nREASON: local verdict"}
	engine := NewEngine(llmStub, forwarder, newDecisionService(t), nil, nil)

	resp, err := engine.Decide(context.Background(), models.DecisionRequest{
		AgentID:   "web-01",
		IssueType: "service_down",
	})
	require.NoError(t, err)
	assert.Equal(t, models.DecisionRejected, resp.Status)
	assert.Equal(t, "local verdict", resp.Reason)
}
