package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecisionService_Create(t *testing.T) {
	db := newTestDB(t)
	svc := NewDecisionService(db)
	ctx := context.Background()

	decision, err := svc.Create(ctx, CreateDecisionInput{
		AgentID:          "web-01",
		IssueType:        "service_down",
		IssueDescription: "nginx is not running",
		ProposedAction:   "systemctl restart nginx",
		Status:           "approved",
		Reason:           "low-risk service restart",
		LLMAnalysis:      "the service manager reports the unit as inactive",
	})
	require.NoError(t, err)
	assert.Positive(t, decision.ID)
	assert.Equal(t, "medium", decision.Severity)
	assert.Equal(t, "approved", decision.Status)

	_, err = svc.Create(ctx, CreateDecisionInput{IssueType: "service_down"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "agent_id", verr.Field)

	_, err = svc.Create(ctx, CreateDecisionInput{AgentID: "web-01"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "issue_type", verr.Field)
}

func TestDecisionService_List(t *testing.T) {
	db := newTestDB(t)
	svc := NewDecisionService(db)
	ctx := context.Background()

	for _, in := range []CreateDecisionInput{
		{AgentID: "web-01", IssueType: "service_down", Status: "approved"},
		{AgentID: "web-01", IssueType: "config_drift", Status: "rejected"},
		{AgentID: "db-01", IssueType: "memory_leak", Status: "approved"},
	} {
		_, err := svc.Create(ctx, in)
		require.NoError(t, err)
	}

	all, err := svc.List(ctx, DecisionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "memory_leak", all[0].IssueType, "newest first")

	approved, err := svc.List(ctx, DecisionFilter{AgentID: "web-01", Status: "approved"})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, "service_down", approved[0].IssueType)
}

func TestDecisionService_RecordFeedback(t *testing.T) {
	db := newTestDB(t)
	svc := NewDecisionService(db)
	ctx := context.Background()

	decision, err := svc.Create(ctx, CreateDecisionInput{
		AgentID:   "web-01",
		IssueType: "service_down",
		Status:    "approved",
	})
	require.NoError(t, err)

	updated, err := svc.RecordFeedback(ctx, decision.ID, "success")
	require.NoError(t, err)
	require.NotNil(t, updated.ExecutedAt)
	require.NotNil(t, updated.ExecutionResult)
	assert.Equal(t, "success", *updated.ExecutionResult)

	fetched, err := svc.Get(ctx, decision.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched.ExecutionResult)
	assert.Equal(t, "success", *fetched.ExecutionResult)

	_, err = svc.RecordFeedback(ctx, 9999, "failed")
	assert.ErrorIs(t, err, ErrNotFound)
}
