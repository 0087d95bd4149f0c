package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-ops/cortex/pkg/models"
)

func TestAlertService_Create(t *testing.T) {
	db := newTestDB(t)
	svc := NewAlertService(db)
	ctx := context.Background()

	alert, err := svc.Create(ctx, CreateAlertInput{
		AgentID:     "web-01",
		Type:        "service_down",
		Description: "nginx is not running",
		Severity:    "critical",
		Details:     map[string]any{"proposed_fix": "systemctl restart nginx"},
	})
	require.NoError(t, err)
	assert.Equal(t, string(models.LevelL3), alert.Level)
	assert.Equal(t, string(models.AlertNew), alert.Status)
	assert.Equal(t, "systemctl restart nginx", alert.DetailsMap()["proposed_fix"])

	_, err = svc.Create(ctx, CreateAlertInput{Type: "service_down"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "agent_id", verr.Field)
}

func TestAlertService_FindRecentOpen(t *testing.T) {
	db := newTestDB(t)
	svc := NewAlertService(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Outside the dedup window.
	svc.now = func() time.Time { return base.Add(-time.Hour) }
	_, err := svc.Create(ctx, CreateAlertInput{AgentID: "web-01", Type: "service_down"})
	require.NoError(t, err)

	// Inside the window.
	svc.now = func() time.Time { return base.Add(-10 * time.Minute) }
	inside, err := svc.Create(ctx, CreateAlertInput{AgentID: "web-01", Type: "service_down"})
	require.NoError(t, err)

	// Same type, different agent.
	_, err = svc.Create(ctx, CreateAlertInput{AgentID: "db-01", Type: "service_down"})
	require.NoError(t, err)

	svc.now = func() time.Time { return base }
	open, err := svc.FindRecentOpen(ctx, "web-01", "service_down", base.Add(-30*time.Minute), 5)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, inside.ID, open[0].ID)

	// Resolved alerts no longer suppress new ones.
	_, err = svc.Resolve(ctx, inside.ID, "restarted by hand")
	require.NoError(t, err)
	open, err = svc.FindRecentOpen(ctx, "web-01", "service_down", base.Add(-30*time.Minute), 5)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestAlertService_AcknowledgeLifecycle(t *testing.T) {
	db := newTestDB(t)
	svc := NewAlertService(db)
	ctx := context.Background()

	alert, err := svc.Create(ctx, CreateAlertInput{AgentID: "web-01", Type: "memory_leak"})
	require.NoError(t, err)

	_, err = svc.Acknowledge(ctx, alert.ID, "", "")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	acked, err := svc.Acknowledge(ctx, alert.ID, "oncall", "looking into it")
	require.NoError(t, err)
	assert.Equal(t, string(models.AlertAcknowledged), acked.Status)
	require.NotNil(t, acked.AcknowledgedBy)
	assert.Equal(t, "oncall", *acked.AcknowledgedBy)
	require.NotNil(t, acked.Notes)
	assert.Equal(t, "looking into it", *acked.Notes)

	// Double ack is rejected.
	_, err = svc.Acknowledge(ctx, alert.ID, "oncall", "")
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = svc.Acknowledge(ctx, 9999, "oncall", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAlertService_Resolve(t *testing.T) {
	db := newTestDB(t)
	svc := NewAlertService(db)
	ctx := context.Background()

	t.Run("resolve from new", func(t *testing.T) {
		alert, err := svc.Create(ctx, CreateAlertInput{AgentID: "web-01", Type: "config_drift"})
		require.NoError(t, err)

		resolved, err := svc.Resolve(ctx, alert.ID, "reapplied config")
		require.NoError(t, err)
		assert.Equal(t, string(models.AlertResolved), resolved.Status)
		require.NotNil(t, resolved.Notes)
		assert.Equal(t, "[Resolved] reapplied config", *resolved.Notes)
		require.NotNil(t, resolved.ResolvedAt)
	})

	t.Run("resolve from acknowledged appends to notes", func(t *testing.T) {
		alert, err := svc.Create(ctx, CreateAlertInput{AgentID: "web-01", Type: "service_failed"})
		require.NoError(t, err)
		_, err = svc.Acknowledge(ctx, alert.ID, "oncall", "investigating")
		require.NoError(t, err)

		resolved, err := svc.Resolve(ctx, alert.ID, "unit file fixed")
		require.NoError(t, err)
		require.NotNil(t, resolved.Notes)
		assert.Equal(t, "investigating\n\n[Resolved] unit file fixed", *resolved.Notes)
	})

	t.Run("double resolve rejected", func(t *testing.T) {
		alert, err := svc.Create(ctx, CreateAlertInput{AgentID: "web-01", Type: "process_crashed"})
		require.NoError(t, err)
		_, err = svc.Resolve(ctx, alert.ID, "done")
		require.NoError(t, err)
		_, err = svc.Resolve(ctx, alert.ID, "again")
		assert.ErrorIs(t, err, ErrInvalidState)
	})
}

func TestAlertService_ListAndSummarize(t *testing.T) {
	db := newTestDB(t)
	svc := NewAlertService(db)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateAlertInput{AgentID: "web-01", Type: "service_down", Severity: "critical"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateAlertInput{AgentID: "web-01", Type: "memory_leak", Severity: "high"})
	require.NoError(t, err)
	resolved, err := svc.Create(ctx, CreateAlertInput{AgentID: "db-01", Type: "config_drift", Severity: "high"})
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, resolved.ID, "ok")
	require.NoError(t, err)

	critical, err := svc.List(ctx, AlertFilter{Severity: "critical"})
	require.NoError(t, err)
	assert.Len(t, critical, 1)

	open, err := svc.List(ctx, AlertFilter{Status: string(models.AlertNew)})
	require.NoError(t, err)
	assert.Len(t, open, 2)

	summary, err := svc.Summarize(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 24, summary.WindowHours)
	assert.Equal(t, 1, summary.BySeverity["critical"])
	assert.Equal(t, 2, summary.BySeverity["high"])
	assert.Equal(t, 1, summary.ByStatus[string(models.AlertResolved)])
	require.NotEmpty(t, summary.TopAgents)
	assert.Equal(t, "web-01", summary.TopAgents[0].AgentID)
	assert.Equal(t, 2, summary.TopAgents[0].Count)
}
