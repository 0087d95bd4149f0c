package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-ops/cortex/pkg/models"
)

func TestAgentService_Register(t *testing.T) {
	db := newTestDB(t)
	svc := NewAgentService(db)
	ctx := context.Background()

	t.Run("creates new agent offline", func(t *testing.T) {
		agent, created, err := svc.Register(ctx, RegisterInput{
			ID:     "web-01",
			APIKey: "sk_test",
		})
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "web-01", agent.ID)
		assert.Equal(t, "web-01", agent.Hostname)
		assert.Equal(t, "probe", agent.Role)
		assert.Equal(t, models.AgentOffline, agent.Status)
		assert.Equal(t, "unknown", agent.HealthStatus)
	})

	t.Run("re-registration updates in place", func(t *testing.T) {
		agent, created, err := svc.Register(ctx, RegisterInput{
			ID:       "web-01",
			Hostname: "web-01.internal",
			Version:  "1.2.0",
			APIKey:   "sk_rotated",
		})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "web-01.internal", agent.Hostname)
		assert.Equal(t, "sk_rotated", agent.APIKey)
	})

	t.Run("rejects missing id", func(t *testing.T) {
		_, _, err := svc.Register(ctx, RegisterInput{APIKey: "sk_x"})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "id", verr.Field)
	})

	t.Run("rejects unknown parent", func(t *testing.T) {
		parent := "nonexistent"
		_, _, err := svc.Register(ctx, RegisterInput{
			ID:       "web-02",
			APIKey:   "sk_x",
			ParentID: &parent,
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("accepts existing parent", func(t *testing.T) {
		parent := "web-01"
		agent, created, err := svc.Register(ctx, RegisterInput{
			ID:       "web-02",
			APIKey:   "sk_x",
			ParentID: &parent,
		})
		require.NoError(t, err)
		assert.True(t, created)
		require.NotNil(t, agent.ParentID)
		assert.Equal(t, "web-01", *agent.ParentID)
	})
}

func TestAgentService_EnsureRegistered(t *testing.T) {
	db := newTestDB(t)
	svc := NewAgentService(db)
	ctx := context.Background()

	agent, err := svc.EnsureRegistered(ctx, "drive-by", "warning")
	require.NoError(t, err)
	assert.Equal(t, "auto_generated_drive-by", agent.APIKey)
	assert.Equal(t, models.AgentOnline, agent.Status)
	assert.Equal(t, "warning", agent.HealthStatus)
	require.NotNil(t, agent.LastHeartbeat)

	// Second contact touches the row instead of recreating it.
	again, err := svc.EnsureRegistered(ctx, "drive-by", "healthy")
	require.NoError(t, err)
	assert.Equal(t, "auto_generated_drive-by", again.APIKey)
	assert.Equal(t, "healthy", again.HealthStatus)
}

func TestAgentService_Heartbeat(t *testing.T) {
	db := newTestDB(t)
	svc := NewAgentService(db)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, RegisterInput{ID: "db-01", APIKey: "sk_x"})
	require.NoError(t, err)

	agent, oldStatus, err := svc.Heartbeat(ctx, "db-01", "healthy")
	require.NoError(t, err)
	assert.Equal(t, models.AgentOffline, oldStatus)
	assert.Equal(t, models.AgentOnline, agent.Status)
	assert.Equal(t, "healthy", agent.HealthStatus)
	require.NotNil(t, agent.LastHeartbeat)

	// Empty health verdict preserves the previous one.
	agent, oldStatus, err = svc.Heartbeat(ctx, "db-01", "")
	require.NoError(t, err)
	assert.Equal(t, models.AgentOnline, oldStatus)
	assert.Equal(t, "healthy", agent.HealthStatus)

	_, _, err = svc.Heartbeat(ctx, "nope", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAgentService_StaleDetection(t *testing.T) {
	db := newTestDB(t)
	svc := NewAgentService(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	_, err := svc.EnsureRegistered(ctx, "fresh", "healthy")
	require.NoError(t, err)

	svc.now = func() time.Time { return base.Add(-10 * time.Minute) }
	_, err = svc.EnsureRegistered(ctx, "stale", "healthy")
	require.NoError(t, err)
	svc.now = func() time.Time { return base }

	stale, err := svc.ListStaleOnline(ctx, base.Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "stale", stale[0].ID)

	require.NoError(t, svc.MarkOffline(ctx, "stale"))
	agent, err := svc.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, models.AgentOffline, agent.Status)
	assert.Equal(t, "healthy", agent.HealthStatus, "health survives the offline transition")
}

func TestAgentService_ListAndOverview(t *testing.T) {
	db := newTestDB(t)
	svc := NewAgentService(db)
	ctx := context.Background()

	_, err := svc.EnsureRegistered(ctx, "a-1", "healthy")
	require.NoError(t, err)
	_, err = svc.EnsureRegistered(ctx, "a-2", "critical")
	require.NoError(t, err)
	_, _, err = svc.Register(ctx, RegisterInput{ID: "a-3", APIKey: "sk_x"})
	require.NoError(t, err)

	online, err := svc.List(ctx, AgentFilter{Status: string(models.AgentOnline)})
	require.NoError(t, err)
	assert.Len(t, online, 2)

	overview, err := svc.ClusterOverview(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, overview.TotalAgents)
	assert.Equal(t, 2, overview.Online)
	assert.Equal(t, 1, overview.Offline)
	assert.Equal(t, 1, overview.ByHealth["critical"])
	assert.Equal(t, 1, overview.ByHealth["unknown"])
}

func TestAgentService_Delete(t *testing.T) {
	db := newTestDB(t)
	svc := NewAgentService(db)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, RegisterInput{ID: "gone", APIKey: "sk_x"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "gone"))
	assert.ErrorIs(t, svc.Delete(ctx, "gone"), ErrNotFound)
	_, err = svc.Get(ctx, "gone")
	assert.ErrorIs(t, err, ErrNotFound)
}
