package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-ops/cortex/pkg/models"
)

func sampleReport(agentID string, status models.ReportStatus) *models.ProbeReport {
	return &models.ProbeReport{
		AgentID:   agentID,
		Timestamp: time.Now().UTC(),
		Status:    status,
		Metrics: models.SystemMetrics{
			CPUPercent:    42.5,
			MemoryPercent: 61.0,
			DiskPercent:   88.2,
		},
		Issues: []models.Issue{
			{Level: models.LevelL1, Type: "disk_space_low", Severity: models.SeverityHigh},
		},
	}
}

func TestReportService_CreateAndGet(t *testing.T) {
	db := newTestDB(t)
	svc := NewReportService(db)
	ctx := context.Background()

	id, err := svc.Create(ctx, sampleReport("web-01", models.StatusWarning))
	require.NoError(t, err)
	assert.Positive(t, id)

	row, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "web-01", row.AgentID)
	assert.Equal(t, string(models.StatusWarning), row.Status)
	assert.Equal(t, 42.5, row.CPUPercent)
	assert.Equal(t, 1, row.IssueCount)

	body, err := row.Body()
	require.NoError(t, err)
	require.Len(t, body.Issues, 1)
	assert.Equal(t, "disk_space_low", body.Issues[0].Type)

	_, err = svc.Get(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReportService_CreateRequiresAgentID(t *testing.T) {
	db := newTestDB(t)
	svc := NewReportService(db)

	_, err := svc.Create(context.Background(), &models.ProbeReport{})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "agent_id", verr.Field)
}

func TestReportService_List(t *testing.T) {
	db := newTestDB(t)
	svc := NewReportService(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Create(ctx, sampleReport("web-01", models.StatusHealthy))
		require.NoError(t, err)
	}
	_, err := svc.Create(ctx, sampleReport("db-01", models.StatusCritical))
	require.NoError(t, err)

	all, err := svc.List(ctx, ReportFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
	// Newest first.
	assert.Equal(t, "db-01", all[0].AgentID)

	filtered, err := svc.List(ctx, ReportFilter{AgentID: "web-01", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, filtered, 2)

	critical, err := svc.List(ctx, ReportFilter{Status: string(models.StatusCritical)})
	require.NoError(t, err)
	assert.Len(t, critical, 1)
}

func TestReportService_CountForAgent(t *testing.T) {
	db := newTestDB(t)
	svc := NewReportService(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	svc.now = func() time.Time { return base.Add(-48 * time.Hour) }
	_, err := svc.Create(ctx, sampleReport("web-01", models.StatusHealthy))
	require.NoError(t, err)

	svc.now = func() time.Time { return base.Add(-time.Hour) }
	_, err = svc.Create(ctx, sampleReport("web-01", models.StatusHealthy))
	require.NoError(t, err)

	svc.now = func() time.Time { return base }
	total, last24h, err := svc.CountForAgent(ctx, "web-01")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, last24h)
}

func TestReportService_PurgeOlderThan(t *testing.T) {
	db := newTestDB(t)
	svc := NewReportService(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	svc.now = func() time.Time { return base.AddDate(0, 0, -40) }
	_, err := svc.Create(ctx, sampleReport("web-01", models.StatusHealthy))
	require.NoError(t, err)

	svc.now = func() time.Time { return base.AddDate(0, 0, -5) }
	_, err = svc.Create(ctx, sampleReport("web-01", models.StatusHealthy))
	require.NoError(t, err)

	svc.now = func() time.Time { return base }
	removed, err := svc.PurgeOlderThan(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	remaining, err := svc.List(ctx, ReportFilter{})
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}
