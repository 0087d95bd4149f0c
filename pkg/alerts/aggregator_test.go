package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-ops/cortex/pkg/models"
	"github.com/cortex-ops/cortex/pkg/services"
)

const alertsSchema = `
CREATE TABLE alerts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id TEXT NOT NULL,
	level TEXT NOT NULL,
	type TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	severity TEXT NOT NULL DEFAULT 'high',
	status TEXT NOT NULL DEFAULT 'new',
	details TEXT,
	notes TEXT,
	created_at TIMESTAMP NOT NULL,
	acknowledged_at TIMESTAMP,
	acknowledged_by TEXT,
	resolved_at TIMESTAMP
);`

type capturingPublisher struct {
	events []string
}

func (p *capturingPublisher) Publish(eventType string, _ map[string]any) {
	p.events = append(p.events, eventType)
}

func newAggregator(t *testing.T) (*Aggregator, *services.AlertService, *capturingPublisher) {
	t.Helper()
	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(alertsSchema)
	require.NoError(t, err)

	svc := services.NewAlertService(db)
	pub := &capturingPublisher{}
	return NewAggregator(svc, nil, pub, 30*time.Minute), svc, pub
}

func l3Issue(issueType string) models.Issue {
	return models.Issue{
		Level:          models.LevelL3,
		Type:           issueType,
		Description:    "something needs a human",
		Severity:       models.SeverityCritical,
		ProposedFix:    "page the oncall",
		RiskAssessment: "unknown blast radius",
		Details:        map[string]any{"service": "postgres"},
	}
}

func TestAggregator_ProcessCreatesAlert(t *testing.T) {
	agg, _, pub := newAggregator(t)

	alert, created, err := agg.Process(context.Background(), "db-01", l3Issue("service_down"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "db-01", alert.AgentID)
	assert.Equal(t, "new", alert.Status)

	details := alert.DetailsMap()
	assert.Equal(t, "page the oncall", details["proposed_fix"])
	assert.Equal(t, "unknown blast radius", details["risk_assessment"])
	assert.Equal(t, "postgres", details["service"])

	assert.Equal(t, []string{"alert_triggered"}, pub.events)
}

func TestAggregator_DeduplicatesWithinWindow(t *testing.T) {
	agg, svc, pub := newAggregator(t)
	ctx := context.Background()

	first, created, err := agg.Process(ctx, "db-01", l3Issue("service_down"))
	require.NoError(t, err)
	require.True(t, created)

	// Same agent and type inside the window is suppressed.
	dup, created, err := agg.Process(ctx, "db-01", l3Issue("service_down"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, dup.ID)
	assert.Len(t, pub.events, 1, "no event for suppressed alert")

	// A different type still alerts.
	_, created, err = agg.Process(ctx, "db-01", l3Issue("memory_leak"))
	require.NoError(t, err)
	assert.True(t, created)

	// Resolving reopens the path for new alerts.
	_, err = svc.Resolve(ctx, first.ID, "fixed")
	require.NoError(t, err)
	_, created, err = agg.Process(ctx, "db-01", l3Issue("service_down"))
	require.NoError(t, err)
	assert.True(t, created)
}

func TestAggregator_DedupWindowExpires(t *testing.T) {
	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(alertsSchema)
	require.NoError(t, err)

	agg := NewAggregator(services.NewAlertService(db), nil, nil, 30*time.Minute)
	ctx := context.Background()

	first, created, err := agg.Process(ctx, "db-01", l3Issue("service_down"))
	require.NoError(t, err)
	require.True(t, created)

	// Age the open alert past the dedup window.
	_, err = db.Exec(`UPDATE alerts SET created_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-31*time.Minute), first.ID)
	require.NoError(t, err)

	_, created, err = agg.Process(ctx, "db-01", l3Issue("service_down"))
	require.NoError(t, err)
	assert.True(t, created)
}

func TestAggregator_ProcessBatchSkipsNonL3(t *testing.T) {
	agg, _, _ := newAggregator(t)

	issues := []models.Issue{
		{Level: models.LevelL1, Type: "disk_space_low"},
		{Level: models.LevelL2, Type: "service_down"},
		l3Issue("certificate_expiring"),
		l3Issue("certificate_expiring"), // duplicate in the same batch
	}
	created := agg.ProcessBatch(context.Background(), "web-01", issues)
	require.Len(t, created, 1)
	assert.Equal(t, "certificate_expiring", created[0].Type)
}
