// Package alerts turns L3 issues into deduplicated, human-facing alerts.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cortex-ops/cortex/pkg/events"
	"github.com/cortex-ops/cortex/pkg/intent"
	"github.com/cortex-ops/cortex/pkg/models"
	"github.com/cortex-ops/cortex/pkg/services"
)

var (
	alertsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cortex_alerts_created_total",
		Help: "Alerts raised for human attention.",
	})
	alertsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cortex_alerts_deduplicated_total",
		Help: "L3 issues suppressed by an open alert of the same type.",
	})
)

// dedupLimit caps how many open alerts the dedup query inspects per
// (agent, type) pair.
const dedupLimit = 5

// Aggregator deduplicates and persists L3 alerts.
type Aggregator struct {
	alerts  *services.AlertService
	intents *intent.Recorder
	events  events.Publisher
	window  time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewAggregator creates an Aggregator. window is the dedup lookback; an open
// alert of the same type within it suppresses new ones for the same agent.
func NewAggregator(alertService *services.AlertService, intents *intent.Recorder, publisher events.Publisher, window time.Duration) *Aggregator {
	return &Aggregator{
		alerts:  alertService,
		intents: intents,
		events:  publisher,
		window:  window,
		now:     time.Now,
		logger:  slog.Default().With("component", "alert-aggregator"),
	}
}

// Process raises an alert for one L3 issue, unless an open alert of the same
// type already covers it. Returns the alert and whether it was newly created;
// on dedup the existing alert is returned.
func (a *Aggregator) Process(ctx context.Context, agentID string, issue models.Issue) (*services.Alert, bool, error) {
	since := a.now().UTC().Add(-a.window)
	open, err := a.alerts.FindRecentOpen(ctx, agentID, issue.Type, since, dedupLimit)
	if err != nil {
		return nil, false, fmt.Errorf("dedup lookup: %w", err)
	}
	if len(open) > 0 {
		alertsDeduplicated.Inc()
		a.logger.Debug("Alert suppressed by open duplicate",
			"agent_id", agentID, "type", issue.Type, "existing_id", open[0].ID)
		return &open[0], false, nil
	}

	details := issue.Details
	if issue.ProposedFix != "" || issue.RiskAssessment != "" {
		details = make(map[string]any, len(issue.Details)+2)
		for k, v := range issue.Details {
			details[k] = v
		}
		if issue.ProposedFix != "" {
			details["proposed_fix"] = issue.ProposedFix
		}
		if issue.RiskAssessment != "" {
			details["risk_assessment"] = issue.RiskAssessment
		}
	}

	alert, err := a.alerts.Create(ctx, services.CreateAlertInput{
		AgentID:     agentID,
		Level:       string(models.LevelL3),
		Type:        issue.Type,
		Description: issue.Description,
		Severity:    string(issue.Severity),
		Details:     details,
	})
	if err != nil {
		return nil, false, fmt.Errorf("create alert: %w", err)
	}
	alertsCreated.Inc()

	a.intents.RecordBlocker(ctx, agentID, string(models.LevelL3), issue.Type,
		fmt.Sprintf("alert raised: %s", issue.Description),
		map[string]any{"alert_id": alert.ID, "severity": string(issue.Severity)})

	if a.events != nil {
		a.events.Publish(events.EventAlertTriggered, map[string]any{
			"alert_id": alert.ID,
			"agent_id": agentID,
			"type":     issue.Type,
			"severity": string(issue.Severity),
		})
	}

	a.logger.Info("Alert raised",
		"alert_id", alert.ID, "agent_id", agentID,
		"type", issue.Type, "severity", issue.Severity)
	return alert, true, nil
}

// ProcessBatch handles every L3 issue in a report and returns the newly
// created alerts. A failure on one issue does not stop the rest.
func (a *Aggregator) ProcessBatch(ctx context.Context, agentID string, issues []models.Issue) []services.Alert {
	var created []services.Alert
	for _, issue := range issues {
		if issue.Level != models.LevelL3 {
			continue
		}
		alert, isNew, err := a.Process(ctx, agentID, issue)
		if err != nil {
			a.logger.Error("Failed to process alert",
				"agent_id", agentID, "type", issue.Type, "error", err)
			continue
		}
		if isNew {
			created = append(created, *alert)
		}
	}
	return created
}
