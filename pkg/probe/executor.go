package probe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cortex-ops/cortex/pkg/classifier"
	"github.com/cortex-ops/cortex/pkg/config"
	"github.com/cortex-ops/cortex/pkg/fixer"
	"github.com/cortex-ops/cortex/pkg/intent"
	"github.com/cortex-ops/cortex/pkg/models"
	"github.com/cortex-ops/cortex/pkg/queue"
	"github.com/cortex-ops/cortex/pkg/version"
)

// reportsEndpoint is where queued reports are delivered on the monitor.
const reportsEndpoint = "/api/v1/reports"

// Executor runs one full inspection: collect, analyze, classify, auto-fix,
// and enqueue the resulting report.
type Executor struct {
	agentID    string
	llmModel   string
	thresholds config.ThresholdsConfig

	collector  Collector
	classifier *classifier.Classifier
	fixer      *fixer.Fixer
	queue      *queue.Store
	intents    *intent.Recorder

	logger *slog.Logger
	now    func() time.Time
}

// NewExecutor creates an executor. llmModel names the model configured for
// escalated analysis and is stamped into report metadata. queue may be nil
// for standalone probes that only keep local history.
func NewExecutor(agentID, llmModel string, thresholds config.ThresholdsConfig, collector Collector,
	cls *classifier.Classifier, fix *fixer.Fixer, store *queue.Store, intents *intent.Recorder) *Executor {
	return &Executor{
		agentID:    agentID,
		llmModel:   llmModel,
		thresholds: thresholds,
		collector:  collector,
		classifier: cls,
		fixer:      fix,
		queue:      store,
		intents:    intents,
		logger:     slog.Default().With("component", "executor"),
		now:        time.Now,
	}
}

// Run performs one inspection and returns the report that was shipped (or
// queued) upstream. L1 issues never appear in the report's issue list; their
// outcomes are carried as actions.
func (e *Executor) Run(ctx context.Context) (*models.ProbeReport, error) {
	e.intents.RecordMilestone(ctx, e.agentID, "inspection", "probe_execution_start", nil)

	metrics, err := e.collector.Collect(ctx)
	if err != nil {
		e.intents.RecordMilestone(ctx, e.agentID, "inspection", "probe_execution_failed",
			map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("collect metrics: %w", err)
	}

	issues := e.analyze(metrics)
	breached := len(issues) > 0
	for i := range issues {
		issues[i].Level = e.classifier.Classify(issues[i])
	}

	var actions []models.Action
	var shipped []models.Issue
	hasL2, hasL3 := false, false

	for _, issue := range issues {
		switch issue.Level {
		case models.LevelL1:
			action := e.fixer.Fix(ctx, issue)
			action.IntentID = e.intents.RecordDecision(ctx, e.agentID, "L1", issue.Type,
				fmt.Sprintf("auto-fix %s: %s", action.Action, action.Result),
				map[string]any{"issue_type": issue.Type})
			actions = append(actions, action)
		case models.LevelL3:
			hasL3 = true
			e.intents.RecordBlocker(ctx, e.agentID, "L3", issue.Type,
				"escalated to human review: "+issue.Description,
				map[string]any{"severity": string(issue.Severity)})
			shipped = append(shipped, issue)
		default:
			hasL2 = true
			shipped = append(shipped, issue)
		}
	}

	status := models.StatusHealthy
	if hasL3 {
		status = models.StatusCritical
	} else if hasL2 || breached {
		status = models.StatusWarning
	}

	report := &models.ProbeReport{
		AgentID:      e.agentID,
		Timestamp:    e.now().UTC(),
		Status:       status,
		Metrics:      metrics,
		Issues:       shipped,
		ActionsTaken: actions,
		Metadata: map[string]any{
			"probe_version": version.Version,
			"llm_model":     e.llmModel,
		},
	}

	if e.queue != nil {
		if _, err := e.queue.Enqueue(ctx, reportsEndpoint, report); err != nil {
			e.logger.Error("Failed to enqueue report", "error", err)
		}
	}

	e.intents.RecordMilestone(ctx, e.agentID, "inspection", "probe_execution_completed",
		map[string]any{
			"status":  string(status),
			"issues":  len(shipped),
			"actions": len(actions),
		})
	e.logger.Info("Inspection completed",
		"status", status, "issues", len(shipped), "actions", len(actions))
	return report, nil
}

// analyze derives threshold issues from one metrics sample. Severity here is
// a hint; the classifier has the final say on tiers.
func (e *Executor) analyze(m models.SystemMetrics) []models.Issue {
	now := e.now().UTC()
	var issues []models.Issue

	if e.thresholds.CPUPercent > 0 && m.CPUPercent > e.thresholds.CPUPercent {
		issues = append(issues, models.Issue{
			Type:        "cpu_high",
			Description: fmt.Sprintf("CPU usage is %.1f%%, exceeding threshold %.1f%%", m.CPUPercent, e.thresholds.CPUPercent),
			Severity:    models.SeverityMedium,
			Details:     map[string]any{"cpu_percent": m.CPUPercent},
			Timestamp:   now,
		})
	}
	if e.thresholds.MemoryPercent > 0 && m.MemoryPercent > e.thresholds.MemoryPercent {
		issues = append(issues, models.Issue{
			Type:        "memory_high",
			Description: fmt.Sprintf("Memory usage is %.1f%%, exceeding threshold %.1f%%", m.MemoryPercent, e.thresholds.MemoryPercent),
			Severity:    models.SeverityHigh,
			Details:     map[string]any{"memory_percent": m.MemoryPercent},
			Timestamp:   now,
		})
	}
	if e.thresholds.DiskPercent > 0 && m.DiskPercent > e.thresholds.DiskPercent {
		issues = append(issues, models.Issue{
			Type:        "disk_space_low",
			Description: fmt.Sprintf("Disk usage is %.1f%%, exceeding threshold %.1f%%", m.DiskPercent, e.thresholds.DiskPercent),
			Severity:    models.SeverityHigh,
			ProposedFix: "clean temporary files and rotated logs",
			Details:     map[string]any{"disk_percent": m.DiskPercent},
			Timestamp:   now,
		})
	}
	return issues
}
