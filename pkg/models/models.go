// Package models defines the shared wire types exchanged between probes and
// monitors: system metrics, issues, remediation actions, probe reports, and
// the cross-tier decision request/response pair.
package models

import "time"

// IssueLevel is the processing tier an issue is routed to.
type IssueLevel string

const (
	LevelL1 IssueLevel = "L1" // auto-fixable on the probe host
	LevelL2 IssueLevel = "L2" // needs a monitor decision
	LevelL3 IssueLevel = "L3" // needs a human
)

// Severity grades how urgent an issue is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ReportStatus is the overall verdict of one inspection run.
type ReportStatus string

const (
	StatusHealthy  ReportStatus = "healthy"
	StatusWarning  ReportStatus = "warning"
	StatusCritical ReportStatus = "critical"
)

// AgentStatus is the liveness state of a registered agent.
type AgentStatus string

const (
	AgentOnline  AgentStatus = "online"
	AgentOffline AgentStatus = "offline"
)

// ActionResult is the outcome of one auto-fix attempt.
type ActionResult string

const (
	ActionSuccess ActionResult = "success"
	ActionFailed  ActionResult = "failed"
	ActionPartial ActionResult = "partial"
)

// DecisionStatus is the verdict of the decision engine.
type DecisionStatus string

const (
	DecisionApproved DecisionStatus = "approved"
	DecisionRejected DecisionStatus = "rejected"
)

// AlertState tracks an alert through its acknowledgement lifecycle.
type AlertState string

const (
	AlertNew          AlertState = "new"
	AlertAcknowledged AlertState = "acknowledged"
	AlertResolved     AlertState = "resolved"
)

// SystemMetrics is one sample of host resource usage.
type SystemMetrics struct {
	CPUPercent    float64            `json:"cpu_percent"`
	MemoryPercent float64            `json:"memory_percent"`
	DiskPercent   float64            `json:"disk_percent"`
	LoadAverage   [3]float64         `json:"load_average"`
	UptimeSeconds float64            `json:"uptime_seconds"`
	ProcessCount  int                `json:"process_count"`
	DiskIO        map[string]float64 `json:"disk_io,omitempty"`
	NetworkIO     map[string]float64 `json:"network_io,omitempty"`
}

// Issue is a single detected problem, classified into a tier.
type Issue struct {
	Level          IssueLevel     `json:"level"`
	Type           string         `json:"type"`
	Description    string         `json:"description"`
	Severity       Severity       `json:"severity"`
	ProposedFix    string         `json:"proposed_fix,omitempty"`
	RiskAssessment string         `json:"risk_assessment,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Action records the outcome of one L1 auto-fix attempt.
type Action struct {
	Level     IssueLevel     `json:"level"`
	Action    string         `json:"action"`
	Result    ActionResult   `json:"result"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	IntentID  int64          `json:"intent_id,omitempty"`
}

// ProbeReport is the full output of one inspection run, shipped to the monitor.
type ProbeReport struct {
	AgentID      string         `json:"agent_id"`
	Timestamp    time.Time      `json:"timestamp"`
	Status       ReportStatus   `json:"status"`
	Metrics      SystemMetrics  `json:"metrics"`
	Issues       []Issue        `json:"issues"`
	ActionsTaken []Action       `json:"actions_taken"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// DecisionRequest asks a monitor to decide on an L2 issue. Sent by lower-tier
// monitors when escalating to their parent.
type DecisionRequest struct {
	AgentID          string         `json:"agent_id"`
	IssueType        string         `json:"issue_type"`
	IssueDescription string         `json:"issue_description"`
	Severity         Severity       `json:"severity"`
	ProposedAction   string         `json:"proposed_action,omitempty"`
	RiskAssessment   string         `json:"risk_assessment,omitempty"`
	Details          map[string]any `json:"details,omitempty"`
}

// DecisionResponse is the materialized verdict returned for a DecisionRequest.
type DecisionResponse struct {
	DecisionID  int64          `json:"decision_id"`
	Status      DecisionStatus `json:"status"`
	Reason      string         `json:"reason"`
	LLMAnalysis string         `json:"llm_analysis,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
