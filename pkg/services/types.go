package services

import (
	"encoding/json"
	"time"

	"github.com/cortex-ops/cortex/pkg/models"
)

// Agent is a registered node in the cluster tree.
type Agent struct {
	ID            string             `db:"id" json:"id"`
	Hostname      string             `db:"hostname" json:"hostname"`
	IPAddress     string             `db:"ip_address" json:"ip_address,omitempty"`
	Version       string             `db:"version" json:"version,omitempty"`
	Role          string             `db:"role" json:"role"`
	ParentID      *string            `db:"parent_id" json:"parent_id,omitempty"`
	UpstreamURL   string             `db:"upstream_url" json:"upstream_url,omitempty"`
	Status        models.AgentStatus `db:"status" json:"status"`
	HealthStatus  string             `db:"health_status" json:"health_status"`
	APIKey        string             `db:"api_key" json:"-"`
	LastHeartbeat *time.Time         `db:"last_heartbeat" json:"last_heartbeat,omitempty"`
	RegisteredAt  time.Time          `db:"registered_at" json:"registered_at"`
	UpdatedAt     time.Time          `db:"updated_at" json:"updated_at"`
}

// Report is a persisted probe report row. The full report body is kept as
// JSON in Payload; the scalar columns exist for filtering and summaries.
type Report struct {
	ID            int64     `db:"id" json:"id"`
	AgentID       string    `db:"agent_id" json:"agent_id"`
	Status        string    `db:"status" json:"status"`
	CPUPercent    float64   `db:"cpu_percent" json:"cpu_percent"`
	MemoryPercent float64   `db:"memory_percent" json:"memory_percent"`
	DiskPercent   float64   `db:"disk_percent" json:"disk_percent"`
	IssueCount    int       `db:"issue_count" json:"issue_count"`
	ActionCount   int       `db:"action_count" json:"action_count"`
	Payload       string    `db:"payload" json:"-"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Body decodes the stored report payload.
func (r *Report) Body() (*models.ProbeReport, error) {
	var report models.ProbeReport
	if err := json.Unmarshal([]byte(r.Payload), &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Decision is a persisted decision-engine verdict.
type Decision struct {
	ID               int64      `db:"id" json:"id"`
	AgentID          string     `db:"agent_id" json:"agent_id"`
	IssueType        string     `db:"issue_type" json:"issue_type"`
	IssueDescription string     `db:"issue_description" json:"issue_description"`
	Severity         string     `db:"severity" json:"severity"`
	ProposedAction   string     `db:"proposed_action" json:"proposed_action,omitempty"`
	RiskAssessment   string     `db:"risk_assessment" json:"risk_assessment,omitempty"`
	Status           string     `db:"status" json:"status"`
	Reason           string     `db:"reason" json:"reason"`
	LLMAnalysis      string     `db:"llm_analysis" json:"llm_analysis,omitempty"`
	Details          *string    `db:"details" json:"-"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	ExecutedAt       *time.Time `db:"executed_at" json:"executed_at,omitempty"`
	ExecutionResult  *string    `db:"execution_result" json:"execution_result,omitempty"`
}

// Alert is a persisted L3 escalation.
type Alert struct {
	ID             int64      `db:"id" json:"id"`
	AgentID        string     `db:"agent_id" json:"agent_id"`
	Level          string     `db:"level" json:"level"`
	Type           string     `db:"type" json:"type"`
	Description    string     `db:"description" json:"description"`
	Severity       string     `db:"severity" json:"severity"`
	Status         string     `db:"status" json:"status"`
	Details        *string    `db:"details" json:"-"`
	Notes          *string    `db:"notes" json:"notes,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	AcknowledgedAt *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	AcknowledgedBy *string    `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	ResolvedAt     *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}

// DetailsMap decodes the stored details blob, or returns nil.
func (a *Alert) DetailsMap() map[string]any {
	if a.Details == nil || *a.Details == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(*a.Details), &m); err != nil {
		return nil
	}
	return m
}

// User is an operator account.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email,omitempty"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// APIKey is a machine credential for report ingestion and automation.
type APIKey struct {
	ID         int64      `db:"id" json:"id"`
	Key        string     `db:"key" json:"-"`
	Name       string     `db:"name" json:"name"`
	Role       string     `db:"role" json:"role"`
	OwnerID    *int64     `db:"owner_id" json:"owner_id,omitempty"`
	IsActive   bool       `db:"is_active" json:"is_active"`
	ExpiresAt  *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	UsageCount int64      `db:"usage_count" json:"usage_count"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

func marshalDetails(details map[string]any) *string {
	if details == nil {
		return nil
	}
	data, err := json.Marshal(details)
	if err != nil {
		return nil
	}
	s := string(data)
	return &s
}
