package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// DecisionService persists and queries decision-engine verdicts.
type DecisionService struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewDecisionService creates a DecisionService.
func NewDecisionService(db *sqlx.DB) *DecisionService {
	return &DecisionService{db: db, now: time.Now}
}

// CreateDecisionInput holds the fields of a new decision row.
type CreateDecisionInput struct {
	AgentID          string
	IssueType        string
	IssueDescription string
	Severity         string
	ProposedAction   string
	RiskAssessment   string
	Status           string
	Reason           string
	LLMAnalysis      string
	Details          map[string]any
}

// Create persists a decision and returns the stored row.
func (s *DecisionService) Create(ctx context.Context, in CreateDecisionInput) (*Decision, error) {
	if in.AgentID == "" {
		return nil, NewValidationError("agent_id", "agent id is required")
	}
	if in.IssueType == "" {
		return nil, NewValidationError("issue_type", "issue type is required")
	}
	if in.Severity == "" {
		in.Severity = "medium"
	}

	now := s.now().UTC()
	details := marshalDetails(in.Details)

	var id int64
	err := s.db.QueryRowContext(ctx, s.db.Rebind(
		`INSERT INTO decisions (agent_id, issue_type, issue_description, severity,
			proposed_action, risk_assessment, status, reason, llm_analysis, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING id`),
		in.AgentID, in.IssueType, in.IssueDescription, in.Severity,
		in.ProposedAction, in.RiskAssessment, in.Status, in.Reason, in.LLMAnalysis,
		details, now,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert decision: %w", err)
	}

	return &Decision{
		ID:               id,
		AgentID:          in.AgentID,
		IssueType:        in.IssueType,
		IssueDescription: in.IssueDescription,
		Severity:         in.Severity,
		ProposedAction:   in.ProposedAction,
		RiskAssessment:   in.RiskAssessment,
		Status:           in.Status,
		Reason:           in.Reason,
		LLMAnalysis:      in.LLMAnalysis,
		Details:          details,
		CreatedAt:        now,
	}, nil
}

// Get returns one decision by id.
func (s *DecisionService) Get(ctx context.Context, id int64) (*Decision, error) {
	var decision Decision
	err := s.db.GetContext(ctx, &decision, s.db.Rebind(
		`SELECT * FROM decisions WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}
	return &decision, nil
}

// DecisionFilter selects decisions for List.
type DecisionFilter struct {
	AgentID string
	Status  string
	Limit   int
	Offset  int
}

// List returns decisions matching the filter, newest first.
func (s *DecisionService) List(ctx context.Context, f DecisionFilter) ([]Decision, error) {
	query := `SELECT * FROM decisions WHERE 1=1`
	args := []any{}
	if f.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, f.AgentID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	var decisions []Decision
	if err := s.db.SelectContext(ctx, &decisions, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	return decisions, nil
}

// RecordFeedback stores the execution outcome reported back by the agent
// that carried out an approved action.
func (s *DecisionService) RecordFeedback(ctx context.Context, id int64, result string) (*Decision, error) {
	decision, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	_, err = s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE decisions SET executed_at = ?, execution_result = ? WHERE id = ?`),
		now, result, id)
	if err != nil {
		return nil, fmt.Errorf("record feedback: %w", err)
	}

	decision.ExecutedAt = &now
	decision.ExecutionResult = &result
	return decision, nil
}
