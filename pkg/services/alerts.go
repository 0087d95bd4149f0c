package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cortex-ops/cortex/pkg/models"
)

// AlertService persists and manages L3 alerts.
type AlertService struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewAlertService creates an AlertService.
func NewAlertService(db *sqlx.DB) *AlertService {
	return &AlertService{db: db, now: time.Now}
}

// CreateAlertInput holds the fields of a new alert row.
type CreateAlertInput struct {
	AgentID     string
	Level       string
	Type        string
	Description string
	Severity    string
	Details     map[string]any
}

// Create persists an alert in the new state.
func (s *AlertService) Create(ctx context.Context, in CreateAlertInput) (*Alert, error) {
	if in.AgentID == "" {
		return nil, NewValidationError("agent_id", "agent id is required")
	}
	if in.Type == "" {
		return nil, NewValidationError("type", "alert type is required")
	}
	if in.Level == "" {
		in.Level = string(models.LevelL3)
	}
	if in.Severity == "" {
		in.Severity = string(models.SeverityHigh)
	}

	now := s.now().UTC()
	details := marshalDetails(in.Details)

	var id int64
	err := s.db.QueryRowContext(ctx, s.db.Rebind(
		`INSERT INTO alerts (agent_id, level, type, description, severity, status, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING id`),
		in.AgentID, in.Level, in.Type, in.Description, in.Severity,
		string(models.AlertNew), details, now,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert alert: %w", err)
	}

	return &Alert{
		ID:          id,
		AgentID:     in.AgentID,
		Level:       in.Level,
		Type:        in.Type,
		Description: in.Description,
		Severity:    in.Severity,
		Status:      string(models.AlertNew),
		Details:     details,
		CreatedAt:   now,
	}, nil
}

// FindRecentOpen returns open (new or acknowledged) alerts for the same
// agent and type created at or after since. Used for deduplication.
func (s *AlertService) FindRecentOpen(ctx context.Context, agentID, alertType string, since time.Time, limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 5
	}
	var alerts []Alert
	err := s.db.SelectContext(ctx, &alerts, s.db.Rebind(
		`SELECT * FROM alerts
		 WHERE agent_id = ? AND type = ? AND status IN (?, ?) AND created_at >= ?
		 ORDER BY created_at DESC
		 LIMIT ?`),
		agentID, alertType, string(models.AlertNew), string(models.AlertAcknowledged),
		since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("find recent alerts: %w", err)
	}
	return alerts, nil
}

// Get returns one alert by id.
func (s *AlertService) Get(ctx context.Context, id int64) (*Alert, error) {
	var alert Alert
	err := s.db.GetContext(ctx, &alert, s.db.Rebind(
		`SELECT * FROM alerts WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return &alert, nil
}

// AlertFilter selects alerts for List.
type AlertFilter struct {
	AgentID  string
	Level    string
	Status   string
	Severity string
	Limit    int
	Offset   int
}

// List returns alerts matching the filter, newest first.
func (s *AlertService) List(ctx context.Context, f AlertFilter) ([]Alert, error) {
	query := `SELECT * FROM alerts WHERE 1=1`
	args := []any{}
	if f.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, f.AgentID)
	}
	if f.Level != "" {
		query += ` AND level = ?`
		args = append(args, f.Level)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, f.Severity)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	var alerts []Alert
	if err := s.db.SelectContext(ctx, &alerts, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

// Acknowledge moves an alert from new to acknowledged. Any other starting
// state is rejected.
func (s *AlertService) Acknowledge(ctx context.Context, id int64, by, notes string) (*Alert, error) {
	if by == "" {
		return nil, NewValidationError("acknowledged_by", "acknowledged_by is required")
	}

	alert, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.Status != string(models.AlertNew) {
		return nil, fmt.Errorf("alert already %s: %w", alert.Status, ErrInvalidState)
	}

	now := s.now().UTC()
	var notesPtr *string
	if notes != "" {
		notesPtr = &notes
	} else {
		notesPtr = alert.Notes
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE alerts SET status = ?, acknowledged_at = ?, acknowledged_by = ?, notes = ?
		 WHERE id = ?`),
		string(models.AlertAcknowledged), now, by, notesPtr, id)
	if err != nil {
		return nil, fmt.Errorf("acknowledge alert: %w", err)
	}

	alert.Status = string(models.AlertAcknowledged)
	alert.AcknowledgedAt = &now
	alert.AcknowledgedBy = &by
	alert.Notes = notesPtr
	return alert, nil
}

// Resolve closes an alert from either open state. Resolving twice is
// rejected. A resolution note is appended to any existing notes.
func (s *AlertService) Resolve(ctx context.Context, id int64, notes string) (*Alert, error) {
	alert, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.Status == string(models.AlertResolved) {
		return nil, fmt.Errorf("alert already resolved: %w", ErrInvalidState)
	}

	now := s.now().UTC()
	notesPtr := alert.Notes
	if notes != "" {
		resolved := "[Resolved] " + notes
		if alert.Notes != nil && *alert.Notes != "" {
			resolved = *alert.Notes + "\n\n" + resolved
		}
		notesPtr = &resolved
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE alerts SET status = ?, resolved_at = ?, notes = ? WHERE id = ?`),
		string(models.AlertResolved), now, notesPtr, id)
	if err != nil {
		return nil, fmt.Errorf("resolve alert: %w", err)
	}

	alert.Status = string(models.AlertResolved)
	alert.ResolvedAt = &now
	alert.Notes = notesPtr
	return alert, nil
}

// AlertSummary aggregates alert counts over a lookback window.
type AlertSummary struct {
	WindowHours int            `json:"window_hours"`
	Total       int            `json:"total"`
	BySeverity  map[string]int `json:"by_severity"`
	ByStatus    map[string]int `json:"by_status"`
	TopAgents   []AgentCount   `json:"top_agents"`
}

// AgentCount pairs an agent with its alert count.
type AgentCount struct {
	AgentID string `json:"agent_id"`
	Count   int    `json:"count"`
}

// Summarize computes alert counts by severity and status plus the five
// noisiest agents within the window.
func (s *AlertService) Summarize(ctx context.Context, window time.Duration) (*AlertSummary, error) {
	since := s.now().UTC().Add(-window)
	summary := &AlertSummary{
		WindowHours: int(window.Hours()),
		BySeverity:  make(map[string]int),
		ByStatus:    make(map[string]int),
	}

	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(
		`SELECT severity, status, COUNT(*) AS count FROM alerts
		 WHERE created_at >= ? GROUP BY severity, status`), since)
	if err != nil {
		return nil, fmt.Errorf("summarize alerts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var severity, status string
		var count int
		if err := rows.Scan(&severity, &status, &count); err != nil {
			return nil, err
		}
		summary.Total += count
		summary.BySeverity[severity] += count
		summary.ByStatus[status] += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	agentRows, err := s.db.QueryxContext(ctx, s.db.Rebind(
		`SELECT agent_id, COUNT(*) AS count FROM alerts
		 WHERE created_at >= ? GROUP BY agent_id ORDER BY count DESC LIMIT 5`), since)
	if err != nil {
		return nil, fmt.Errorf("summarize alert agents: %w", err)
	}
	defer agentRows.Close()
	for agentRows.Next() {
		var ac AgentCount
		if err := agentRows.Scan(&ac.AgentID, &ac.Count); err != nil {
			return nil, err
		}
		summary.TopAgents = append(summary.TopAgents, ac)
	}
	return summary, agentRows.Err()
}
