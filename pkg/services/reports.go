package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cortex-ops/cortex/pkg/models"
)

// ReportService persists and queries probe reports.
type ReportService struct {
	db  Queryer
	now func() time.Time
}

// NewReportService creates a ReportService.
func NewReportService(db *sqlx.DB) *ReportService {
	return &ReportService{db: db, now: time.Now}
}

// WithTx returns a copy of the service bound to the transaction.
func (s *ReportService) WithTx(tx *sqlx.Tx) *ReportService {
	return &ReportService{db: tx, now: s.now}
}

// Create persists a probe report and returns its id. The whole report is
// stored as JSON; headline metrics are denormalized for queries.
func (s *ReportService) Create(ctx context.Context, report *models.ProbeReport) (int64, error) {
	if report.AgentID == "" {
		return 0, NewValidationError("agent_id", "agent id is required")
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return 0, fmt.Errorf("marshal report: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, s.db.Rebind(
		`INSERT INTO reports (agent_id, status, cpu_percent, memory_percent, disk_percent,
			issue_count, action_count, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING id`),
		report.AgentID, string(report.Status),
		report.Metrics.CPUPercent, report.Metrics.MemoryPercent, report.Metrics.DiskPercent,
		len(report.Issues), len(report.ActionsTaken),
		string(payload), s.now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert report: %w", err)
	}
	return id, nil
}

// Get returns one report row by id.
func (s *ReportService) Get(ctx context.Context, id int64) (*Report, error) {
	var report Report
	err := s.db.GetContext(ctx, &report, s.db.Rebind(
		`SELECT * FROM reports WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return &report, nil
}

// ReportFilter selects reports for List.
type ReportFilter struct {
	AgentID string
	Status  string
	Limit   int
	Offset  int
}

// List returns report rows matching the filter, newest first.
func (s *ReportService) List(ctx context.Context, f ReportFilter) ([]Report, error) {
	query := `SELECT * FROM reports WHERE 1=1`
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

	var reports []Report
	if err := s.db.SelectContext(ctx, &reports, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return reports, nil
}

// CountForAgent returns the agent's total report count and the count within
// the last 24 hours.
func (s *ReportService) CountForAgent(ctx context.Context, agentID string) (total, last24h int, err error) {
	err = s.db.GetContext(ctx, &total, s.db.Rebind(
		`SELECT COUNT(*) FROM reports WHERE agent_id = ?`), agentID)
	if err != nil {
		return 0, 0, fmt.Errorf("count reports: %w", err)
	}

	cutoff := s.now().UTC().Add(-24 * time.Hour)
	err = s.db.GetContext(ctx, &last24h, s.db.Rebind(
		`SELECT COUNT(*) FROM reports WHERE agent_id = ? AND created_at >= ?`),
		agentID, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("count recent reports: %w", err)
	}
	return total, last24h, nil
}

// PurgeOlderThan deletes reports past the retention window and returns how
// many rows were removed.
func (s *ReportService) PurgeOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -retentionDays)
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`DELETE FROM reports WHERE created_at < ?`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge reports: %w", err)
	}
	return res.RowsAffected()
}
