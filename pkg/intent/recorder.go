// Package intent keeps the append-only audit trail of what the system
// decided to do and why. Recording is strictly best-effort: a broken audit
// store must never stall probing or decision making.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // register sqlite3 driver
)

// Record kinds.
const (
	KindDecision  = "decision"
	KindBlocker   = "blocker"
	KindMilestone = "milestone"
	KindNote      = "note"
)

const schema = `
CREATE TABLE IF NOT EXISTS intent_records (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp     TIMESTAMP NOT NULL,
	agent_id      TEXT NOT NULL,
	intent_type   TEXT NOT NULL,
	level         TEXT,
	category      TEXT,
	description   TEXT NOT NULL,
	metadata_json TEXT,
	status        TEXT
);
CREATE INDEX IF NOT EXISTS idx_intent_records_agent_time
	ON intent_records (agent_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_intent_records_type
	ON intent_records (intent_type);
`

// Record is one audit entry.
type Record struct {
	ID           int64     `db:"id" json:"id"`
	Timestamp    time.Time `db:"timestamp" json:"timestamp"`
	AgentID      string    `db:"agent_id" json:"agent_id"`
	Kind         string    `db:"intent_type" json:"intent_type"`
	Level        string    `db:"level" json:"level,omitempty"`
	Category     string    `db:"category" json:"category,omitempty"`
	Description  string    `db:"description" json:"description"`
	MetadataJSON *string   `db:"metadata_json" json:"-"`
	Status       string    `db:"status" json:"status,omitempty"`
}

// Metadata decodes the stored metadata blob, or returns nil.
func (r Record) Metadata() map[string]any {
	if r.MetadataJSON == nil || *r.MetadataJSON == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(*r.MetadataJSON), &m); err != nil {
		return nil
	}
	return m
}

// Recorder writes and queries the audit store. A nil Recorder is valid and
// drops all writes, so callers never need to branch on whether auditing is
// enabled.
type Recorder struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the audit database. Returns nil and no
// error when path is empty, which disables auditing.
func Open(path string) (*Recorder, error) {
	if path == "" {
		return nil, nil
	}
	db, err := sqlx.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open intent db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init intent schema: %w", err)
	}

	return &Recorder{
		db:     db,
		logger: slog.Default().With("component", "intent-recorder"),
		now:    time.Now,
	}, nil
}

// Close closes the underlying database.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	return r.db.Close()
}

// Entry describes one record to write.
type Entry struct {
	AgentID     string
	Kind        string
	Level       string
	Category    string
	Description string
	Metadata    map[string]any
	Status      string
}

// Record writes an entry and returns its id. Failures are logged and
// reported as id 0; they never propagate.
func (r *Recorder) Record(ctx context.Context, e Entry) int64 {
	if r == nil {
		return 0
	}

	var metadata *string
	if e.Metadata != nil {
		if data, err := json.Marshal(e.Metadata); err == nil {
			s := string(data)
			metadata = &s
		}
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO intent_records
			(timestamp, agent_id, intent_type, level, category, description, metadata_json, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.now().UTC(), e.AgentID, e.Kind, e.Level, e.Category, e.Description, metadata, e.Status)
	if err != nil {
		r.logger.Warn("Failed to record intent", "kind", e.Kind, "agent_id", e.AgentID, "error", err)
		return 0
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0
	}
	return id
}

// RecordDecision writes a decision entry.
func (r *Recorder) RecordDecision(ctx context.Context, agentID, level, category, description string, metadata map[string]any) int64 {
	return r.Record(ctx, Entry{
		AgentID: agentID, Kind: KindDecision, Level: level,
		Category: category, Description: description, Metadata: metadata,
	})
}

// RecordBlocker writes a blocker entry for issues waiting on a human.
func (r *Recorder) RecordBlocker(ctx context.Context, agentID, level, category, description string, metadata map[string]any) int64 {
	return r.Record(ctx, Entry{
		AgentID: agentID, Kind: KindBlocker, Level: level,
		Category: category, Description: description, Metadata: metadata,
	})
}

// RecordMilestone writes a lifecycle marker entry.
func (r *Recorder) RecordMilestone(ctx context.Context, agentID, category, description string, metadata map[string]any) int64 {
	return r.Record(ctx, Entry{
		AgentID: agentID, Kind: KindMilestone,
		Category: category, Description: description, Metadata: metadata,
	})
}

// RecordNote writes a free-form note entry.
func (r *Recorder) RecordNote(ctx context.Context, agentID, category, description string, metadata map[string]any) int64 {
	return r.Record(ctx, Entry{
		AgentID: agentID, Kind: KindNote,
		Category: category, Description: description, Metadata: metadata,
	})
}

// Filter selects records for Query.
type Filter struct {
	AgentID  string
	Kind     string
	Level    string
	Category string
	Since    time.Time
	Limit    int
	Offset   int
}

// Query returns matching records, newest first.
func (r *Recorder) Query(ctx context.Context, f Filter) ([]Record, error) {
	if r == nil {
		return nil, nil
	}

	query := `SELECT * FROM intent_records WHERE 1=1`
	args := []any{}
	if f.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, f.AgentID)
	}
	if f.Kind != "" {
		query += ` AND intent_type = ?`
		args = append(args, f.Kind)
	}
	if f.Level != "" {
		query += ` AND level = ?`
		args = append(args, f.Level)
	}
	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, f.Category)
	}
	if !f.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, f.Since.UTC())
	}
	query += ` ORDER BY timestamp DESC, id DESC`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	var records []Record
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("query intents: %w", err)
	}
	return records, nil
}

// Get returns one record by id, or nil if absent.
func (r *Recorder) Get(ctx context.Context, id int64) (*Record, error) {
	if r == nil {
		return nil, nil
	}
	var rec Record
	err := r.db.GetContext(ctx, &rec, `SELECT * FROM intent_records WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Summary aggregates record counts over a lookback window.
type Summary struct {
	WindowHours   int            `json:"window_hours"`
	Total         int            `json:"total"`
	ByKind        map[string]int `json:"by_kind"`
	ByLevel       map[string]int `json:"by_level"`
	ByAgent       map[string]int `json:"by_agent"`
	TopCategories []CategoryCount `json:"top_categories"`
}

// CategoryCount pairs a category with its record count.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// Summarize computes counts grouped by kind, level, agent, and the five most
// frequent categories within the window.
func (r *Recorder) Summarize(ctx context.Context, window time.Duration) (*Summary, error) {
	if r == nil {
		return &Summary{ByKind: map[string]int{}, ByLevel: map[string]int{}, ByAgent: map[string]int{}}, nil
	}

	since := r.now().UTC().Add(-window)
	summary := &Summary{
		WindowHours: int(window.Hours()),
		ByKind:      make(map[string]int),
		ByLevel:     make(map[string]int),
		ByAgent:     make(map[string]int),
	}

	if err := r.groupCount(ctx, `intent_type`, since, summary.ByKind); err != nil {
		return nil, err
	}
	if err := r.groupCount(ctx, `level`, since, summary.ByLevel); err != nil {
		return nil, err
	}
	if err := r.groupCount(ctx, `agent_id`, since, summary.ByAgent); err != nil {
		return nil, err
	}
	for _, n := range summary.ByKind {
		summary.Total += n
	}

	rows, err := r.db.QueryxContext(ctx,
		`SELECT category, COUNT(*) AS count FROM intent_records
		 WHERE timestamp >= ? AND category != ''
		 GROUP BY category ORDER BY count DESC LIMIT 5`, since)
	if err != nil {
		return nil, fmt.Errorf("summarize categories: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cc CategoryCount
		if err := rows.Scan(&cc.Category, &cc.Count); err != nil {
			return nil, err
		}
		summary.TopCategories = append(summary.TopCategories, cc)
	}
	return summary, rows.Err()
}

func (r *Recorder) groupCount(ctx context.Context, column string, since time.Time, out map[string]int) error {
	rows, err := r.db.QueryxContext(ctx,
		`SELECT COALESCE(`+column+`, '') AS k, COUNT(*) AS count FROM intent_records
		 WHERE timestamp >= ? GROUP BY k`, since)
	if err != nil {
		return fmt.Errorf("summarize %s: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		if key != "" {
			out[key] = count
		}
	}
	return rows.Err()
}
