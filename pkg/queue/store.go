// Package queue implements the durable local delivery queue. Reports and
// escalations survive process restarts and upstream outages in a SQLite
// file next to the probe, and a background sender drains them in order.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // register sqlite3 driver
)

// Item statuses. pending items are eligible for delivery, sending items are
// in flight, sent and failed are terminal.
const (
	StatusPending = "pending"
	StatusSending = "sending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// capacitySlack is how many extra rows beyond capacity are pruned in one
// pass, so pruning does not run on every enqueue.
const capacitySlack = 100

const schema = `
CREATE TABLE IF NOT EXISTS queue_items (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	endpoint    TEXT NOT NULL,
	payload     TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	retry_count INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL,
	last_error  TEXT
);
CREATE INDEX IF NOT EXISTS idx_queue_items_status_created
	ON queue_items (status, created_at);
`

// Item is one queued delivery.
type Item struct {
	ID         int64     `db:"id"`
	Endpoint   string    `db:"endpoint"`
	Payload    string    `db:"payload"`
	Status     string    `db:"status"`
	RetryCount int       `db:"retry_count"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
	LastError  *string   `db:"last_error"`
}

// Store is the durable queue backed by SQLite.
type Store struct {
	db         *sqlx.DB
	capacity   int
	maxRetries int
	now        func() time.Time
}

// StoreConfig bounds the queue.
type StoreConfig struct {
	Path       string // SQLite file path, or ":memory:"
	Capacity   int    // max rows kept before terminal items are pruned
	MaxRetries int    // delivery attempts before an item goes terminal
}

// DefaultStoreConfig returns the standard queue bounds.
func DefaultStoreConfig(path string) StoreConfig {
	return StoreConfig{Path: path, Capacity: 1000, MaxRetries: 5}
}

// OpenStore opens (creating if needed) the queue database.
func OpenStore(cfg StoreConfig) (*Store, error) {
	dsn := cfg.Path + "?_busy_timeout=5000&_journal_mode=WAL"
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	// SQLite serializes writers; one connection avoids lock contention.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init queue schema: %w", err)
	}

	// Items left in flight by a crash are re-attempted on the next cycle.
	if _, err := db.Exec(
		`UPDATE queue_items SET status = ?, updated_at = ? WHERE status = ?`,
		StatusPending, time.Now().UTC(), StatusSending); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("recover in-flight items: %w", err)
	}

	return &Store{
		db:         db,
		capacity:   cfg.Capacity,
		maxRetries: cfg.MaxRetries,
		now:        time.Now,
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Enqueue persists a payload for delivery to endpoint and returns the item
// id. Enqueue never blocks on delivery; the sender picks items up later.
func (s *Store) Enqueue(ctx context.Context, endpoint string, payload any) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO queue_items (endpoint, payload, status, retry_count, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?)`,
		endpoint, string(data), StatusPending, now, now)
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue id: %w", err)
	}

	if err := s.pruneToCapacity(ctx); err != nil {
		return id, fmt.Errorf("prune: %w", err)
	}
	return id, nil
}

// pruneToCapacity deletes the oldest terminal items once the table exceeds
// capacity. Pending and in-flight items are never pruned.
func (s *Store) pruneToCapacity(ctx context.Context) error {
	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM queue_items`); err != nil {
		return err
	}
	if total <= s.capacity {
		return nil
	}

	toDelete := total - s.capacity + capacitySlack
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM queue_items WHERE id IN (
			SELECT id FROM queue_items
			WHERE status IN (?, ?)
			ORDER BY created_at ASC
			LIMIT ?
		)`, StatusSent, StatusFailed, toDelete)
	return err
}

// Pending returns up to limit deliverable items in FIFO order.
func (s *Store) Pending(ctx context.Context, limit int) ([]Item, error) {
	var items []Item
	err := s.db.SelectContext(ctx, &items,
		`SELECT * FROM queue_items
		 WHERE status = ? AND retry_count < ?
		 ORDER BY created_at ASC
		 LIMIT ?`,
		StatusPending, s.maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return items, nil
}

// MarkSending flags an item as in flight.
func (s *Store) MarkSending(ctx context.Context, id int64) error {
	return s.setStatus(ctx, id, StatusSending, nil)
}

// MarkSent flags an item as delivered.
func (s *Store) MarkSent(ctx context.Context, id int64) error {
	return s.setStatus(ctx, id, StatusSent, nil)
}

// MarkFailed records a delivery failure. The item returns to pending until
// its retry budget is spent, then goes terminal. Returns true when the item
// became terminal.
func (s *Store) MarkFailed(ctx context.Context, id int64, deliveryErr string) (bool, error) {
	var retryCount int
	err := s.db.GetContext(ctx, &retryCount,
		`SELECT retry_count FROM queue_items WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("load retry count: %w", err)
	}

	retryCount++
	status := StatusPending
	terminal := retryCount >= s.maxRetries
	if terminal {
		status = StatusFailed
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE queue_items
		 SET status = ?, retry_count = ?, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		status, retryCount, deliveryErr, s.now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}
	return terminal, nil
}

func (s *Store) setStatus(ctx context.Context, id int64, status string, lastError *string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE queue_items SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		status, lastError, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set status %s: %w", status, err)
	}
	return nil
}

// CleanupOlderThan deletes terminal items older than the given age and
// returns how many were removed.
func (s *Store) CleanupOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-age)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM queue_items WHERE status IN (?, ?) AND created_at < ?`,
		StatusSent, StatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns item counts grouped by status.
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT status, COUNT(*) AS count FROM queue_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := map[string]int{
		StatusPending: 0,
		StatusSending: 0,
		StatusSent:    0,
		StatusFailed:  0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}
