package services

import (
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

// testSchema mirrors the production migration with sqlite column types so
// the services can be exercised in-memory.
const testSchema = `
CREATE TABLE agents (
	id TEXT PRIMARY KEY,
	hostname TEXT NOT NULL,
	ip_address TEXT NOT NULL DEFAULT '',
	version TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT 'probe',
	parent_id TEXT,
	upstream_url TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'offline',
	health_status TEXT NOT NULL DEFAULT 'unknown',
	api_key TEXT NOT NULL UNIQUE,
	last_heartbeat TIMESTAMP,
	registered_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE reports (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id TEXT NOT NULL,
	status TEXT NOT NULL,
	cpu_percent REAL NOT NULL DEFAULT 0,
	memory_percent REAL NOT NULL DEFAULT 0,
	disk_percent REAL NOT NULL DEFAULT 0,
	issue_count INTEGER NOT NULL DEFAULT 0,
	action_count INTEGER NOT NULL DEFAULT 0,
	payload TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE decisions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id TEXT NOT NULL,
	issue_type TEXT NOT NULL,
	issue_description TEXT NOT NULL DEFAULT '',
	severity TEXT NOT NULL DEFAULT 'medium',
	proposed_action TEXT NOT NULL DEFAULT '',
	risk_assessment TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	llm_analysis TEXT NOT NULL DEFAULT '',
	details TEXT,
	created_at TIMESTAMP NOT NULL,
	executed_at TIMESTAMP,
	execution_result TEXT
);

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
);

CREATE TABLE users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'viewer',
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE api_keys (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	key TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'viewer',
	owner_id INTEGER,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	expires_at TIMESTAMP,
	last_used_at TIMESTAMP,
	usage_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
`

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(testSchema)
	require.NoError(t, err)
	return db
}
