package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/cortex-ops/cortex/pkg/alerts"
	"github.com/cortex-ops/cortex/pkg/auth"
	"github.com/cortex-ops/cortex/pkg/cache"
	"github.com/cortex-ops/cortex/pkg/config"
	"github.com/cortex-ops/cortex/pkg/decision"
	"github.com/cortex-ops/cortex/pkg/services"
)

// testSchema mirrors the production migration with sqlite column types.
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

type testEnv struct {
	server *Server
	http   *httptest.Server
	db     *sqlx.DB
	issuer *auth.TokenIssuer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	agentSvc := services.NewAgentService(db)
	alertSvc := services.NewAlertService(db)
	decisionSvc := services.NewDecisionService(db)
	issuer := auth.NewTokenIssuer("test-secret", time.Hour)

	server := NewServer(Deps{
		Config: config.MonitorConfig{
			Port:              8000,
			RegistrationToken: "cluster-secret",
			DedupWindow:       30 * time.Minute,
		},
		DB:         db,
		Agents:     agentSvc,
		Reports:    services.NewReportService(db),
		Decisions:  decisionSvc,
		Alerts:     alertSvc,
		Users:      services.NewUserService(db),
		APIKeys:    services.NewAPIKeyService(db),
		Engine:     decision.NewEngine(nil, nil, decisionSvc, nil, nil),
		Aggregator: alerts.NewAggregator(alertSvc, nil, nil, 30*time.Minute),
		Issuer:     issuer,
		Cache:      cache.New(),
	})

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{server: server, http: ts, db: db, issuer: issuer}
}

// do sends a JSON request and decodes the envelope body.
func (env *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, env.http.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(res.Body).Decode(&decoded)
	return res.StatusCode, decoded
}

// makeUser inserts a user and returns a bearer header for it.
func (env *testEnv) makeUser(t *testing.T, username, role string) map[string]string {
	t.Helper()
	hash, err := auth.HashPassword("password123")
	require.NoError(t, err)
	user, err := env.server.users.Create(t.Context(), services.CreateUserInput{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
	})
	require.NoError(t, err)
	token, err := env.issuer.CreateAccessToken(user)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}
