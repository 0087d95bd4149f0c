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

// AgentService manages the registry of nodes in the cluster tree.
type AgentService struct {
	db  Queryer
	now func() time.Time
}

// NewAgentService creates an AgentService.
func NewAgentService(db *sqlx.DB) *AgentService {
	return &AgentService{db: db, now: time.Now}
}

// WithTx returns a copy of the service bound to the transaction.
func (s *AgentService) WithTx(tx *sqlx.Tx) *AgentService {
	return &AgentService{db: tx, now: s.now}
}

// RegisterInput holds the fields a node submits when joining the cluster.
type RegisterInput struct {
	ID          string
	Hostname    string
	IPAddress   string
	Version     string
	Role        string
	ParentID    *string
	UpstreamURL string
	APIKey      string
}

// Register creates an agent, or updates it in place when re-registering.
// Returns the stored agent and whether it was newly created. The referenced
// parent must already exist.
func (s *AgentService) Register(ctx context.Context, in RegisterInput) (*Agent, bool, error) {
	if in.ID == "" {
		return nil, false, NewValidationError("id", "agent id is required")
	}
	if in.APIKey == "" {
		return nil, false, NewValidationError("api_key", "api key is required")
	}
	if in.Role == "" {
		in.Role = "probe"
	}
	if in.Hostname == "" {
		in.Hostname = in.ID
	}

	if in.ParentID != nil && *in.ParentID != "" {
		if _, err := s.Get(ctx, *in.ParentID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, false, fmt.Errorf("parent agent %s: %w", *in.ParentID, ErrNotFound)
			}
			return nil, false, err
		}
	}

	now := s.now().UTC()
	existing, err := s.Get(ctx, in.ID)
	switch {
	case err == nil:
		_, err = s.db.ExecContext(ctx, s.db.Rebind(
			`UPDATE agents SET hostname = ?, ip_address = ?, version = ?, role = ?,
				parent_id = ?, upstream_url = ?, api_key = ?, updated_at = ?
			 WHERE id = ?`),
			in.Hostname, in.IPAddress, in.Version, in.Role, in.ParentID, in.UpstreamURL,
			in.APIKey, now, in.ID)
		if err != nil {
			return nil, false, fmt.Errorf("update agent: %w", err)
		}
		existing.Hostname = in.Hostname
		existing.IPAddress = in.IPAddress
		existing.Version = in.Version
		existing.Role = in.Role
		existing.ParentID = in.ParentID
		existing.UpstreamURL = in.UpstreamURL
		existing.APIKey = in.APIKey
		existing.UpdatedAt = now
		return existing, false, nil

	case errors.Is(err, ErrNotFound):
		agent := &Agent{
			ID:           in.ID,
			Hostname:     in.Hostname,
			IPAddress:    in.IPAddress,
			Version:      in.Version,
			Role:         in.Role,
			ParentID:     in.ParentID,
			UpstreamURL:  in.UpstreamURL,
			Status:       models.AgentOffline,
			HealthStatus: "unknown",
			APIKey:       in.APIKey,
			RegisteredAt: now,
			UpdatedAt:    now,
		}
		_, err = s.db.ExecContext(ctx, s.db.Rebind(
			`INSERT INTO agents (id, hostname, ip_address, version, role, parent_id,
				upstream_url, status, health_status, api_key, registered_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			agent.ID, agent.Hostname, agent.IPAddress, agent.Version, agent.Role,
			agent.ParentID, agent.UpstreamURL, agent.Status, agent.HealthStatus,
			agent.APIKey, agent.RegisteredAt, agent.UpdatedAt)
		if err != nil {
			return nil, false, fmt.Errorf("insert agent: %w", err)
		}
		return agent, true, nil

	default:
		return nil, false, err
	}
}

// EnsureRegistered auto-creates an agent on first contact. Reports from
// nodes the monitor has never seen still get processed; the placeholder key
// marks them for later proper registration.
func (s *AgentService) EnsureRegistered(ctx context.Context, id string, health string) (*Agent, error) {
	agent, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		now := s.now().UTC()
		hb := now
		agent = &Agent{
			ID:            id,
			Hostname:      id,
			Role:          "probe",
			Status:        models.AgentOnline,
			HealthStatus:  health,
			APIKey:        "auto_generated_" + id,
			LastHeartbeat: &hb,
			RegisteredAt:  now,
			UpdatedAt:     now,
		}
		_, err = s.db.ExecContext(ctx, s.db.Rebind(
			`INSERT INTO agents (id, hostname, ip_address, version, role, parent_id,
				status, health_status, api_key, last_heartbeat, registered_at, updated_at)
			 VALUES (?, ?, '', '', ?, NULL, ?, ?, ?, ?, ?, ?)`),
			agent.ID, agent.Hostname, agent.Role, agent.Status, agent.HealthStatus,
			agent.APIKey, agent.LastHeartbeat, agent.RegisteredAt, agent.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("auto-register agent: %w", err)
		}
		return agent, nil
	}
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	_, err = s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE agents SET status = ?, health_status = ?, last_heartbeat = ?, updated_at = ?
		 WHERE id = ?`),
		models.AgentOnline, health, now, now, id)
	if err != nil {
		return nil, fmt.Errorf("touch agent: %w", err)
	}
	agent.Status = models.AgentOnline
	agent.HealthStatus = health
	agent.LastHeartbeat = &now
	agent.UpdatedAt = now
	return agent, nil
}

// Get returns one agent by id.
func (s *AgentService) Get(ctx context.Context, id string) (*Agent, error) {
	var agent Agent
	err := s.db.GetContext(ctx, &agent, s.db.Rebind(
		`SELECT * FROM agents WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &agent, nil
}

// AgentFilter selects agents for List.
type AgentFilter struct {
	Status       string
	HealthStatus string
	Limit        int
	Offset       int
}

// List returns agents matching the filter, most recently registered first.
func (s *AgentService) List(ctx context.Context, f AgentFilter) ([]Agent, error) {
	query := `SELECT * FROM agents WHERE 1=1`
	args := []any{}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.HealthStatus != "" {
		query += ` AND health_status = ?`
		args = append(args, f.HealthStatus)
	}
	query += ` ORDER BY registered_at DESC`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	var agents []Agent
	if err := s.db.SelectContext(ctx, &agents, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return agents, nil
}

// ListAll returns every agent. Used by the topology computation.
func (s *AgentService) ListAll(ctx context.Context) ([]Agent, error) {
	var agents []Agent
	if err := s.db.SelectContext(ctx, &agents, `SELECT * FROM agents ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list all agents: %w", err)
	}
	return agents, nil
}

// Delete removes an agent.
func (s *AgentService) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM agents WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Heartbeat marks an agent alive, optionally updating its health verdict.
// Returns the agent's status before the heartbeat so callers can broadcast
// transitions.
func (s *AgentService) Heartbeat(ctx context.Context, id, health string) (*Agent, models.AgentStatus, error) {
	agent, err := s.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	oldStatus := agent.Status

	now := s.now().UTC()
	newHealth := agent.HealthStatus
	if health != "" {
		newHealth = health
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE agents SET status = ?, health_status = ?, last_heartbeat = ?, updated_at = ?
		 WHERE id = ?`),
		models.AgentOnline, newHealth, now, now, id)
	if err != nil {
		return nil, "", fmt.Errorf("heartbeat: %w", err)
	}

	agent.Status = models.AgentOnline
	agent.HealthStatus = newHealth
	agent.LastHeartbeat = &now
	agent.UpdatedAt = now
	return agent, oldStatus, nil
}

// ListStaleOnline returns online agents whose last heartbeat is missing or
// older than the cutoff.
func (s *AgentService) ListStaleOnline(ctx context.Context, cutoff time.Time) ([]Agent, error) {
	var agents []Agent
	err := s.db.SelectContext(ctx, &agents, s.db.Rebind(
		`SELECT * FROM agents
		 WHERE status = ? AND (last_heartbeat IS NULL OR last_heartbeat < ?)`),
		models.AgentOnline, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("list stale agents: %w", err)
	}
	return agents, nil
}

// MarkOffline transitions an agent to offline, preserving its health.
func (s *AgentService) MarkOffline(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE agents SET status = ?, updated_at = ? WHERE id = ?`),
		models.AgentOffline, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark offline: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Overview summarizes the cluster for the dashboard.
type Overview struct {
	TotalAgents int            `json:"total_agents"`
	Online      int            `json:"online"`
	Offline     int            `json:"offline"`
	ByHealth    map[string]int `json:"by_health"`
}

// ClusterOverview counts agents by status and health.
func (s *AgentService) ClusterOverview(ctx context.Context) (*Overview, error) {
	overview := &Overview{ByHealth: make(map[string]int)}

	rows, err := s.db.QueryxContext(ctx,
		`SELECT status, health_status, COUNT(*) AS count
		 FROM agents GROUP BY status, health_status`)
	if err != nil {
		return nil, fmt.Errorf("cluster overview: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, health string
		var count int
		if err := rows.Scan(&status, &health, &count); err != nil {
			return nil, err
		}
		overview.TotalAgents += count
		switch models.AgentStatus(status) {
		case models.AgentOnline:
			overview.Online += count
		case models.AgentOffline:
			overview.Offline += count
		}
		overview.ByHealth[health] += count
	}
	return overview, rows.Err()
}
