package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cortex-ops/cortex/pkg/config"
	"github.com/cortex-ops/cortex/pkg/retry"
	"github.com/cortex-ops/cortex/pkg/version"
)

// MonitorClient talks to the parent monitor's agent endpoints.
type MonitorClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// NewMonitorClient creates a client for the monitor at baseURL.
func NewMonitorClient(baseURL, apiKey string) *MonitorClient {
	return &MonitorClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default().With("component", "monitor-client"),
	}
}

// Register announces this probe to the monitor using the shared cluster
// registration token. Retried on the patient profile; registration failing
// is fatal for cluster-mode startup.
func (m *MonitorClient) Register(ctx context.Context, agent config.AgentConfig, registrationToken string) error {
	body := map[string]any{
		"id":                 agent.ID,
		"hostname":           agent.Hostname,
		"version":            version.Version,
		"role":               "probe",
		"api_key":            agent.APIKey,
		"registration_token": registrationToken,
	}
	if agent.ParentID != "" {
		body["parent_id"] = agent.ParentID
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal registration: %w", err)
	}

	err = retry.Do(ctx, retry.Patient, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			m.baseURL+"/api/v1/agents", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		return m.send(req)
	})
	if err != nil {
		return fmt.Errorf("register with monitor: %w", err)
	}
	m.logger.Info("Registered with monitor", "agent_id", agent.ID, "monitor", m.baseURL)
	return nil
}

// Heartbeat posts one liveness update with the current health verdict.
func (m *MonitorClient) Heartbeat(ctx context.Context, agentID, health string) error {
	payload, err := json.Marshal(map[string]string{"health_status": health})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.baseURL+"/api/v1/agents/"+agentID+"/heartbeat", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", m.apiKey)
	return m.send(req)
}

func (m *MonitorClient) send(req *http.Request) error {
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &retry.HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// HeartbeatLoop posts heartbeats on an interval until Stop is called. The
// health callback reports the probe's latest inspection verdict.
type HeartbeatLoop struct {
	client   *MonitorClient
	agentID  string
	interval time.Duration
	health   func() string

	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// NewHeartbeatLoop creates a heartbeat loop. health may be nil; the loop
// then reports "unknown".
func NewHeartbeatLoop(client *MonitorClient, agentID string, interval time.Duration, health func() string) *HeartbeatLoop {
	return &HeartbeatLoop{
		client:   client,
		agentID:  agentID,
		interval: interval,
		health:   health,
		logger:   slog.Default().With("component", "heartbeat-loop"),
	}
}

// Start launches the background loop. An immediate first heartbeat marks
// the probe online right after startup.
func (h *HeartbeatLoop) Start(ctx context.Context) {
	if h.cancel != nil {
		return
	}
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})

	go h.run(ctx)
	h.logger.Info("Heartbeat loop started", "interval", h.interval)
}

// Stop signals the loop to exit and waits for it.
func (h *HeartbeatLoop) Stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
	h.logger.Info("Heartbeat loop stopped")
}

func (h *HeartbeatLoop) run(ctx context.Context) {
	defer close(h.done)

	h.beat(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.beat(ctx)
		}
	}
}

func (h *HeartbeatLoop) beat(ctx context.Context) {
	health := "unknown"
	if h.health != nil {
		if v := h.health(); v != "" {
			health = v
		}
	}
	if err := h.client.Heartbeat(ctx, h.agentID, health); err != nil {
		h.logger.Warn("Heartbeat failed", "error", err)
	}
}
