package notify

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/cortex-ops/cortex/pkg/config"
	"github.com/cortex-ops/cortex/pkg/retry"
	"github.com/cortex-ops/cortex/pkg/services"
)

// batchPacing spaces out consecutive posts so a noisy report cannot trip
// Slack's rate limit.
const batchPacing = 500 * time.Millisecond

// postTimeout bounds a single chat.postMessage call.
const postTimeout = 10 * time.Second

// Service handles alert notification delivery.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client       *Client
	dashboardURL string
	pacing       time.Duration
	logger       *slog.Logger
}

// NewService creates a notification service from config, reading the bot
// token from the configured environment variable. Returns nil when Slack is
// disabled or not fully configured.
func NewService(cfg config.SlackConfig, dashboardURL string) *Service {
	if !cfg.Enabled || cfg.Channel == "" {
		return nil
	}
	token := os.Getenv(cfg.TokenEnv)
	if token == "" {
		return nil
	}
	return &Service{
		client:       NewClient(token, cfg.Channel),
		dashboardURL: dashboardURL,
		pacing:       batchPacing,
		logger:       slog.Default().With("component", "notify-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		pacing:       batchPacing,
		logger:       slog.Default().With("component", "notify-service"),
	}
}

// NotifyAlert posts one alert to the channel.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyAlert(ctx context.Context, alert services.Alert) {
	if s == nil {
		return
	}

	blocks := BuildAlertMessage(alert, s.dashboardURL)
	err := retry.Do(ctx, retry.Fast, func(ctx context.Context) error {
		return s.client.PostMessage(ctx, blocks, postTimeout)
	})
	if err != nil {
		s.logger.Error("Failed to send alert notification",
			"alert_id", alert.ID,
			"agent_id", alert.AgentID,
			"error", err)
	}
}

// NotifyAlertBatch posts a batch of alerts with pacing between messages.
// Fail-open: a failed post does not stop the rest of the batch.
func (s *Service) NotifyAlertBatch(ctx context.Context, alerts []services.Alert) {
	if s == nil || len(alerts) == 0 {
		return
	}

	for i, alert := range alerts {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.pacing):
			}
		}
		s.NotifyAlert(ctx, alert)
	}
}
