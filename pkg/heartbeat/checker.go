// Package heartbeat marks agents offline when their heartbeats stop.
package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"github.com/cortex-ops/cortex/pkg/cache"
	"github.com/cortex-ops/cortex/pkg/config"
	"github.com/cortex-ops/cortex/pkg/events"
	"github.com/cortex-ops/cortex/pkg/models"
	"github.com/cortex-ops/cortex/pkg/services"
)

// Checker periodically sweeps the agent registry for online agents whose
// last heartbeat is past the timeout and marks them offline. Each transition
// is broadcast exactly once.
type Checker struct {
	config config.HeartbeatConfig
	agents *services.AgentService
	events events.Publisher
	cache  *cache.Cache
	now    func() time.Time
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewChecker creates a Checker. publisher and responseCache may be nil.
func NewChecker(cfg config.HeartbeatConfig, agents *services.AgentService, publisher events.Publisher, responseCache *cache.Cache) *Checker {
	return &Checker{
		config: cfg,
		agents: agents,
		events: publisher,
		cache:  responseCache,
		now:    time.Now,
		logger: slog.Default().With("component", "heartbeat-checker"),
	}
}

// Start launches the background sweep loop.
func (c *Checker) Start(ctx context.Context) {
	if c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	go c.run(ctx)

	c.logger.Info("Heartbeat checker started",
		"interval", c.config.Interval,
		"timeout", c.config.Timeout)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (c *Checker) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.logger.Info("Heartbeat checker stopped")
}

func (c *Checker) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep performs one pass and returns how many agents went offline.
func (c *Checker) Sweep(ctx context.Context) int {
	cutoff := c.now().UTC().Add(-c.config.Timeout)
	stale, err := c.agents.ListStaleOnline(ctx, cutoff)
	if err != nil {
		c.logger.Error("Stale agent query failed", "error", err)
		return 0
	}

	marked := 0
	for _, agent := range stale {
		if err := c.agents.MarkOffline(ctx, agent.ID); err != nil {
			c.logger.Error("Failed to mark agent offline",
				"agent_id", agent.ID, "error", err)
			continue
		}
		marked++
		c.logger.Warn("Agent went offline",
			"agent_id", agent.ID, "last_heartbeat", agent.LastHeartbeat)

		if c.events != nil {
			c.events.Publish(events.EventAgentStatusChanged, map[string]any{
				"agent_id":   agent.ID,
				"old_status": string(models.AgentOnline),
				"new_status": string(models.AgentOffline),
			})
		}
	}

	if marked > 0 && c.cache != nil {
		c.cache.ClearPattern("agents:")
		c.cache.ClearPattern("cluster:")
	}
	return marked
}
