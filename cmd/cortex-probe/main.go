// Cortex probe daemon: runs scheduled host inspections, applies L1
// auto-fixes, and ships reports to its monitor through the durable queue.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cortex-ops/cortex/pkg/classifier"
	"github.com/cortex-ops/cortex/pkg/cleanup"
	"github.com/cortex-ops/cortex/pkg/config"
	"github.com/cortex-ops/cortex/pkg/events"
	"github.com/cortex-ops/cortex/pkg/fixer"
	"github.com/cortex-ops/cortex/pkg/intent"
	"github.com/cortex-ops/cortex/pkg/probe"
	"github.com/cortex-ops/cortex/pkg/queue"
	"github.com/cortex-ops/cortex/pkg/retry"
	"github.com/cortex-ops/cortex/pkg/version"
)

const wsWriteTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("CORTEX_CONFIG"), "path to config.yaml")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	config.SetupLogging(cfg.Logging)

	if err := config.ValidateProbe(cfg); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting cortex-probe",
		"version", version.Version,
		"agent_id", cfg.Agent.ID,
		"monitor", cfg.Agent.MonitorURL,
		"cron", cfg.Schedule.Cron)

	ctx := context.Background()

	intentPath := ""
	if cfg.Intent.Enabled {
		intentPath = cfg.Intent.Path
	}
	intents, err := intent.Open(intentPath)
	if err != nil {
		slog.Error("Failed to open intent store", "path", cfg.Intent.Path, "error", err)
		os.Exit(1)
	}
	defer intents.Close()

	store, err := queue.OpenStore(queue.StoreConfig{
		Path:       cfg.Queue.Path,
		Capacity:   cfg.Queue.Capacity,
		MaxRetries: cfg.Queue.MaxRetries,
	})
	if err != nil {
		slog.Error("Failed to open queue store", "path", cfg.Queue.Path, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	monitorClient := probe.NewMonitorClient(cfg.Agent.MonitorURL, cfg.Agent.APIKey)

	// Cluster mode: announce this probe to its monitor before probing.
	if cfg.Monitor.RegistrationToken != "" {
		regCtx, regCancel := context.WithTimeout(ctx, 2*time.Minute)
		err := monitorClient.Register(regCtx, cfg.Agent, cfg.Monitor.RegistrationToken)
		regCancel()
		if err != nil {
			slog.Error("Registration with monitor failed", "error", err)
			os.Exit(1)
		}
	}

	connManager := events.NewConnectionManager(wsWriteTimeout)
	executor := probe.NewExecutor(cfg.Agent.ID, cfg.LLM.Model, cfg.Thresholds,
		probe.NewCollector(), classifier.New(), fixer.New(), store, intents)
	scheduler := probe.NewScheduler(executor, cfg.Schedule.Cron, cfg.Schedule.Timeout, connManager)
	if err := scheduler.Start(ctx); err != nil {
		slog.Error("Failed to start scheduler", "cron", cfg.Schedule.Cron, "error", err)
		os.Exit(1)
	}

	sender := queue.NewSender(store, queue.SenderConfig{
		BaseURL:      cfg.Agent.MonitorURL,
		APIKey:       cfg.Agent.APIKey,
		Interval:     cfg.Queue.SendInterval,
		BatchSize:    cfg.Queue.BatchSize,
		RetryProfile: retry.Fast,
	})
	sender.Start(ctx)

	heartbeats := probe.NewHeartbeatLoop(monitorClient, cfg.Agent.ID, cfg.Heartbeat.Interval, func() string {
		status := scheduler.Status()
		if status.LastExecution != nil && status.LastExecution.Report != nil {
			return string(status.LastExecution.Report.Status)
		}
		return "unknown"
	})
	heartbeats.Start(ctx)

	cleaner := cleanup.NewService(cfg.Retention, nil, store)
	cleaner.Start(ctx)

	server := probe.NewServer(cfg, scheduler, store, connManager)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Agent.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Probe API listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	workerCtx, workerCancel := context.WithTimeout(ctx, 30*time.Second)
	defer workerCancel()

	done := make(chan struct{})
	go func() {
		scheduler.Stop()
		heartbeats.Stop()
		cleaner.Stop()

		// Last chance to hand queued reports to the monitor.
		flushCtx, flushCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := sender.Flush(flushCtx); err != nil {
			slog.Warn("Final queue flush incomplete", "error", err)
		}
		flushCancel()
		sender.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Background services stopped")
	case <-workerCtx.Done():
		slog.Warn("Background service shutdown timeout exceeded")
	}

	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
