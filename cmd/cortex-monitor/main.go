// Cortex monitor server: ingests probe reports, runs the decision engine,
// raises and notifies alerts, and serves the cluster API.
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

	"github.com/cortex-ops/cortex/pkg/alerts"
	"github.com/cortex-ops/cortex/pkg/api"
	"github.com/cortex-ops/cortex/pkg/auth"
	"github.com/cortex-ops/cortex/pkg/cache"
	"github.com/cortex-ops/cortex/pkg/cleanup"
	"github.com/cortex-ops/cortex/pkg/config"
	"github.com/cortex-ops/cortex/pkg/database"
	"github.com/cortex-ops/cortex/pkg/decision"
	"github.com/cortex-ops/cortex/pkg/events"
	"github.com/cortex-ops/cortex/pkg/heartbeat"
	"github.com/cortex-ops/cortex/pkg/intent"
	"github.com/cortex-ops/cortex/pkg/llm"
	"github.com/cortex-ops/cortex/pkg/notify"
	"github.com/cortex-ops/cortex/pkg/services"
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

	if err := config.ValidateMonitor(cfg); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting cortex-monitor",
		"version", version.Version,
		"port", cfg.Monitor.Port)

	ctx := context.Background()

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to database", "host", dbConfig.Host, "database", dbConfig.Database)

	db := dbClient.DB()
	agentService := services.NewAgentService(db)
	reportService := services.NewReportService(db)
	decisionService := services.NewDecisionService(db)
	alertService := services.NewAlertService(db)
	userService := services.NewUserService(db)
	apiKeyService := services.NewAPIKeyService(db)

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

	llmClient, err := llm.New(cfg.LLM)
	if errors.Is(err, llm.ErrNoAPIKey) {
		slog.Warn("LLM backend disabled, L2 issues will be rejected",
			"api_key_env", cfg.LLM.APIKeyEnv)
		llmClient = nil
	} else if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}

	forwarder := decision.NewForwarder(cfg.Upstream.URL, cfg.Upstream.APIKey)
	if forwarder != nil {
		slog.Info("Upstream escalation enabled", "upstream", cfg.Upstream.URL)
	}

	connManager := events.NewConnectionManager(wsWriteTimeout)
	engine := decision.NewEngine(llmClient, forwarder, decisionService, intents, connManager)
	aggregator := alerts.NewAggregator(alertService, intents, connManager, cfg.Monitor.DedupWindow)
	notifier := notify.NewService(cfg.Slack, os.Getenv("CORTEX_DASHBOARD_URL"))
	if notifier == nil {
		slog.Info("Slack notifications disabled")
	}

	issuer := auth.NewTokenIssuer(cfg.Auth.SecretKey, cfg.Auth.AccessTokenExpiry)
	responseCache := cache.New()

	checker := heartbeat.NewChecker(cfg.Heartbeat, agentService, connManager, responseCache)
	checker.Start(ctx)

	retention := cfg.Retention
	if cfg.Monitor.ReportRetentionDays > 0 {
		retention.ReportRetentionDays = cfg.Monitor.ReportRetentionDays
	}
	cleaner := cleanup.NewService(retention, reportService, nil)
	cleaner.Start(ctx)

	server := api.NewServer(api.Deps{
		Config:     cfg.Monitor,
		DBClient:   dbClient,
		DB:         dbClient.DB(),
		Agents:     agentService,
		Reports:    reportService,
		Decisions:  decisionService,
		Alerts:     alertService,
		Users:      userService,
		APIKeys:    apiKeyService,
		Engine:     engine,
		Aggregator: aggregator,
		Notifier:   notifier,
		ConnMgr:    connManager,
		Intents:    intents,
		Issuer:     issuer,
		Cache:      responseCache,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Monitor.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
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
		checker.Stop()
		cleaner.Stop()
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
