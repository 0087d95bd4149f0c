// Package cleanup prunes aged data in the background: old probe reports on
// the monitor and terminal queue items on the probe.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/cortex-ops/cortex/pkg/config"
	"github.com/cortex-ops/cortex/pkg/queue"
	"github.com/cortex-ops/cortex/pkg/services"
)

// Service runs retention sweeps on an interval. Either store may be nil;
// the sweep then skips it.
type Service struct {
	cfg     config.RetentionConfig
	reports *services.ReportService
	queue   *queue.Store
	logger  *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service.
func NewService(cfg config.RetentionConfig, reports *services.ReportService, store *queue.Store) *Service {
	return &Service{
		cfg:     cfg,
		reports: reports,
		queue:   store,
		logger:  slog.Default().With("component", "cleanup"),
	}
}

// Start launches the periodic sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)
	s.logger.Info("Cleanup service started",
		"interval", s.cfg.CleanupInterval,
		"report_retention_days", s.cfg.ReportRetentionDays,
		"queue_retention", s.cfg.QueueRetention)
}

// Stop signals the loop to exit and waits for the current sweep.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one retention pass. Failures are logged; the next tick tries
// again.
func (s *Service) Sweep(ctx context.Context) {
	if s.reports != nil && s.cfg.ReportRetentionDays > 0 {
		removed, err := s.reports.PurgeOlderThan(ctx, s.cfg.ReportRetentionDays)
		if err != nil {
			s.logger.Error("Report purge failed", "error", err)
		} else if removed > 0 {
			s.logger.Info("Purged old reports", "count", removed)
		}
	}

	if s.queue != nil && s.cfg.QueueRetention > 0 {
		removed, err := s.queue.CleanupOlderThan(ctx, s.cfg.QueueRetention)
		if err != nil {
			s.logger.Error("Queue cleanup failed", "error", err)
		} else if removed > 0 {
			s.logger.Info("Purged terminal queue items", "count", removed)
		}
	}
}
