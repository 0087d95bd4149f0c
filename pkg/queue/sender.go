package queue

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cortex-ops/cortex/pkg/retry"
)

var (
	itemsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cortex_queue_items_sent_total",
		Help: "Queue items delivered to the monitor.",
	})
	itemsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cortex_queue_items_failed_total",
		Help: "Queue items that exhausted their retry budget.",
	})
)

// SenderConfig tunes the delivery loop.
type SenderConfig struct {
	BaseURL      string        // monitor base URL, e.g. http://monitor:8000
	APIKey       string        // sent as X-API-Key on every delivery
	Interval     time.Duration // pause between drain passes
	BatchSize    int           // items fetched per pass
	RetryProfile retry.Profile // per-item in-flight retry policy
}

// DefaultSenderConfig returns the standard delivery cadence.
func DefaultSenderConfig(baseURL, apiKey string) SenderConfig {
	return SenderConfig{
		BaseURL:      baseURL,
		APIKey:       apiKey,
		Interval:     60 * time.Second,
		BatchSize:    10,
		RetryProfile: retry.Fast,
	}
}

// Sender drains the queue store in the background, posting each item to the
// monitor. Items that fail in flight are retried on later passes until the
// store marks them terminal.
type Sender struct {
	store  *Store
	cfg    SenderConfig
	client *http.Client
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSender creates a sender for the given store.
func NewSender(store *Store, cfg SenderConfig) *Sender {
	return &Sender{
		store:  store,
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: slog.Default().With("component", "queue-sender"),
	}
}

// Start launches the background delivery loop.
func (s *Sender) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Queue sender started",
		"base_url", s.cfg.BaseURL,
		"interval", s.cfg.Interval,
		"batch_size", s.cfg.BatchSize)
}

// Stop signals the loop to exit and waits for in-flight deliveries.
func (s *Sender) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Queue sender stopped")
}

func (s *Sender) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drainOnce(ctx)
		}
	}
}

// Flush drains the queue until no deliverable items remain or ctx is done.
func (s *Sender) Flush(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := s.drainOnce(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

// drainOnce fetches one batch and delivers its items concurrently. Returns
// the number of items attempted.
func (s *Sender) drainOnce(ctx context.Context) (int, error) {
	items, err := s.store.Pending(ctx, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("Failed to fetch pending queue items", "error", err)
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	var wg sync.WaitGroup
	for _, item := range items {
		wg.Add(1)
		go func(item Item) {
			defer wg.Done()
			s.deliver(ctx, item)
		}(item)
	}
	wg.Wait()
	return len(items), nil
}

func (s *Sender) deliver(ctx context.Context, item Item) {
	if err := s.store.MarkSending(ctx, item.ID); err != nil {
		s.logger.Error("Failed to mark item sending", "item_id", item.ID, "error", err)
		return
	}

	err := retry.Do(ctx, s.cfg.RetryProfile, func(ctx context.Context) error {
		return s.post(ctx, item)
	})
	if err == nil {
		if err := s.store.MarkSent(ctx, item.ID); err != nil {
			s.logger.Error("Failed to mark item sent", "item_id", item.ID, "error", err)
			return
		}
		itemsSent.Inc()
		return
	}

	terminal, markErr := s.store.MarkFailed(ctx, item.ID, err.Error())
	if markErr != nil {
		s.logger.Error("Failed to mark item failed", "item_id", item.ID, "error", markErr)
		return
	}
	if terminal {
		itemsFailed.Inc()
		s.logger.Error("Queue item exhausted retries, giving up",
			"item_id", item.ID,
			"endpoint", item.Endpoint,
			"error", err)
		return
	}
	s.logger.Warn("Queue item delivery failed, will retry",
		"item_id", item.ID,
		"endpoint", item.Endpoint,
		"retry_count", item.RetryCount+1,
		"error", err)
}

func (s *Sender) post(ctx context.Context, item Item) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.cfg.BaseURL+item.Endpoint, bytes.NewReader([]byte(item.Payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &retry.HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
