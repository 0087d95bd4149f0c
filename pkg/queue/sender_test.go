package queue

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-ops/cortex/pkg/retry"
)

func newTestSender(t *testing.T, store *Store, baseURL string) *Sender {
	t.Helper()
	cfg := DefaultSenderConfig(baseURL, "sk_test")
	cfg.Interval = 10 * time.Millisecond
	cfg.RetryProfile = retry.Profile{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	return NewSender(store, cfg)
}

func TestFlushDeliversAllItems(t *testing.T) {
	var received atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk_test", r.Header.Get("X-API-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "/api/v1/reports", r.URL.Path)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newTestStore(t, DefaultStoreConfig(""))
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := store.Enqueue(ctx, "/api/v1/reports", map[string]int{"seq": i})
		require.NoError(t, err)
	}

	sender := newTestSender(t, store, srv.URL)
	require.NoError(t, sender.Flush(ctx))

	assert.Equal(t, int64(4), received.Load())

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats[StatusSent])
	assert.Equal(t, 0, stats[StatusPending])
}

func TestDeliveryFailureReturnsItemToPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	store := newTestStore(t, DefaultStoreConfig(""))
	ctx := context.Background()
	id, err := store.Enqueue(ctx, "/api/v1/reports", "payload")
	require.NoError(t, err)

	sender := newTestSender(t, store, srv.URL)
	_, err = sender.drainOnce(ctx)
	require.NoError(t, err)

	items, err := store.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].ID)
	assert.Equal(t, 1, items[0].RetryCount)
	require.NotNil(t, items[0].LastError)
	assert.Contains(t, *items[0].LastError, "502")
}

func TestDeliveryExhaustionGoesTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultStoreConfig("")
	cfg.MaxRetries = 2
	store := newTestStore(t, cfg)
	ctx := context.Background()
	_, err := store.Enqueue(ctx, "/api/v1/reports", "payload")
	require.NoError(t, err)

	sender := newTestSender(t, store, srv.URL)
	require.NoError(t, sender.Flush(ctx))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[StatusFailed])
	assert.Equal(t, 0, stats[StatusPending])
}

func TestStartStop(t *testing.T) {
	var received atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newTestStore(t, DefaultStoreConfig(""))
	ctx := context.Background()
	_, err := store.Enqueue(ctx, "/api/v1/reports", "payload")
	require.NoError(t, err)

	sender := newTestSender(t, store, srv.URL)
	sender.Start(ctx)

	require.Eventually(t, func() bool {
		return received.Load() >= 1
	}, 2*time.Second, 5*time.Millisecond)

	sender.Stop()
}
