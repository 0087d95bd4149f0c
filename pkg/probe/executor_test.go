package probe

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-ops/cortex/pkg/classifier"
	"github.com/cortex-ops/cortex/pkg/config"
	"github.com/cortex-ops/cortex/pkg/fixer"
	"github.com/cortex-ops/cortex/pkg/models"
	"github.com/cortex-ops/cortex/pkg/queue"
)

type stubCollector struct {
	metrics models.SystemMetrics
	err     error
}

func (s *stubCollector) Collect(context.Context) (models.SystemMetrics, error) {
	return s.metrics, s.err
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []string
	data   []map[string]any
}

func (p *capturingPublisher) Publish(eventType string, data map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	p.data = append(p.data, data)
}

var testThresholds = config.ThresholdsConfig{
	CPUPercent:    80,
	MemoryPercent: 85,
	DiskPercent:   90,
}

func newTestExecutor(t *testing.T, collector Collector) (*Executor, *queue.Store) {
	t.Helper()
	store, err := queue.OpenStore(queue.StoreConfig{Path: ":memory:", Capacity: 100, MaxRetries: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	fix := fixer.NewWithPaths(t.TempDir(), t.TempDir())
	return NewExecutor("probe-01", "claude-sonnet-4-5", testThresholds, collector, classifier.New(), fix, store, nil), store
}

func TestExecutorHealthyRun(t *testing.T) {
	exec, store := newTestExecutor(t, &stubCollector{metrics: models.SystemMetrics{
		CPUPercent: 10, MemoryPercent: 20, DiskPercent: 30,
	}})

	report, err := exec.Run(t.Context())
	require.NoError(t, err)

	assert.Equal(t, models.StatusHealthy, report.Status)
	assert.Empty(t, report.Issues)
	assert.Empty(t, report.ActionsTaken)
	assert.Equal(t, "probe-01", report.AgentID)
	require.NotNil(t, report.Metadata)
	assert.NotEmpty(t, report.Metadata["probe_version"])
	assert.Equal(t, "claude-sonnet-4-5", report.Metadata["llm_model"])

	items, err := store.Pending(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "/api/v1/reports", items[0].Endpoint)

	var queued models.ProbeReport
	require.NoError(t, json.Unmarshal([]byte(items[0].Payload), &queued))
	assert.Equal(t, models.StatusHealthy, queued.Status)
}

func TestExecutorThresholdBreaches(t *testing.T) {
	exec, _ := newTestExecutor(t, &stubCollector{metrics: models.SystemMetrics{
		CPUPercent: 95.5, MemoryPercent: 91, DiskPercent: 30,
	}})

	report, err := exec.Run(t.Context())
	require.NoError(t, err)

	// cpu_high and memory_high are unrecognized types, so they classify L2.
	assert.Equal(t, models.StatusWarning, report.Status)
	require.Len(t, report.Issues, 2)
	assert.Equal(t, "cpu_high", report.Issues[0].Type)
	assert.Equal(t, models.LevelL2, report.Issues[0].Level)
	assert.Equal(t, "CPU usage is 95.5%, exceeding threshold 80.0%", report.Issues[0].Description)
	assert.Equal(t, "memory_high", report.Issues[1].Type)
	assert.Equal(t, models.SeverityHigh, report.Issues[1].Severity)
}

func TestExecutorAutoFixesDiskIssue(t *testing.T) {
	exec, _ := newTestExecutor(t, &stubCollector{metrics: models.SystemMetrics{
		CPUPercent: 10, MemoryPercent: 20, DiskPercent: 97,
	}})

	report, err := exec.Run(t.Context())
	require.NoError(t, err)

	// disk_space_low is auto-fixable: it ships as an action, not an issue.
	assert.Empty(t, report.Issues)
	require.Len(t, report.ActionsTaken, 1)
	assert.Equal(t, models.LevelL1, report.ActionsTaken[0].Level)

	// A threshold breach alone still degrades the verdict.
	assert.Equal(t, models.StatusWarning, report.Status)
}

func TestExecutorCollectFailure(t *testing.T) {
	exec, store := newTestExecutor(t, &stubCollector{err: errors.New("proc unreadable")})

	_, err := exec.Run(t.Context())
	require.ErrorContains(t, err, "collect metrics")

	items, err := store.Pending(t.Context(), 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}
