package probe

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/cortex-ops/cortex/pkg/events"
	"github.com/cortex-ops/cortex/pkg/models"
)

// ErrAlreadyRunning is returned by ExecuteOnce when an inspection is in
// flight and force was not set.
var ErrAlreadyRunning = errors.New("inspection already running")

// historySize bounds the execution history ring.
const historySize = 100

// Execution states.
const (
	ExecutionPending   = "pending"
	ExecutionRunning   = "running"
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
	ExecutionTimeout   = "timeout"
)

// Execution is one inspection run and its outcome.
type Execution struct {
	ID         string              `json:"id"`
	Status     string              `json:"status"`
	Trigger    string              `json:"trigger"` // "schedule" or "manual"
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
	Report     *models.ProbeReport `json:"report,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// SchedulerStatus is the scheduler's externally visible state.
type SchedulerStatus struct {
	Running       bool       `json:"running"`
	Paused        bool       `json:"paused"`
	CronSpec      string     `json:"cron"`
	NextRun       *time.Time `json:"next_run,omitempty"`
	Current       *Execution `json:"current_execution,omitempty"`
	LastExecution *Execution `json:"last_execution,omitempty"`
}

// Scheduler owns the cron trigger and serializes inspections: overlapping
// scheduled fires coalesce, manual runs refuse to overlap unless forced.
type Scheduler struct {
	executor *Executor
	events   events.Publisher
	cronSpec string
	timeout  time.Duration

	cron    *cron.Cron
	entryID cron.EntryID

	mu      sync.Mutex
	running bool
	paused  bool
	current *Execution
	history []*Execution // newest first

	wg     sync.WaitGroup
	logger *slog.Logger
	now    func() time.Time
}

// NewScheduler creates a scheduler. publisher may be nil; a zero timeout
// leaves runs unbounded.
func NewScheduler(executor *Executor, cronSpec string, timeout time.Duration, publisher events.Publisher) *Scheduler {
	return &Scheduler{
		executor: executor,
		events:   publisher,
		cronSpec: cronSpec,
		timeout:  timeout,
		logger:   slog.Default().With("component", "scheduler"),
		now:      time.Now,
	}
}

// Start registers the cron trigger and begins firing. Returns an error when
// the cron expression does not parse.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cron != nil {
		return nil
	}
	s.cron = cron.New()

	id, err := s.cron.AddFunc(s.cronSpec, func() { s.fireScheduled(ctx) })
	if err != nil {
		s.cron = nil
		return err
	}
	s.entryID = id
	s.cron.Start()

	s.logger.Info("Scheduler started", "cron", s.cronSpec)
	return nil
}

// Stop halts the trigger and waits for any in-flight inspection.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// fireScheduled is the cron callback. Paused schedules and overlapping runs
// drop the tick.
func (s *Scheduler) fireScheduled(ctx context.Context) {
	s.mu.Lock()
	if s.paused {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if _, err := s.execute(ctx, false, "schedule"); err != nil {
		s.logger.Debug("Scheduled inspection skipped", "reason", err)
	}
}

// ExecuteOnce starts a manual inspection and returns its execution id. With
// force set, a run starts even while another is in flight.
func (s *Scheduler) ExecuteOnce(ctx context.Context, force bool) (string, error) {
	return s.execute(ctx, force, "manual")
}

func (s *Scheduler) execute(ctx context.Context, force bool, trigger string) (string, error) {
	s.mu.Lock()
	if s.running && !force {
		s.mu.Unlock()
		return "", ErrAlreadyRunning
	}

	exec := &Execution{
		ID:        uuid.NewString(),
		Status:    ExecutionPending,
		Trigger:   trigger,
		StartedAt: s.now().UTC(),
	}
	s.running = true
	s.current = exec
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx, exec)
	return exec.ID, nil
}

func (s *Scheduler) run(ctx context.Context, exec *Execution) {
	defer s.wg.Done()

	s.setStatus(exec, ExecutionRunning)
	s.publish(events.EventInspectionStarted, map[string]any{
		"execution_id": exec.ID,
		"trigger":      exec.Trigger,
	})

	// A deadline keeps a hung collector or fix handler from wedging the
	// single-flight gate forever.
	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	report, err := s.executor.Run(runCtx)

	s.mu.Lock()
	finished := s.now().UTC()
	exec.FinishedAt = &finished
	if err != nil {
		exec.Status = ExecutionFailed
		if errors.Is(err, context.DeadlineExceeded) {
			exec.Status = ExecutionTimeout
		}
		exec.Error = err.Error()
	} else {
		exec.Status = ExecutionCompleted
		exec.Report = report
	}
	s.history = append([]*Execution{exec}, s.history...)
	if len(s.history) > historySize {
		s.history = s.history[:historySize]
	}
	if s.current == exec {
		s.current = nil
		s.running = false
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Inspection failed", "execution_id", exec.ID, "error", err)
		s.publish(events.EventInspectionFailed, map[string]any{
			"execution_id": exec.ID,
			"error":        err.Error(),
		})
		return
	}
	s.publish(events.EventInspectionCompleted, map[string]any{
		"execution_id": exec.ID,
		"status":       string(report.Status),
		"issues":       len(report.Issues),
		"actions":      len(report.ActionsTaken),
	})
}

func (s *Scheduler) setStatus(exec *Execution, status string) {
	s.mu.Lock()
	exec.Status = status
	s.mu.Unlock()
}

func (s *Scheduler) publish(eventType string, data map[string]any) {
	if s.events != nil {
		s.events.Publish(eventType, data)
	}
}

// Pause suspends the cron trigger. Manual runs remain allowed.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	s.logger.Info("Schedule paused")
}

// Resume lifts a pause.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	s.logger.Info("Schedule resumed")
}

// snapshot copies an execution so callers can serialize it outside the
// scheduler mutex while the run goroutine keeps mutating the original.
func snapshot(exec *Execution) *Execution {
	if exec == nil {
		return nil
	}
	cp := *exec
	return &cp
}

// Status reports the scheduler's current state.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := SchedulerStatus{
		Running:  s.running,
		Paused:   s.paused,
		CronSpec: s.cronSpec,
		Current:  snapshot(s.current),
	}
	if len(s.history) > 0 {
		status.LastExecution = snapshot(s.history[0])
	}
	if s.cron != nil {
		next := s.cron.Entry(s.entryID).Next
		if !next.IsZero() {
			status.NextRun = &next
		}
	}
	return status
}

// RecentReports returns up to limit executions, newest first.
func (s *Scheduler) RecentReports(limit int) []*Execution {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	out := make([]*Execution, limit)
	for i, exec := range s.history[:limit] {
		out[i] = snapshot(exec)
	}
	return out
}

// GetReport returns the execution with the given id, or nil.
func (s *Scheduler) GetReport(id string) *Execution {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.current.ID == id {
		return snapshot(s.current)
	}
	for _, exec := range s.history {
		if exec.ID == id {
			return snapshot(exec)
		}
	}
	return nil
}
