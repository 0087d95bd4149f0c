// Package fixer executes L1 auto-remediations on the probe host. Every
// attempt, successful or not, is wrapped into an Action so the monitor sees
// a full audit of what was touched.
package fixer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cortex-ops/cortex/pkg/models"
)

// ErrPartial marks a remediation that improved the situation without fully
// resolving it. Handlers wrap it; the action is recorded with a partial
// result and the wrapped message.
var ErrPartial = errors.New("fix partially applied")

// HandlerFunc performs one remediation. It returns handler-specific detail
// fields for the action record, or an error when the fix did not take. An
// error wrapping ErrPartial records a partial result instead of a failure.
type HandlerFunc func(ctx context.Context, issue models.Issue) (map[string]any, error)

type handlerEntry struct {
	action string
	fn     HandlerFunc
}

// Fixer dispatches issues to registered remediation handlers.
type Fixer struct {
	mu       sync.RWMutex
	handlers map[string]handlerEntry

	tmpDir string
	logDir string
	logger *slog.Logger
	now    func() time.Time
}

// New creates a fixer with the built-in handlers operating on the standard
// system paths.
func New() *Fixer {
	return NewWithPaths("/tmp", "/var/log")
}

// NewWithPaths creates a fixer whose filesystem handlers operate on the
// given directories.
func NewWithPaths(tmpDir, logDir string) *Fixer {
	f := &Fixer{
		handlers: make(map[string]handlerEntry),
		tmpDir:   tmpDir,
		logDir:   logDir,
		logger:   slog.Default().With("component", "fixer"),
		now:      time.Now,
	}
	f.registerBuiltins()
	return f
}

// Register adds or replaces the handler for an issue type. actionName is the
// label recorded on resulting actions.
func (f *Fixer) Register(issueType, actionName string, fn HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[issueType] = handlerEntry{action: actionName, fn: fn}
}

// CanFix reports whether a handler is registered for the issue type.
func (f *Fixer) CanFix(issueType string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.handlers[issueType]
	return ok
}

// Fix runs the handler for the issue and wraps the outcome into an Action.
// Handler errors and panics never propagate; they become failed actions.
func (f *Fixer) Fix(ctx context.Context, issue models.Issue) models.Action {
	f.mu.RLock()
	entry, ok := f.handlers[issue.Type]
	f.mu.RUnlock()

	if !ok {
		return models.Action{
			Level:     models.LevelL1,
			Action:    "fix_" + issue.Type,
			Result:    models.ActionFailed,
			Details:   map[string]any{"error": "no handler registered for issue type " + issue.Type},
			Timestamp: f.now().UTC(),
		}
	}

	details, err := f.runHandler(ctx, entry, issue)

	action := models.Action{
		Level:     models.LevelL1,
		Action:    entry.action,
		Result:    models.ActionSuccess,
		Details:   details,
		Timestamp: f.now().UTC(),
	}
	if err != nil {
		action.Result = models.ActionFailed
		if errors.Is(err, ErrPartial) {
			action.Result = models.ActionPartial
		}
		if action.Details == nil {
			action.Details = make(map[string]any)
		}
		action.Details["error"] = err.Error()
		f.logger.Warn("Auto-fix incomplete",
			"issue_type", issue.Type, "action", entry.action,
			"result", action.Result, "error", err)
	} else {
		f.logger.Info("Auto-fix applied", "issue_type", issue.Type, "action", entry.action)
	}
	return action
}

func (f *Fixer) runHandler(ctx context.Context, entry handlerEntry, issue models.Issue) (details map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return entry.fn(ctx, issue)
}
