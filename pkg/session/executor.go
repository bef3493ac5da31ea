package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/pilot/pkg/automation"
	"github.com/entrhq/pilot/pkg/logging"
	"github.com/entrhq/pilot/pkg/types"
)

// DefaultMaxRetries is the number of attempts an operation gets by default.
const DefaultMaxRetries = 3

// Operation is one attempt of a logical operation against a handle.
type Operation[T any] func(ctx context.Context, h automation.Handle, attempt, maxRetries int) (T, error)

// Executor runs operations with connection-aware retry. Between attempts it
// forces the manager to recreate the handle and waits for it to settle.
type Executor struct {
	manager        *Manager
	maxRetries     int
	stabilizeDelay time.Duration
	logger         *logging.Logger
}

// NewExecutor creates an executor over manager. maxRetries below 1 means DefaultMaxRetries.
func NewExecutor(manager *Manager, maxRetries int) *Executor {
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}
	return &Executor{
		manager:        manager,
		maxRetries:     maxRetries,
		stabilizeDelay: manager.opts.StabilizeDelay,
		logger:         manager.logger,
	}
}

// WithMaxRetries returns a copy of e that makes at most n attempts.
func (e *Executor) WithMaxRetries(n int) *Executor {
	clone := *e
	if n < 1 {
		n = 1
	}
	clone.maxRetries = n
	return &clone
}

// Manager returns the session manager the executor drives.
func (e *Executor) Manager() *Manager {
	return e.manager
}

// Run executes op with retry. Connection-class errors trigger a forced
// reconnect and another attempt until maxRetries is reached; any other
// error is returned immediately.
func Run[T any](ctx context.Context, e *Executor, name string, op Operation[T]) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		handle, err := e.manager.EnsureReady(ctx)
		if err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("%s: %w (after: %v)", name, err, lastErr)
			}
			return zero, fmt.Errorf("%s: %w", name, err)
		}

		e.manager.emit(e.manager.event(types.EventTypeTaskStarted, StateReady).
			WithAttempt(attempt).
			WithMetadata("operation", name))

		result, err := op(ctx, handle, attempt, e.maxRetries)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil || !IsConnectionError(err) || attempt >= e.maxRetries {
			break
		}

		e.logger.Warnf("%s attempt %d/%d lost the connection, reconnecting: %v", name, attempt, e.maxRetries, err)
		if rerr := e.manager.ForceReconnect(ctx); rerr != nil {
			if errors.Is(rerr, ErrStopping) {
				break
			}
			e.logger.Warnf("forced reconnect failed: %v", rerr)
		}
		if werr := e.manager.wait(ctx, e.stabilizeDelay); werr != nil {
			break
		}
	}

	return zero, fmt.Errorf("%s: %w", name, lastErr)
}

// EnsureReady verifies that a handle is available.
func (e *Executor) EnsureReady(ctx context.Context) error {
	_, err := e.manager.EnsureReady(ctx)
	return err
}

// RunInstruction executes a natural-language instruction.
func (e *Executor) RunInstruction(ctx context.Context, instruction string) (any, error) {
	return Run(ctx, e, "instruction", func(ctx context.Context, h automation.Handle, _, _ int) (any, error) {
		return h.RunInstruction(ctx, instruction)
	})
}

// RunScript executes a structured script.
func (e *Executor) RunScript(ctx context.Context, script *automation.Script) (*automation.ScriptResult, error) {
	return Run(ctx, e, "script", func(ctx context.Context, h automation.Handle, _, _ int) (*automation.ScriptResult, error) {
		return h.RunScript(ctx, script)
	})
}

// Assert verifies a natural-language assertion.
func (e *Executor) Assert(ctx context.Context, assertion string) error {
	_, err := Run(ctx, e, "assert", func(ctx context.Context, h automation.Handle, _, _ int) (struct{}, error) {
		return struct{}{}, h.Assert(ctx, assertion)
	})
	return err
}

// EvaluateScript runs JavaScript in the active tab.
func (e *Executor) EvaluateScript(ctx context.Context, script string) (any, error) {
	return Run(ctx, e, "evaluate", func(ctx context.Context, h automation.Handle, _, _ int) (any, error) {
		return h.EvaluateScript(ctx, script)
	})
}

// ListTabs lists the tabs of the attached browser.
func (e *Executor) ListTabs(ctx context.Context) ([]automation.Tab, error) {
	return Run(ctx, e, "list tabs", func(ctx context.Context, h automation.Handle, _, _ int) ([]automation.Tab, error) {
		return h.ListTabs(ctx)
	})
}

// SetActiveTab switches the active tab.
func (e *Executor) SetActiveTab(ctx context.Context, id string) error {
	_, err := Run(ctx, e, "activate tab", func(ctx context.Context, h automation.Handle, _, _ int) (struct{}, error) {
		return struct{}{}, h.SetActiveTab(ctx, id)
	})
	return err
}

// Outcome is the result of an operation that may have been completed by its fallback.
type Outcome struct {
	Result      any    `json:"result,omitempty"`
	Fallback    bool   `json:"fallback,omitempty"`
	ScriptError string `json:"scriptError,omitempty"`
}

// RunScriptWithFallback runs script and, when it finally fails and
// originalCmd is not empty, makes exactly one attempt of originalCmd as an
// instruction. If both fail the error is a *FallbackError.
func (e *Executor) RunScriptWithFallback(ctx context.Context, script *automation.Script, originalCmd string) (*Outcome, error) {
	result, err := e.RunScript(ctx, script)
	if err == nil {
		return &Outcome{Result: result}, nil
	}
	return e.fallback(ctx, "script", err, originalCmd)
}

// EvaluateWithFallback is RunScriptWithFallback for raw JavaScript.
func (e *Executor) EvaluateWithFallback(ctx context.Context, script, originalCmd string) (*Outcome, error) {
	result, err := e.EvaluateScript(ctx, script)
	if err == nil {
		return &Outcome{Result: result}, nil
	}
	return e.fallback(ctx, "evaluate", err, originalCmd)
}

func (e *Executor) fallback(ctx context.Context, op string, primaryErr error, originalCmd string) (*Outcome, error) {
	if originalCmd == "" || ctx.Err() != nil {
		return nil, primaryErr
	}

	e.logger.Warnf("%s failed, falling back to instruction %q: %v", op, originalCmd, primaryErr)
	result, err := e.WithMaxRetries(1).RunInstruction(ctx, originalCmd)
	if err != nil {
		return nil, &FallbackError{Op: op, ScriptErr: primaryErr, FallbackErr: err}
	}
	return &Outcome{Result: result, Fallback: true, ScriptError: primaryErr.Error()}, nil
}
