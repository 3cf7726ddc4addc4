// Package executor dispatches action requests through the registry and
// applies the cross-cutting execution policy: validation, lifecycle hooks,
// per-attempt timeouts, retries, monitoring, and deduplicated error logging.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ormasoftchile/stepflow/pkg/config"
	"github.com/ormasoftchile/stepflow/pkg/contract"
	"github.com/ormasoftchile/stepflow/pkg/dedup"
	"github.com/ormasoftchile/stepflow/pkg/monitor"
	"github.com/ormasoftchile/stepflow/pkg/registry"
)

// Executor runs actions under the configured execution policy. Safe for
// concurrent use.
type Executor struct {
	registry *registry.Registry
	config   *config.Store
	monitor  *monitor.Monitor
	dedup    *dedup.Manager
	hooks    *Hooks
	logger   *slog.Logger

	// sleep is swapped out by tests to avoid real retry delays.
	sleep func(ctx context.Context, d time.Duration)
}

// New wires an executor. The config store is required; it is the single
// source of timeout and retry policy. Monitor and dedup may be nil; a nil
// logger discards.
func New(reg *registry.Registry, cfg *config.Store, mon *monitor.Monitor, ded *dedup.Manager, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Executor{
		registry: reg,
		config:   cfg,
		monitor:  mon,
		dedup:    ded,
		hooks:    newHooks(logger),
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Hooks exposes the lifecycle hook registration surface.
func (e *Executor) Hooks() *Hooks { return e.hooks }

// Execute runs one action to completion under the retry policy. The
// returned result is non-nil whenever an attempt was made; the error carries
// the typed failure for callers that dispatch on it.
//
// Order per execution: handler lookup, one validation pass, before hooks,
// then up to retry_count+1 attempts each bounded by the per-attempt timeout.
// Only timeouts and execution failures are retried; validation and dispatch
// failures never are.
func (e *Executor) Execute(ctx context.Context, req *contract.Request) (*contract.Result, error) {
	started := time.Now()
	handler, err := e.registry.Lookup(req.Action)
	if err != nil {
		e.logError(err, req.Action)
		e.record(req.Action, time.Since(started), err)
		return failedResult(req.Action, started, 0, err), err
	}

	if err := handler.Validate(req); err != nil {
		var ve *contract.ValidationError
		if !errors.As(err, &ve) {
			err = &contract.ValidationError{Action: req.Action, Message: err.Error()}
		}
		e.logError(err, req.Action)
		e.record(req.Action, time.Since(started), err)
		e.hooks.fireError(req, err)
		res := failedResult(req.Action, started, 0, err)
		res.Status = contract.StatusValidationError
		return res, err
	}

	e.hooks.fireBefore(req)
	if bh, ok := handler.(contract.BeforeHook); ok {
		e.callHandlerHook(req.Action, "before", func() error { return bh.BeforeExecute(ctx, req) })
	}

	timeout := e.config.EffectiveTimeout(req.Action)
	retries, delay := e.config.EffectiveRetry(req.Action)

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= retries; attempt++ {
		attempts++
		res, err := e.runWithTimeout(ctx, handler, req, timeout)
		if err == nil {
			if res == nil {
				res = &contract.Result{Action: req.Action, Status: contract.StatusSuccess}
			}
			res.Action = req.Action
			if res.Status == "" {
				res.Status = contract.StatusSuccess
			}
			res.Attempts = attempts
			res.StartedAt = started
			res.Duration = time.Since(started)
			e.record(req.Action, res.Duration, nil)
			e.hooks.fireAfter(req, res)
			if ah, ok := handler.(contract.AfterHook); ok {
				e.callHandlerHook(req.Action, "after", func() error { return ah.AfterExecute(ctx, req, res) })
			}
			return res, nil
		}

		lastErr = err
		var te *contract.TimeoutError
		if errors.As(err, &te) {
			e.hooks.fireTimeout(req, te.Timeout)
		}
		if !contract.Retryable(err) {
			break
		}
		if attempt < retries {
			e.logger.Debug("retrying action", "action", req.Action, "attempt", attempt+1, "error", err)
			e.hooks.fireRetry(req, attempt+1, err)
			e.sleep(ctx, delay)
			if ctx.Err() != nil {
				lastErr = fmt.Errorf("action %q aborted: %w", req.Action, ctx.Err())
				break
			}
		}
	}

	e.logError(lastErr, req.Action)
	e.record(req.Action, time.Since(started), lastErr)
	e.hooks.fireError(req, lastErr)
	if eh, ok := handler.(contract.ErrorHook); ok {
		e.callHandlerHook(req.Action, "error", func() error { return eh.OnError(ctx, req, lastErr) })
	}
	return failedResult(req.Action, started, attempts, lastErr), lastErr
}

// callHandlerHook invokes one of a handler's optional lifecycle hooks.
// Hook failures are logged and swallowed.
func (e *Executor) callHandlerHook(action, phase string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("handler hook panicked", "action", action, "phase", phase, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		e.logger.Warn("handler hook failed", "action", action, "phase", phase, "error", err)
	}
}

// runWithTimeout executes one attempt in its own goroutine. When the
// deadline expires the attempt keeps running but its eventual result is
// discarded; the caller gets a TimeoutError.
func (e *Executor) runWithTimeout(parent context.Context, handler contract.Handler, req *contract.Request, timeout time.Duration) (*contract.Result, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	type outcome struct {
		res *contract.Result
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: &contract.ExecutionError{Action: req.Action, Message: fmt.Sprintf("handler panicked: %v", r)}}
			}
		}()
		res, err := handler.Execute(ctx, req)
		ch <- outcome{res: res, err: err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			// A handler that surfaces the deadline itself is still a timeout.
			if errors.Is(out.err, context.DeadlineExceeded) && parent.Err() == nil {
				return nil, &contract.TimeoutError{Action: req.Action, Timeout: timeout}
			}
			return nil, e.wrapHandlerError(req.Action, out.err)
		}
		return out.res, nil
	case <-ctx.Done():
		if parent.Err() != nil {
			return nil, fmt.Errorf("action %q aborted: %w", req.Action, parent.Err())
		}
		return nil, &contract.TimeoutError{Action: req.Action, Timeout: timeout}
	}
}

// wrapHandlerError passes through already-typed errors, including
// handler-declared hard and soft failures, and wraps anything else as an
// ExecutionError, keeping the cause.
func (e *Executor) wrapHandlerError(action string, err error) error {
	var ve *contract.ValidationError
	var te *contract.TimeoutError
	var ee *contract.ExecutionError
	var hf *contract.HardFailure
	var sf *contract.SoftFailure
	if errors.As(err, &ve) || errors.As(err, &te) || errors.As(err, &ee) ||
		errors.As(err, &hf) || errors.As(err, &sf) {
		return err
	}
	return &contract.ExecutionError{Action: action, Message: "handler failed", Cause: err}
}

func (e *Executor) record(action string, d time.Duration, err error) {
	if e.monitor == nil {
		return
	}
	if !e.config.Globals().Monitoring {
		return
	}
	e.monitor.Record(action, d, err)
}

// logError emits an error log line unless deduplication suppresses it.
func (e *Executor) logError(err error, context string) {
	if err == nil {
		return
	}
	kind := contract.ErrorKind(err)
	if e.dedup != nil && !e.dedup.ShouldLog(kind, err.Error(), context) {
		return
	}
	e.logger.Error("action failed", "kind", kind, "error", err)
}

func failedResult(action string, started time.Time, attempts int, err error) *contract.Result {
	status := contract.StatusFailed
	var te *contract.TimeoutError
	if errors.As(err, &te) {
		status = contract.StatusTimeout
	}
	res := &contract.Result{
		Action:    action,
		Status:    status,
		Attempts:  attempts,
		StartedAt: started,
		Duration:  time.Since(started),
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
