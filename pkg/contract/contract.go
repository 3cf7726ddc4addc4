// Package contract defines the handler contract shared by the registry,
// executor, and plugin layers: the request/result shapes a handler sees and
// the error taxonomy the engine dispatches on.
package contract

import (
	"context"
	"time"
)

// Status values carried on execution results.
const (
	StatusSuccess         = "success"
	StatusFailed          = "failed"
	StatusTimeout         = "timeout"
	StatusValidationError = "validation_error"
)

// Request carries one action invocation to a handler. Selector and Value are
// the two conventional positional fields of a step; anything else travels in
// Params. All fields are already variable-resolved by the time a handler
// sees them.
type Request struct {
	Action   string
	Selector string
	Value    any
	Params   map[string]any
}

// Param returns a named parameter, or def when absent.
func (r *Request) Param(name string, def any) any {
	if r.Params == nil {
		return def
	}
	if v, ok := r.Params[name]; ok {
		return v
	}
	return def
}

// Result holds the outcome of one execution, including retry accounting.
type Result struct {
	Action    string
	Status    string
	Output    any
	Error     string
	Attempts  int
	Duration  time.Duration
	StartedAt time.Time
}

// OK reports whether the execution finished with StatusSuccess.
func (r *Result) OK() bool {
	return r != nil && r.Status == StatusSuccess
}

// Handler is the contract every action implementation satisfies. Validate is
// called exactly once per execution, before any attempt; Execute may be
// called several times under the retry policy.
type Handler interface {
	// Name returns the canonical action name.
	Name() string
	// Validate checks the request shape. A non-nil error aborts the
	// execution without any attempt.
	Validate(req *Request) error
	// Execute performs the action. The context carries the per-attempt
	// timeout deadline.
	Execute(ctx context.Context, req *Request) (*Result, error)
}

// Optional handler hooks. A handler implementing any of these gets called
// at the matching point of the execution lifecycle; hook errors and panics
// are logged by the executor, never propagated.
type (
	// BeforeHook runs after validation, before the first attempt.
	BeforeHook interface {
		BeforeExecute(ctx context.Context, req *Request) error
	}
	// AfterHook runs once after a successful execution.
	AfterHook interface {
		AfterExecute(ctx context.Context, req *Request, res *Result) error
	}
	// ErrorHook runs once after the final failed attempt.
	ErrorHook interface {
		OnError(ctx context.Context, req *Request, err error) error
	}
)

// Factory produces a fresh handler instance per registration lookup.
type Factory func() Handler

// HandlerFunc adapts a bare function to the Handler contract with no
// validation beyond a non-empty action name.
type HandlerFunc struct {
	Action string
	Fn     func(ctx context.Context, req *Request) (*Result, error)
}

func (h *HandlerFunc) Name() string { return h.Action }

func (h *HandlerFunc) Validate(req *Request) error {
	if req.Action == "" {
		return &ValidationError{Action: h.Action, Message: "action name is empty"}
	}
	return nil
}

func (h *HandlerFunc) Execute(ctx context.Context, req *Request) (*Result, error) {
	return h.Fn(ctx, req)
}
