package executor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ormasoftchile/stepflow/pkg/contract"
)

// Lifecycle hook signatures. Hooks run synchronously in registration order;
// a panic or misbehavior inside a hook is logged and never reaches the
// execution path.
type (
	BeforeHook  func(req *contract.Request)
	AfterHook   func(req *contract.Request, res *contract.Result)
	ErrorHook   func(req *contract.Request, err error)
	TimeoutHook func(req *contract.Request, timeout time.Duration)
	RetryHook   func(req *contract.Request, attempt int, err error)
)

type Hooks struct {
	mu        sync.Mutex
	before    []BeforeHook
	after     []AfterHook
	onError   []ErrorHook
	onTimeout []TimeoutHook
	onRetry   []RetryHook
	logger    *slog.Logger
}

func newHooks(logger *slog.Logger) *Hooks {
	return &Hooks{logger: logger}
}

// OnBefore registers a hook fired once per execution, after validation.
func (h *Hooks) OnBefore(fn BeforeHook) {
	h.mu.Lock()
	h.before = append(h.before, fn)
	h.mu.Unlock()
}

// OnAfter registers a hook fired after a successful execution.
func (h *Hooks) OnAfter(fn AfterHook) {
	h.mu.Lock()
	h.after = append(h.after, fn)
	h.mu.Unlock()
}

// OnError registers a hook fired when an execution fails for good.
func (h *Hooks) OnError(fn ErrorHook) {
	h.mu.Lock()
	h.onError = append(h.onError, fn)
	h.mu.Unlock()
}

// OnTimeout registers a hook fired for every timed-out attempt.
func (h *Hooks) OnTimeout(fn TimeoutHook) {
	h.mu.Lock()
	h.onTimeout = append(h.onTimeout, fn)
	h.mu.Unlock()
}

// OnRetry registers a hook fired before each retry delay.
func (h *Hooks) OnRetry(fn RetryHook) {
	h.mu.Lock()
	h.onRetry = append(h.onRetry, fn)
	h.mu.Unlock()
}

func (h *Hooks) fireBefore(req *contract.Request) {
	for _, fn := range h.snapshotBefore() {
		h.safely("before", func() { fn(req) })
	}
}

func (h *Hooks) fireAfter(req *contract.Request, res *contract.Result) {
	h.mu.Lock()
	hooks := append([]AfterHook(nil), h.after...)
	h.mu.Unlock()
	for _, fn := range hooks {
		h.safely("after", func() { fn(req, res) })
	}
}

func (h *Hooks) fireError(req *contract.Request, err error) {
	h.mu.Lock()
	hooks := append([]ErrorHook(nil), h.onError...)
	h.mu.Unlock()
	for _, fn := range hooks {
		h.safely("error", func() { fn(req, err) })
	}
}

func (h *Hooks) fireTimeout(req *contract.Request, timeout time.Duration) {
	h.mu.Lock()
	hooks := append([]TimeoutHook(nil), h.onTimeout...)
	h.mu.Unlock()
	for _, fn := range hooks {
		h.safely("timeout", func() { fn(req, timeout) })
	}
}

func (h *Hooks) fireRetry(req *contract.Request, attempt int, err error) {
	h.mu.Lock()
	hooks := append([]RetryHook(nil), h.onRetry...)
	h.mu.Unlock()
	for _, fn := range hooks {
		h.safely("retry", func() { fn(req, attempt, err) })
	}
}

func (h *Hooks) snapshotBefore() []BeforeHook {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]BeforeHook(nil), h.before...)
}

// safely isolates one hook invocation; a panic is logged and swallowed.
func (h *Hooks) safely(phase string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("hook panicked", "phase", phase, "panic", r)
		}
	}()
	fn()
}
