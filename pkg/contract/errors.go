package contract

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError reports a malformed request. It is never retried.
type ValidationError struct {
	Action  string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %q: field %q: %s", e.Action, e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed for %q: %s", e.Action, e.Message)
}

// TimeoutError reports that an attempt exceeded its time limit.
type TimeoutError struct {
	Action  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("action %q timed out after %s", e.Action, e.Timeout)
}

// ExecutionError wraps a failure raised inside a handler. The original cause
// stays reachable through Unwrap.
type ExecutionError struct {
	Action  string
	Message string
	Cause   error
}

func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("action %q failed: %s: %v", e.Action, e.Message, e.Cause)
	}
	return fmt.Sprintf("action %q failed: %s", e.Action, e.Message)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// UnknownActionError reports a dispatch against an action nothing registered.
type UnknownActionError struct {
	Action string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action %q", e.Action)
}

// DisabledHandlerError reports a dispatch against an administratively
// disabled handler.
type DisabledHandlerError struct {
	Action string
}

func (e *DisabledHandlerError) Error() string {
	return fmt.Sprintf("action %q is disabled", e.Action)
}

// HardFailure aborts the enclosing step run. Cause stays reachable through
// Unwrap.
type HardFailure struct {
	Step    string
	Message string
	Cause   error
}

func (e *HardFailure) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("hard failure at %q: %s: %v", e.Step, e.Message, e.Cause)
	}
	return fmt.Sprintf("hard failure at %q: %s", e.Step, e.Message)
}

func (e *HardFailure) Unwrap() error { return e.Cause }

// SoftFailure is recorded and the step run continues.
type SoftFailure struct {
	Step    string
	Message string
	Cause   error
}

func (e *SoftFailure) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("soft failure at %q: %s: %v", e.Step, e.Message, e.Cause)
	}
	return fmt.Sprintf("soft failure at %q: %s", e.Step, e.Message)
}

func (e *SoftFailure) Unwrap() error { return e.Cause }

// Retryable reports whether the retry policy may re-attempt after err.
// Only timeouts and execution failures qualify; validation and dispatch
// errors never do, and neither does a handler-declared hard or soft
// failure, even when one wraps a retryable cause.
func Retryable(err error) bool {
	var hf *HardFailure
	var sf *SoftFailure
	if errors.As(err, &hf) || errors.As(err, &sf) {
		return false
	}
	var te *TimeoutError
	var ee *ExecutionError
	return errors.As(err, &te) || errors.As(err, &ee)
}

// ErrorKind returns a short classification label used by deduplication and
// monitoring: "validation", "timeout", "execution", "unknown_action",
// "disabled", "hard_failure", "soft_failure", or "error" for anything else.
// A hard or soft failure dominates whatever cause it wraps.
func ErrorKind(err error) string {
	var ve *ValidationError
	var te *TimeoutError
	var ee *ExecutionError
	var ua *UnknownActionError
	var dh *DisabledHandlerError
	var hf *HardFailure
	var sf *SoftFailure
	switch {
	case errors.As(err, &hf):
		return "hard_failure"
	case errors.As(err, &sf):
		return "soft_failure"
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &te):
		return "timeout"
	case errors.As(err, &ee):
		return "execution"
	case errors.As(err, &ua):
		return "unknown_action"
	case errors.As(err, &dh):
		return "disabled"
	default:
		return "error"
	}
}
