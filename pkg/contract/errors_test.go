package contract

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout", &TimeoutError{Action: "click", Timeout: time.Second}, true},
		{"execution", &ExecutionError{Action: "click", Message: "boom"}, true},
		{"wrapped execution", fmt.Errorf("step 3: %w", &ExecutionError{Action: "click", Message: "boom"}), true},
		{"validation", &ValidationError{Action: "click", Message: "bad"}, false},
		{"unknown action", &UnknownActionError{Action: "nope"}, false},
		{"disabled", &DisabledHandlerError{Action: "click"}, false},
		{"plain", errors.New("plain"), false},
		{"hard failure", &HardFailure{Step: "s", Message: "fatal"}, false},
		{"soft failure", &SoftFailure{Step: "s", Message: "skip"}, false},
		{"soft failure wrapping execution", &SoftFailure{Step: "s", Message: "skip", Cause: &ExecutionError{Action: "x", Message: "boom"}}, false},
	}
	for _, tc := range cases {
		if got := Retryable(tc.err); got != tc.want {
			t.Errorf("%s: Retryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestExecutionErrorPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := &ExecutionError{Action: "fetch", Message: "request failed", Cause: cause}
	if !errors.Is(err, cause) {
		t.Fatal("cause not reachable through Unwrap")
	}
}

func TestErrorKind(t *testing.T) {
	if got := ErrorKind(&TimeoutError{Action: "x"}); got != "timeout" {
		t.Errorf("kind = %q, want timeout", got)
	}
	if got := ErrorKind(fmt.Errorf("wrap: %w", &ValidationError{Action: "x", Message: "m"})); got != "validation" {
		t.Errorf("kind = %q, want validation", got)
	}
	if got := ErrorKind(errors.New("other")); got != "error" {
		t.Errorf("kind = %q, want error", got)
	}
	if got := ErrorKind(&SoftFailure{Step: "s", Message: "skip", Cause: &ExecutionError{Action: "x", Message: "boom"}}); got != "soft_failure" {
		t.Errorf("kind = %q, want soft_failure", got)
	}
	if got := ErrorKind(&HardFailure{Step: "s", Message: "fatal"}); got != "hard_failure" {
		t.Errorf("kind = %q, want hard_failure", got)
	}
}

func TestHardAndSoftFailureUnwrap(t *testing.T) {
	cause := &ExecutionError{Action: "type", Message: "lost focus"}
	hard := &HardFailure{Step: "login", Message: "aborting", Cause: cause}
	var ee *ExecutionError
	if !errors.As(hard, &ee) {
		t.Fatal("hard failure should unwrap to its cause")
	}
	soft := &SoftFailure{Step: "banner", Message: "skipped", Cause: cause}
	if !errors.As(soft, &ee) {
		t.Fatal("soft failure should unwrap to its cause")
	}
}
