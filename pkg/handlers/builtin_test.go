package handlers

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"testing"
	"time"

	"github.com/ormasoftchile/stepflow/pkg/contract"
	"github.com/ormasoftchile/stepflow/pkg/registry"
)

func TestBuiltinManifestRegistersAll(t *testing.T) {
	reg := registry.New(nil, nil)
	applied := reg.AutoDiscover(Builtin(nil))
	if len(applied) != 1 {
		t.Fatalf("applied = %v, want one manifest", applied)
	}
	for _, name := range []string{"shell", "cmd", "wait", "sleep", "log", "echo"} {
		if !reg.Registered(name) {
			t.Errorf("%s not registered", name)
		}
	}
}

func TestShellHandlerRunsCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell test")
	}
	h := &ShellHandler{}
	req := &contract.Request{
		Action:   "shell",
		Selector: "echo",
		Params:   map[string]any{"args": []any{"hello"}},
	}
	if err := h.Validate(req); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	res, err := h.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	out := res.Output.(map[string]any)
	if out["stdout"] != "hello\n" {
		t.Fatalf("stdout = %q", out["stdout"])
	}
	if out["exit_code"] != 0 {
		t.Fatalf("exit_code = %v", out["exit_code"])
	}
}

func TestShellHandlerNonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell test")
	}
	h := &ShellHandler{}
	req := &contract.Request{Action: "shell", Selector: "false"}
	if _, err := h.Execute(context.Background(), req); err == nil {
		t.Fatal("expected error for non-zero exit")
	}
}

func TestShellHandlerValidation(t *testing.T) {
	h := &ShellHandler{}
	if err := h.Validate(&contract.Request{Action: "shell"}); err == nil {
		t.Fatal("expected error for missing command")
	}
	err := h.Validate(&contract.Request{
		Action:   "shell",
		Selector: "ls",
		Params:   map[string]any{"args": "not-a-list"},
	})
	if err == nil {
		t.Fatal("expected error for scalar args")
	}
}

func TestWaitHandler(t *testing.T) {
	h := &WaitHandler{}
	req := &contract.Request{Action: "wait", Value: "10ms"}
	if err := h.Validate(req); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	start := time.Now()
	if _, err := h.Execute(context.Background(), req); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatal("returned before the wait elapsed")
	}
}

func TestWaitHandlerCanceled(t *testing.T) {
	h := &WaitHandler{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.Execute(ctx, &contract.Request{Action: "wait", Value: "10s"}); err == nil {
		t.Fatal("expected error for canceled context")
	}
}

func TestWaitHandlerRejectsBadDuration(t *testing.T) {
	h := &WaitHandler{}
	if err := h.Validate(&contract.Request{Action: "wait", Value: "soon"}); err == nil {
		t.Fatal("expected error for unparsable duration")
	}
}

func TestLogHandler(t *testing.T) {
	h := &LogHandler{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	req := &contract.Request{Action: "log", Value: "deployment finished"}
	if err := h.Validate(req); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	res, err := h.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != "deployment finished" {
		t.Fatalf("output = %v", res.Output)
	}
	if err := h.Validate(&contract.Request{Action: "log"}); err == nil {
		t.Fatal("expected error for empty message")
	}
}
