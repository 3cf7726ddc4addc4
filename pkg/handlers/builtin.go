// Package handlers ships the built-in action handlers: shell command
// execution, waiting, and logging. They register through the standard
// manifest mechanism so embedders can pick and choose.
package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"github.com/ormasoftchile/stepflow/pkg/contract"
	"github.com/ormasoftchile/stepflow/pkg/registry"
)

// Builtin returns the manifest that registers every built-in handler.
func Builtin(logger *slog.Logger) registry.Manifest {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return registry.Manifest{
		Name: "builtin",
		Register: func(r *registry.Registry) error {
			if err := r.Register("shell", func() contract.Handler { return &ShellHandler{} }, "cmd"); err != nil {
				return err
			}
			if err := r.Register("wait", func() contract.Handler { return &WaitHandler{} }, "sleep"); err != nil {
				return err
			}
			return r.Register("log", func() contract.Handler { return &LogHandler{Logger: logger} }, "echo")
		},
	}
}

// ShellHandler runs an external command. The selector is the program, the
// "args" param is the argument list, and the "env" param adds KEY=VALUE
// entries on top of the inherited environment.
type ShellHandler struct{}

func (h *ShellHandler) Name() string { return "shell" }

func (h *ShellHandler) Validate(req *contract.Request) error {
	if req.Selector == "" {
		return &contract.ValidationError{Action: req.Action, Field: "selector", Message: "command is required"}
	}
	if raw, ok := req.Params["args"]; ok {
		if _, err := stringSlice(raw); err != nil {
			return &contract.ValidationError{Action: req.Action, Field: "args", Message: err.Error()}
		}
	}
	return nil
}

func (h *ShellHandler) Execute(ctx context.Context, req *contract.Request) (*contract.Result, error) {
	args, _ := stringSlice(req.Params["args"])

	cmd := exec.CommandContext(ctx, req.Selector, args...)
	if raw, ok := req.Params["env"]; ok {
		if env, ok := raw.(map[string]any); ok {
			cmd.Env = cmd.Environ()
			for k, v := range env {
				cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%v", k, v))
			}
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			exitCode = ee.ExitCode()
		} else {
			return nil, &contract.ExecutionError{Action: req.Action, Message: "command failed to start", Cause: err}
		}
	}

	output := map[string]any{
		"stdout":      stdout.String(),
		"stderr":      stderr.String(),
		"exit_code":   exitCode,
		"duration_ms": elapsed.Milliseconds(),
	}
	if exitCode != 0 {
		return nil, &contract.ExecutionError{
			Action:  req.Action,
			Message: fmt.Sprintf("%s exited with code %d", req.Selector, exitCode),
		}
	}
	return &contract.Result{Action: req.Action, Status: contract.StatusSuccess, Output: output}, nil
}

// WaitHandler pauses for the duration given in the value (or selector).
type WaitHandler struct{}

func (h *WaitHandler) Name() string { return "wait" }

func (h *WaitHandler) Validate(req *contract.Request) error {
	if _, err := h.duration(req); err != nil {
		return &contract.ValidationError{Action: req.Action, Field: "value", Message: err.Error()}
	}
	return nil
}

func (h *WaitHandler) Execute(ctx context.Context, req *contract.Request) (*contract.Result, error) {
	d, err := h.duration(req)
	if err != nil {
		return nil, err
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &contract.Result{Action: req.Action, Status: contract.StatusSuccess, Output: d.String()}, nil
}

func (h *WaitHandler) duration(req *contract.Request) (time.Duration, error) {
	raw := req.Value
	if raw == nil && req.Selector != "" {
		raw = req.Selector
	}
	switch t := raw.(type) {
	case string:
		return time.ParseDuration(t)
	case int:
		return time.Duration(t) * time.Second, nil
	case float64:
		return time.Duration(t * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("duration required (got %T)", raw)
	}
}

// LogHandler emits the value through the engine logger.
type LogHandler struct {
	Logger *slog.Logger
}

func (h *LogHandler) Name() string { return "log" }

func (h *LogHandler) Validate(req *contract.Request) error {
	if req.Value == nil && req.Selector == "" {
		return &contract.ValidationError{Action: req.Action, Field: "value", Message: "message is required"}
	}
	return nil
}

func (h *LogHandler) Execute(_ context.Context, req *contract.Request) (*contract.Result, error) {
	msg := req.Selector
	if req.Value != nil {
		msg = fmt.Sprintf("%v", req.Value)
	}
	level := slog.LevelInfo
	if raw, ok := req.Params["level"]; ok {
		switch fmt.Sprintf("%v", raw) {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	h.Logger.Log(context.Background(), level, msg)
	return &contract.Result{Action: req.Action, Status: contract.StatusSuccess, Output: msg}, nil
}

func stringSlice(raw any) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	switch t := raw.(type) {
	case []string:
		return t, nil
	case []any:
		out := make([]string, len(t))
		for i, v := range t {
			out[i] = fmt.Sprintf("%v", v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list (got %T)", raw)
	}
}
