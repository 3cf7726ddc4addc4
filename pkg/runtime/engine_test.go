package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ormasoftchile/stepflow/pkg/contract"
	"github.com/ormasoftchile/stepflow/pkg/schema"
	"github.com/ormasoftchile/stepflow/pkg/vars"
)

// recorder captures every request an action handler receives.
type recorder struct {
	mu   sync.Mutex
	seen []*contract.Request
}

func (r *recorder) handler(action string) contract.Factory {
	return func() contract.Handler {
		return &contract.HandlerFunc{
			Action: action,
			Fn: func(_ context.Context, req *contract.Request) (*contract.Result, error) {
				r.mu.Lock()
				r.seen = append(r.seen, req)
				r.mu.Unlock()
				return &contract.Result{Action: action, Status: contract.StatusSuccess}, nil
			},
		}
	}
}

func (r *recorder) requests() []*contract.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*contract.Request(nil), r.seen...)
}

func newTestEngine(t *testing.T, moduleDir string) (*Engine, *recorder) {
	t.Helper()
	e, err := NewEngine(Options{ModuleDir: moduleDir})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	rec := &recorder{}
	if err := e.Registry.Register("noop", rec.handler("noop")); err != nil {
		t.Fatalf("register: %v", err)
	}
	return e, rec
}

func action(name, selector string) schema.Step {
	return schema.Step{Action: name, Selector: selector}
}

func TestRunExecutesActionsInOrder(t *testing.T) {
	e, rec := newTestEngine(t, "")

	flow := &schema.Flow{
		Name:  "ordered",
		Steps: []schema.Step{action("noop", "a"), action("noop", "b"), action("noop", "c")},
	}
	res, err := e.Run(context.Background(), flow)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != contract.StatusSuccess {
		t.Fatalf("status = %q, want success", res.Status)
	}
	if res.Executed != 3 {
		t.Fatalf("executed = %d, want 3", res.Executed)
	}
	if res.RunID == "" {
		t.Fatal("run id is empty")
	}
	got := rec.requests()
	want := []string{"a", "b", "c"}
	for i, sel := range want {
		if got[i].Selector != sel {
			t.Fatalf("request %d selector = %q, want %q", i, got[i].Selector, sel)
		}
	}
}

func TestRunBindsFlowVarsIntoTestScope(t *testing.T) {
	e, rec := newTestEngine(t, "")

	flow := &schema.Flow{
		Name: "vars",
		Vars: map[string]any{"target": "login-button", "count": 3},
		Steps: []schema.Step{
			{Action: "noop", Selector: "${target}", Value: "${count}"},
		},
	}
	if _, err := e.Run(context.Background(), flow); err != nil {
		t.Fatalf("Run: %v", err)
	}
	req := rec.requests()[0]
	if req.Selector != "login-button" {
		t.Fatalf("selector = %q, want login-button", req.Selector)
	}
	if req.Value != 3 {
		t.Fatalf("value = %v (%T), want 3", req.Value, req.Value)
	}
}

func TestRunConditionalBranches(t *testing.T) {
	e, rec := newTestEngine(t, "")
	e.Vars.Set("mode", "fast", vars.ScopeSession)

	flow := &schema.Flow{
		Name: "branch",
		Steps: []schema.Step{
			{
				If:   "mode == fast",
				Then: []schema.Step{action("noop", "then-branch")},
				Else: []schema.Step{action("noop", "else-branch")},
			},
			{
				If:   "missing_var > 10",
				Then: []schema.Step{action("noop", "never")},
				Else: []schema.Step{action("noop", "fallback")},
			},
		},
	}
	if _, err := e.Run(context.Background(), flow); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := rec.requests()
	if len(got) != 2 {
		t.Fatalf("got %d requests, want 2", len(got))
	}
	if got[0].Selector != "then-branch" {
		t.Fatalf("first selector = %q, want then-branch", got[0].Selector)
	}
	if got[1].Selector != "fallback" {
		t.Fatalf("second selector = %q, want fallback", got[1].Selector)
	}
}

func TestRunLoopOverList(t *testing.T) {
	e, rec := newTestEngine(t, "")
	e.Vars.Set("hosts", []any{"alpha", "beta"}, vars.ScopeSession)

	flow := &schema.Flow{
		Name: "loop",
		Steps: []schema.Step{
			{
				ForEach: "${hosts}",
				As:      "host",
				Do:      []schema.Step{{Action: "noop", Selector: "${host}"}},
			},
		},
	}
	if _, err := e.Run(context.Background(), flow); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := rec.requests()
	if len(got) != 2 || got[0].Selector != "alpha" || got[1].Selector != "beta" {
		t.Fatalf("unexpected selectors: %+v", got)
	}
	if _, ok := e.Vars.GetScoped("host", vars.ScopeStep); ok {
		t.Fatal("iteration variable leaked past the loop")
	}
}

func TestRunLoopScalarAndMap(t *testing.T) {
	e, rec := newTestEngine(t, "")
	e.Vars.Set("single", "only", vars.ScopeSession)
	e.Vars.Set("table", map[string]any{"b": 2, "a": 1}, vars.ScopeSession)

	flow := &schema.Flow{
		Name: "coerce",
		Steps: []schema.Step{
			{ForEach: "${single}", As: "it", Do: []schema.Step{{Action: "noop", Selector: "${it}"}}},
			{ForEach: "${table}", As: "it", Do: []schema.Step{{Action: "noop", Selector: "${it}"}}},
		},
	}
	if _, err := e.Run(context.Background(), flow); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := rec.requests()
	want := []string{"only", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("got %d requests, want %d", len(got), len(want))
	}
	for i, sel := range want {
		if got[i].Selector != sel {
			t.Fatalf("request %d selector = %q, want %q", i, got[i].Selector, sel)
		}
	}
}

func TestRunIncludeBindsParams(t *testing.T) {
	dir := t.TempDir()
	module := `name: greet
steps:
  - action: noop
    selector: "${who}"
`
	if err := os.WriteFile(filepath.Join(dir, "greet.yaml"), []byte(module), 0o644); err != nil {
		t.Fatal(err)
	}

	e, rec := newTestEngine(t, dir)
	flow := &schema.Flow{
		Name: "include",
		Steps: []schema.Step{
			{UseModule: "greet", Params: map[string]any{"who": "world"}},
			{UseModule: "greet", Params: map[string]any{"who": "again"}},
		},
	}
	if _, err := e.Run(context.Background(), flow); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := rec.requests()
	if len(got) != 2 || got[0].Selector != "world" || got[1].Selector != "again" {
		t.Fatalf("unexpected selectors: %+v", got)
	}
	if _, ok := e.Vars.GetScoped("who", vars.ScopeStep); ok {
		t.Fatal("include param leaked past the include")
	}
}

func TestRunIncludeMissingModule(t *testing.T) {
	e, _ := newTestEngine(t, t.TempDir())
	flow := &schema.Flow{
		Name:  "missing",
		Steps: []schema.Step{{UseModule: "nope"}},
	}
	res, err := e.Run(context.Background(), flow)
	if err == nil {
		t.Fatal("expected error for missing module")
	}
	if res.Status != contract.StatusFailed {
		t.Fatalf("status = %q, want failed", res.Status)
	}
}

func TestRunHardFailureAborts(t *testing.T) {
	e, rec := newTestEngine(t, "")
	e.Registry.Register("boom", func() contract.Handler {
		return &contract.HandlerFunc{
			Action: "boom",
			Fn: func(context.Context, *contract.Request) (*contract.Result, error) {
				return nil, &contract.ValidationError{Action: "boom", Message: "bad input"}
			},
		}
	})

	flow := &schema.Flow{
		Name: "abort",
		Steps: []schema.Step{
			action("noop", "before"),
			action("boom", "x"),
			action("noop", "after"),
		},
	}
	res, err := e.Run(context.Background(), flow)
	if err == nil {
		t.Fatal("expected hard failure")
	}
	var hf *contract.HardFailure
	if !errors.As(err, &hf) {
		t.Fatalf("error = %T, want HardFailure", err)
	}
	if res.Status != contract.StatusFailed {
		t.Fatalf("status = %q, want failed", res.Status)
	}
	got := rec.requests()
	if len(got) != 1 || got[0].Selector != "before" {
		t.Fatalf("steps after the failure ran: %+v", got)
	}
}

func TestRunSoftFailureContinues(t *testing.T) {
	e, rec := newTestEngine(t, "")
	e.Registry.Register("flaky", func() contract.Handler {
		return &contract.HandlerFunc{
			Action: "flaky",
			Fn: func(context.Context, *contract.Request) (*contract.Result, error) {
				return nil, &contract.SoftFailure{Step: "flaky", Message: "recoverable"}
			},
		}
	})

	flow := &schema.Flow{
		Name: "soft-handler",
		Steps: []schema.Step{
			action("flaky", "x"),
			action("noop", "after"),
		},
	}
	res, err := e.Run(context.Background(), flow)
	if err != nil {
		t.Fatalf("soft failure must not abort the run: %v", err)
	}
	if res.Status != contract.StatusFailed {
		t.Fatalf("status = %q, want failed", res.Status)
	}
	if len(res.Failures) != 1 {
		t.Fatalf("failures = %+v, want 1", res.Failures)
	}
	got := rec.requests()
	if len(got) != 1 || got[0].Selector != "after" {
		t.Fatalf("sibling step did not run: %+v", got)
	}
}

func TestRunContinueOnFailure(t *testing.T) {
	e, rec := newTestEngine(t, "")
	e.Registry.Register("boom", func() contract.Handler {
		return &contract.HandlerFunc{
			Action: "boom",
			Fn: func(context.Context, *contract.Request) (*contract.Result, error) {
				return nil, fmt.Errorf("transient")
			},
		}
	})

	flow := &schema.Flow{
		Name: "soft",
		Steps: []schema.Step{
			{Action: "boom", Selector: "x", ContinueOnFailure: true},
			action("noop", "after"),
		},
	}
	res, err := e.Run(context.Background(), flow)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != contract.StatusFailed {
		t.Fatalf("status = %q, want failed", res.Status)
	}
	if len(res.Failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(res.Failures))
	}
	got := rec.requests()
	if len(got) != 1 || got[0].Selector != "after" {
		t.Fatalf("subsequent step did not run: %+v", got)
	}
}

func TestRunFile(t *testing.T) {
	dir := t.TempDir()
	flow := `name: from-file
vars:
  greeting: hello
steps:
  - action: noop
    selector: "${greeting}"
`
	path := filepath.Join(dir, "flow.yaml")
	if err := os.WriteFile(path, []byte(flow), 0o644); err != nil {
		t.Fatal(err)
	}

	e, rec := newTestEngine(t, "")
	res, err := e.RunFile(context.Background(), path)
	if err != nil {
		t.Fatalf("RunFile: %v", err)
	}
	if res.Flow != "from-file" {
		t.Fatalf("flow name = %q", res.Flow)
	}
	got := rec.requests()
	if len(got) != 1 || got[0].Selector != "hello" {
		t.Fatalf("unexpected requests: %+v", got)
	}
}

func TestRunCanceledContext(t *testing.T) {
	e, rec := newTestEngine(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	flow := &schema.Flow{Name: "canceled", Steps: []schema.Step{action("noop", "a")}}
	if _, err := e.Run(ctx, flow); err == nil {
		t.Fatal("expected error for canceled context")
	}
	if len(rec.requests()) != 0 {
		t.Fatal("steps ran after cancellation")
	}
}
