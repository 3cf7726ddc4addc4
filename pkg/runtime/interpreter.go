package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/ormasoftchile/stepflow/pkg/contract"
	"github.com/ormasoftchile/stepflow/pkg/eval"
	"github.com/ormasoftchile/stepflow/pkg/schema"
	"github.com/ormasoftchile/stepflow/pkg/vars"
)

// Failure records one soft step failure.
type Failure struct {
	Step  string
	Error string
}

// RunResult summarizes one flow run.
type RunResult struct {
	RunID    string
	Flow     string
	Executed int
	Failures []Failure
	Status   string
}

// Run interprets a flow. Flow vars land in the test scope before the first
// step. A hard failure aborts every enclosing step list and is returned;
// soft failures are recorded on the result and the run continues.
func (e *Engine) Run(ctx context.Context, flow *schema.Flow) (*RunResult, error) {
	if errs := schema.ValidateFlow(flow); len(errs) > 0 {
		return nil, fmt.Errorf("flow invalid: %s", errs[0].Error())
	}

	res := &RunResult{
		RunID:  uuid.NewString(),
		Flow:   flow.Name,
		Status: contract.StatusSuccess,
	}
	if err := e.Vars.Import(flow.Vars, vars.ScopeTest); err != nil {
		return nil, err
	}

	e.logger.Info("run started", "run_id", res.RunID, "flow", flow.Name, "steps", len(flow.Steps))
	err := e.runSteps(ctx, flow.Steps, res)
	if err != nil {
		res.Status = contract.StatusFailed
		e.logger.Error("run aborted", "run_id", res.RunID, "error", err)
		return res, err
	}
	if len(res.Failures) > 0 {
		res.Status = contract.StatusFailed
	}
	e.logger.Info("run finished", "run_id", res.RunID, "status", res.Status, "executed", res.Executed)
	return res, nil
}

// RunFile loads and runs a flow file.
func (e *Engine) RunFile(ctx context.Context, path string) (*RunResult, error) {
	flow, err := schema.LoadFlow(path)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, flow)
}

// runSteps walks a step list in order. A hard failure propagates
// immediately, unwinding every enclosing list.
func (e *Engine) runSteps(ctx context.Context, steps []schema.Step, res *RunResult) error {
	for i := range steps {
		if err := ctx.Err(); err != nil {
			return &contract.HardFailure{Step: steps[i].Label(), Message: "run canceled", Cause: err}
		}
		if err := e.runStep(ctx, &steps[i], res); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) runStep(ctx context.Context, s *schema.Step, res *RunResult) error {
	switch s.Kind() {
	case schema.KindAction:
		return e.runAction(ctx, s, res)
	case schema.KindConditional:
		return e.runConditional(ctx, s, res)
	case schema.KindLoop:
		return e.runLoop(ctx, s, res)
	case schema.KindInclude:
		return e.runInclude(ctx, s, res)
	default:
		return &contract.HardFailure{Step: s.Label(), Message: "step has no recognizable shape"}
	}
}

// runAction resolves the step's fields and dispatches through the executor.
func (e *Engine) runAction(ctx context.Context, s *schema.Step, res *RunResult) error {
	selector, err := e.resolveToString(s.Selector)
	if err != nil {
		return e.failStep(s, res, err)
	}
	value, err := e.subst.Resolve(s.Value)
	if err != nil {
		return e.failStep(s, res, err)
	}
	params, err := e.subst.ResolveMap(s.Params)
	if err != nil {
		return e.failStep(s, res, err)
	}

	res.Executed++
	req := &contract.Request{
		Action:   s.Action,
		Selector: selector,
		Value:    value,
		Params:   params,
	}
	if _, err := e.Executor.Execute(ctx, req); err != nil {
		return e.failStep(s, res, err)
	}
	return nil
}

// runConditional evaluates the predicate and walks exactly one branch.
// Evaluation problems make the condition false, never abort the run.
func (e *Engine) runConditional(ctx context.Context, s *schema.Step, res *RunResult) error {
	if e.evalCondition(s.If) {
		return e.runSteps(ctx, s.Then, res)
	}
	return e.runSteps(ctx, s.Else, res)
}

// runLoop iterates the body once per item with the iteration variable bound
// in the step scope. A scalar iterates once; a map iterates its keys in
// sorted order.
func (e *Engine) runLoop(ctx context.Context, s *schema.Step, res *RunResult) error {
	resolved, err := e.subst.Resolve(s.ForEach)
	if err != nil {
		return e.failStep(s, res, err)
	}

	items := coerceIterable(resolved)
	prior, hadPrior := e.Vars.GetScoped(s.As, vars.ScopeStep)
	defer func() {
		if hadPrior {
			e.Vars.Set(s.As, prior, vars.ScopeStep)
		} else {
			e.Vars.Delete(s.As, vars.ScopeStep)
		}
	}()

	for _, item := range items {
		if err := e.Vars.Set(s.As, item, vars.ScopeStep); err != nil {
			return e.failStep(s, res, err)
		}
		if err := e.runSteps(ctx, s.Do, res); err != nil {
			return err
		}
	}
	return nil
}

// runInclude resolves the module once, binds params into the step scope,
// and runs the module's steps inline.
func (e *Engine) runInclude(ctx context.Context, s *schema.Step, res *RunResult) error {
	module, err := e.resolveModule(s.UseModule)
	if err != nil {
		return e.failStep(s, res, err)
	}

	params, err := e.subst.ResolveMap(s.Params)
	if err != nil {
		return e.failStep(s, res, err)
	}

	saved := make(map[string]any)
	present := make(map[string]bool)
	for name := range params {
		if v, ok := e.Vars.GetScoped(name, vars.ScopeStep); ok {
			saved[name] = v
			present[name] = true
		}
	}
	defer func() {
		for name := range params {
			if present[name] {
				e.Vars.Set(name, saved[name], vars.ScopeStep)
			} else {
				e.Vars.Delete(name, vars.ScopeStep)
			}
		}
	}()
	for name, v := range params {
		if err := e.Vars.Set(name, v, vars.ScopeStep); err != nil {
			return e.failStep(s, res, err)
		}
	}

	return e.runSteps(ctx, module.Steps, res)
}

// failStep classifies a step failure: a handler-declared soft failure, or
// any failure on a continue_on_failure step, is recorded and the run
// continues; anything else becomes a hard failure that unwinds the whole
// run.
func (e *Engine) failStep(s *schema.Step, res *RunResult, err error) error {
	var sf *contract.SoftFailure
	if s.ContinueOnFailure || errors.As(err, &sf) {
		e.logger.Warn("step failed, continuing", "step", s.Label(), "error", err)
		res.Failures = append(res.Failures, Failure{Step: s.Label(), Error: err.Error()})
		return nil
	}
	var hf *contract.HardFailure
	if errors.As(err, &hf) {
		return err
	}
	return &contract.HardFailure{Step: s.Label(), Message: "step failed", Cause: err}
}

// evalCondition resolves placeholders in the predicate, then evaluates it.
// Any resolution or evaluation problem yields false.
func (e *Engine) evalCondition(cond string) bool {
	resolved, err := e.subst.Resolve(cond)
	if err != nil {
		e.logger.Warn("condition resolution failed, treating as false", "condition", cond, "error", err)
		return false
	}
	if str, ok := resolved.(string); ok {
		return e.Eval.EvaluateCondition(str, e.Vars.Flatten())
	}
	return eval.Truthy(resolved)
}

func (e *Engine) resolveToString(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	resolved, err := e.subst.Resolve(raw)
	if err != nil {
		return "", err
	}
	if str, ok := resolved.(string); ok {
		return str, nil
	}
	return fmt.Sprintf("%v", resolved), nil
}

// coerceIterable turns a resolved for_each value into the item list: lists
// stay as-is, maps yield their keys sorted, nil is empty, and any scalar
// iterates exactly once.
func coerceIterable(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items := make([]any, len(keys))
		for i, k := range keys {
			items[i] = k
		}
		return items
	default:
		return []any{t}
	}
}
