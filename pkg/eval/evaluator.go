// Package eval evaluates arithmetic and comparison expressions against a
// closed function environment. Expressions are compiled with expr-lang, so
// nothing outside the allow-listed functions and the caller's variables is
// reachable.
package eval

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
)

// Evaluator compiles and runs expressions. Safe for concurrent use; the
// function environment is fixed at construction.
type Evaluator struct {
	funcs  map[string]any
	logger *slog.Logger
}

// New creates an evaluator with the standard math/conversion allow-list.
func New(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = discardLogger()
	}
	return &Evaluator{funcs: baseFuncs(), logger: logger}
}

// Evaluate runs an expression and returns its native value. Unknown
// variables, type mismatches, and runtime failures return an error.
func (e *Evaluator) Evaluate(src string, vars map[string]any) (any, error) {
	env := e.buildEnv(vars)
	prepared := quoteBareOperands(src, func(name string) bool {
		_, ok := env[name]
		return ok
	})

	program, err := expr.Compile(prepared, expr.Env(env))
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", src, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate expression %q: %w", src, err)
	}
	return out, nil
}

// EvaluateCondition runs an expression as a boolean predicate. Any error,
// including compile failures and unknown variables, yields false; the
// failure is logged rather than propagated.
func (e *Evaluator) EvaluateCondition(src string, vars map[string]any) bool {
	out, err := e.Evaluate(src, vars)
	if err != nil {
		e.logger.Warn("condition evaluation failed, treating as false", "expression", src, "error", err)
		return false
	}
	return Truthy(out)
}

// Truthy applies the engine's truthiness rules: nil, false, numeric zero,
// the empty string, and the strings "false"/"0" are false.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case string:
		s := strings.TrimSpace(strings.ToLower(t))
		return s != "" && s != "false" && s != "0"
	default:
		return true
	}
}

func (e *Evaluator) buildEnv(vars map[string]any) map[string]any {
	env := make(map[string]any, len(e.funcs)+len(vars))
	for k, v := range e.funcs {
		env[k] = v
	}
	// Caller variables shadow functions and constants.
	for k, v := range vars {
		env[k] = v
	}
	return env
}

func baseFuncs() map[string]any {
	return map[string]any{
		"abs":   func(x any) float64 { return math.Abs(toFloat(x)) },
		"sqrt":  func(x any) float64 { return math.Sqrt(toFloat(x)) },
		"pow":   func(x, y any) float64 { return math.Pow(toFloat(x), toFloat(y)) },
		"sin":   func(x any) float64 { return math.Sin(toFloat(x)) },
		"cos":   func(x any) float64 { return math.Cos(toFloat(x)) },
		"tan":   func(x any) float64 { return math.Tan(toFloat(x)) },
		"floor": func(x any) float64 { return math.Floor(toFloat(x)) },
		"ceil":  func(x any) float64 { return math.Ceil(toFloat(x)) },
		"log":   func(x any) float64 { return math.Log(toFloat(x)) },
		"log10": func(x any) float64 { return math.Log10(toFloat(x)) },
		"exp":   func(x any) float64 { return math.Exp(toFloat(x)) },
		"round": func(x any) float64 { return math.Round(toFloat(x)) },
		"sum": func(xs ...any) float64 {
			var total float64
			for _, x := range xs {
				if list, ok := x.([]any); ok {
					for _, item := range list {
						total += toFloat(item)
					}
					continue
				}
				total += toFloat(x)
			}
			return total
		},
		"str":  func(x any) string { return fmt.Sprintf("%v", x) },
		"bool": func(x any) bool { return Truthy(x) },
		"pi":   math.Pi,
		"e":    math.E,
	}
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
