package eval

import (
	"math"
	"testing"
)

func TestEvaluateArithmetic(t *testing.T) {
	ev := New(nil)
	cases := []struct {
		src  string
		vars map[string]any
		want any
	}{
		{"2 + 3 * 4", nil, 14},
		{"count * 2", map[string]any{"count": 5}, 10},
		{"sqrt(16)", nil, 4.0},
		{"pow(2, 10)", nil, 1024.0},
		{"floor(3.7) + ceil(3.2)", nil, 7.0},
		{"round(2.5)", nil, 3.0},
		{"abs(-4)", nil, 4.0},
		{"sum(1, 2, 3)", nil, 6.0},
		{"sum(items)", map[string]any{"items": []any{1, 2, 3.5}}, 6.5},
		{"len(name)", map[string]any{"name": "hello"}, 5},
		{"str(42)", nil, "42"},
	}
	for _, tc := range cases {
		got, err := ev.Evaluate(tc.src, tc.vars)
		if err != nil {
			t.Errorf("%q: %v", tc.src, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%q = %v (%T), want %v (%T)", tc.src, got, got, tc.want, tc.want)
		}
	}
}

func TestEvaluateConstants(t *testing.T) {
	ev := New(nil)
	got, err := ev.Evaluate("pi", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != math.Pi {
		t.Errorf("pi = %v", got)
	}
}

func TestEvaluateUnknownVariableFails(t *testing.T) {
	ev := New(nil)
	if _, err := ev.Evaluate("missing + 1", nil); err == nil {
		t.Fatal("expected error for unknown variable")
	}
}

func TestEvaluateConditionErrorsAreFalse(t *testing.T) {
	ev := New(nil)
	if ev.EvaluateCondition("sqrt(", nil) {
		t.Error("malformed expression should be false")
	}
	if ev.EvaluateCondition("missing > 3", nil) {
		t.Error("unknown variable should be false")
	}
	if !ev.EvaluateCondition("3 > 2", nil) {
		t.Error("3 > 2 should be true")
	}
}

func TestBareOperandAutoQuoting(t *testing.T) {
	ev := New(nil)
	vars := map[string]any{"status": "ready"}
	if !ev.EvaluateCondition("status == ready", vars) {
		t.Error("bare right operand should compare equal after quoting")
	}
	if ev.EvaluateCondition("status == pending", vars) {
		t.Error("status is not pending")
	}
	// Numeric comparison stays numeric.
	if !ev.EvaluateCondition("count >= 3", map[string]any{"count": 5}) {
		t.Error("count >= 3 should hold")
	}
	// Already-quoted operands are untouched.
	if !ev.EvaluateCondition(`status == "ready"`, vars) {
		t.Error("quoted operand should still work")
	}
}

func TestQuoteBareOperands(t *testing.T) {
	known := func(name string) bool { return name == "status" || name == "count" }
	cases := []struct {
		in, want string
	}{
		{"status == ready", `status == "ready"`},
		{"ready == status", `"ready" == status`},
		{"count > 3", "count > 3"},
		{`status == "ready"`, `status == "ready"`},
		{"status == ready and count > 1", `status == "ready" and count > 1`},
		{"len(status) > 2", "len(status) > 2"},
		{"status != true", "status != true"},
		{"2 + 3", "2 + 3"},
	}
	for _, tc := range cases {
		if got := quoteBareOperands(tc.in, known); got != tc.want {
			t.Errorf("quoteBareOperands(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTruthy(t *testing.T) {
	truthy := []any{true, 1, -1, 2.5, "yes", "TRUE", []any{}}
	for _, v := range truthy {
		if !Truthy(v) {
			t.Errorf("Truthy(%v) = false", v)
		}
	}
	falsy := []any{nil, false, 0, 0.0, "", "false", "0", " False "}
	for _, v := range falsy {
		if Truthy(v) {
			t.Errorf("Truthy(%v) = true", v)
		}
	}
}
