package dedup

import (
	"fmt"
	"testing"
	"time"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, *time.Time) {
	t.Helper()
	m, err := NewManager(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	clock := time.Now()
	m.now = func() time.Time { return clock }
	return m, &clock
}

func TestSuppressionAtThreshold(t *testing.T) {
	m, _ := newTestManager(t, Config{DefaultThreshold: 3})

	for i := 0; i < 3; i++ {
		if !m.ShouldLog("execution", "boom", "step-1") {
			t.Fatalf("occurrence %d should log", i+1)
		}
	}
	if m.ShouldLog("execution", "boom", "step-1") {
		t.Fatal("fourth occurrence should be suppressed")
	}

	stats := m.Statistics()
	if stats.TotalSeen != 4 || stats.TotalSuppressed != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestVolatilePartsShareSignature(t *testing.T) {
	m, _ := newTestManager(t, Config{DefaultThreshold: 2})

	msgs := []string{
		"request failed at 2026-08-28T10:00:01 after 1.5s (line 42)",
		"request failed at 2026-08-28T10:03:07 after 2.3s (line 99)",
		"request failed at 2026-08-28T11:11:11 after 0.4s (line 7)",
	}
	logged := 0
	for _, msg := range msgs {
		if m.ShouldLog("execution", msg, "fetch") {
			logged++
		}
	}
	if logged != 2 {
		t.Errorf("logged %d, want 2 (same normalized signature)", logged)
	}
	if s := m.Statistics(); s.TrackedSignatures != 1 {
		t.Errorf("tracked %d signatures, want 1", s.TrackedSignatures)
	}
}

func TestContextSeparatesSignatures(t *testing.T) {
	m, _ := newTestManager(t, Config{DefaultThreshold: 1})

	if !m.ShouldLog("execution", "boom", "step-1") {
		t.Fatal("first in step-1 should log")
	}
	if !m.ShouldLog("execution", "boom", "step-2") {
		t.Fatal("same message in step-2 is a different signature")
	}
	if m.ShouldLog("execution", "boom", "step-1") {
		t.Fatal("second in step-1 should be suppressed")
	}
}

func TestWindowResetAllowsLoggingAgain(t *testing.T) {
	m, clock := newTestManager(t, Config{DefaultThreshold: 1, Window: time.Minute})

	if !m.ShouldLog("execution", "boom", "") {
		t.Fatal("first should log")
	}
	if m.ShouldLog("execution", "boom", "") {
		t.Fatal("second inside window should be suppressed")
	}
	*clock = clock.Add(61 * time.Second)
	if !m.ShouldLog("execution", "boom", "") {
		t.Fatal("window elapsed, should log again")
	}
}

func TestPurgeAfterTwoWindows(t *testing.T) {
	m, clock := newTestManager(t, Config{Window: time.Minute})

	m.ShouldLog("execution", "boom", "")
	if s := m.Statistics(); s.TrackedSignatures != 1 {
		t.Fatalf("tracked = %d", s.TrackedSignatures)
	}
	*clock = clock.Add(3 * time.Minute)
	m.ShouldLog("execution", "other", "")
	if s := m.Statistics(); s.TrackedSignatures != 1 {
		t.Errorf("stale signature should be purged, tracked = %d", s.TrackedSignatures)
	}
}

func TestIgnorePatternsNeverCounted(t *testing.T) {
	m, _ := newTestManager(t, Config{IgnorePatterns: []string{`benign warning`}})

	for i := 0; i < 5; i++ {
		if m.ShouldLog("execution", fmt.Sprintf("benign warning %d", i), "") {
			t.Fatal("ignored pattern should never log")
		}
	}
	s := m.Statistics()
	if s.TotalSeen != 0 || s.TrackedSignatures != 0 {
		t.Errorf("ignored errors must not be counted: %+v", s)
	}
	if s.TotalIgnored != 5 {
		t.Errorf("ignored = %d, want 5", s.TotalIgnored)
	}
}

func TestCategoryThresholds(t *testing.T) {
	m, _ := newTestManager(t, Config{
		DefaultThreshold:   5,
		CategoryThresholds: map[string]int{CategoryTimeout: 1},
	})

	if !m.ShouldLog("timeout", "action timed out", "") {
		t.Fatal("first timeout should log")
	}
	if m.ShouldLog("timeout", "action timed out", "") {
		t.Fatal("timeout category threshold is 1")
	}
	// Default category still gets the higher threshold.
	for i := 0; i < 5; i++ {
		if !m.ShouldLog("execution", "plain failure", "") {
			t.Fatalf("occurrence %d under default threshold should log", i+1)
		}
	}
}

func TestCustomPatternThreshold(t *testing.T) {
	m, _ := newTestManager(t, Config{
		DefaultThreshold: 5,
		CustomPatterns:   []PatternThreshold{{Pattern: `flaky backend`, Threshold: 2}},
	})
	logged := 0
	for i := 0; i < 4; i++ {
		if m.ShouldLog("execution", "flaky backend unreachable", "") {
			logged++
		}
	}
	if logged != 2 {
		t.Errorf("logged %d, want 2", logged)
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct{ in, want string }{
		{"failed at 2026-08-28 10:00:01", "failed at <ts>"},
		{"took 1.5s to respond", "took <dur> to respond"},
		{"error on line 42", "error on line <n>"},
		{"retry 3 of 7", "retry <n> of <n>"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestInvalidPatternRejected(t *testing.T) {
	if _, err := NewManager(Config{IgnorePatterns: []string{`(`}}, nil); err == nil {
		t.Fatal("expected error for invalid ignore pattern")
	}
	if _, err := NewManager(Config{CustomPatterns: []PatternThreshold{{Pattern: `(`}}}, nil); err == nil {
		t.Fatal("expected error for invalid custom pattern")
	}
}
