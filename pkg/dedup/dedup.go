// Package dedup rate-limits repeated error logging. Errors are normalized
// and fingerprinted; once a fingerprint passes its category threshold inside
// the active window, further occurrences are suppressed until the window
// rolls over. Suppression gates logging only, never retry or propagation.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Category labels used for per-category thresholds.
const (
	CategoryTimeout         = "timeout"
	CategoryElementNotFound = "element_not_found"
	CategoryAssertion       = "assertion"
	CategoryDefault         = "default"
)

// PatternThreshold maps a message regex to its own suppression threshold.
type PatternThreshold struct {
	Pattern   string
	Threshold int
}

// Config tunes windowing and thresholds. Zero values take defaults.
type Config struct {
	Window             time.Duration
	DefaultThreshold   int
	CategoryThresholds map[string]int
	CustomPatterns     []PatternThreshold
	IgnorePatterns     []string
}

const (
	defaultWindow    = time.Minute
	defaultThreshold = 5
)

type record struct {
	kind       string
	message    string
	category   string
	count      int
	suppressed int
	windowFrom time.Time
	lastSeen   time.Time
}

type compiledPattern struct {
	re        *regexp.Regexp
	threshold int
}

// Stats is a snapshot of deduplication activity.
type Stats struct {
	TrackedSignatures int
	TotalSeen         int
	TotalSuppressed   int
	TotalIgnored      int
	ByCategory        map[string]int
}

// Manager tracks error fingerprints. Safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*record
	ignore  []*regexp.Regexp
	custom  []compiledPattern
	ignored int
	logger  *slog.Logger
	now     func() time.Time
}

// NewManager compiles the config's patterns and returns a ready manager.
// Invalid regexes are rejected.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.DefaultThreshold <= 0 {
		cfg.DefaultThreshold = defaultThreshold
	}
	m := &Manager{
		cfg:     cfg,
		entries: make(map[string]*record),
		logger:  logger,
		now:     time.Now,
	}
	for _, p := range cfg.IgnorePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("ignore pattern %q: %w", p, err)
		}
		m.ignore = append(m.ignore, re)
	}
	for _, p := range cfg.CustomPatterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("custom pattern %q: %w", p.Pattern, err)
		}
		threshold := p.Threshold
		if threshold <= 0 {
			threshold = cfg.DefaultThreshold
		}
		m.custom = append(m.custom, compiledPattern{re: re, threshold: threshold})
	}
	return m, nil
}

// ShouldLog records one occurrence of an error and reports whether it should
// be logged. Ignored patterns are never logged and never counted. Context
// distinguishes otherwise identical errors from different call sites.
func (m *Manager) ShouldLog(kind, message, context string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, re := range m.ignore {
		if re.MatchString(message) {
			m.ignored++
			return false
		}
	}

	now := m.now()
	m.purgeLocked(now)

	normalized := Normalize(message)
	sig := signature(kind, normalized, context)

	rec, ok := m.entries[sig]
	if !ok {
		rec = &record{
			kind:       kind,
			message:    normalized,
			category:   m.categorize(kind, message),
			windowFrom: now,
		}
		m.entries[sig] = rec
	}

	// A window that has fully elapsed starts over: counts reset and the
	// next occurrence logs again.
	if now.Sub(rec.windowFrom) > m.cfg.Window {
		rec.count = 0
		rec.windowFrom = now
	}

	rec.count++
	rec.lastSeen = now

	threshold := m.thresholdFor(rec.category, message)
	if rec.count > threshold {
		rec.suppressed++
		return false
	}
	return true
}

// Reset forgets all tracked fingerprints and counters.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*record)
	m.ignored = 0
}

// Statistics returns a snapshot of current activity.
func (m *Manager) Statistics() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		TrackedSignatures: len(m.entries),
		TotalIgnored:      m.ignored,
		ByCategory:        make(map[string]int),
	}
	for _, rec := range m.entries {
		s.TotalSeen += rec.count
		s.TotalSuppressed += rec.suppressed
		s.ByCategory[rec.category] += rec.count
	}
	return s
}

// purgeLocked drops fingerprints idle for more than twice the window.
func (m *Manager) purgeLocked(now time.Time) {
	cutoff := now.Add(-2 * m.cfg.Window)
	for sig, rec := range m.entries {
		if rec.lastSeen.Before(cutoff) {
			delete(m.entries, sig)
		}
	}
}

func (m *Manager) categorize(kind, message string) string {
	lower := strings.ToLower(message)
	switch {
	case kind == "timeout" || strings.Contains(lower, "timed out") || strings.Contains(lower, "timeout"):
		return CategoryTimeout
	case strings.Contains(lower, "not found") || strings.Contains(lower, "no such element"):
		return CategoryElementNotFound
	case kind == "assertion" || strings.Contains(lower, "assert"):
		return CategoryAssertion
	default:
		return CategoryDefault
	}
}

func (m *Manager) thresholdFor(category, message string) int {
	for _, p := range m.custom {
		if p.re.MatchString(message) {
			return p.threshold
		}
	}
	if t, ok := m.cfg.CategoryThresholds[category]; ok && t > 0 {
		return t
	}
	return m.cfg.DefaultThreshold
}

var (
	timestampRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2}(?:[.,]\d+)?(?:Z|[+-]\d{2}:?\d{2})?`)
	clockRe     = regexp.MustCompile(`\b\d{1,2}:\d{2}:\d{2}(?:[.,]\d+)?\b`)
	lineRe      = regexp.MustCompile(`(?i)\bline[: ]+\d+\b`)
	durationRe  = regexp.MustCompile(`\b\d+(?:\.\d+)?\s*(?:ns|us|µs|ms|s|sec|secs|seconds|m|min|mins|minutes|h|hours)\b`)
	digitsRe    = regexp.MustCompile(`\d+`)
)

// Normalize strips the volatile parts of an error message so repeated
// occurrences hash identically: timestamps, wall-clock times, line numbers,
// durations, and remaining digit runs.
func Normalize(message string) string {
	out := timestampRe.ReplaceAllString(message, "<ts>")
	out = clockRe.ReplaceAllString(out, "<time>")
	out = lineRe.ReplaceAllString(out, "line <n>")
	out = durationRe.ReplaceAllString(out, "<dur>")
	out = digitsRe.ReplaceAllString(out, "<n>")
	return strings.TrimSpace(out)
}

func signature(kind, normalized, context string) string {
	h := sha256.Sum256([]byte(kind + "\x00" + normalized + "\x00" + context))
	return hex.EncodeToString(h[:8])
}
