// Package monitor collects per-action execution metrics: counts, duration
// aggregates, a bounded ring of recent durations, and error rates. Threshold
// breaches are logged as warnings and never alter execution.
package monitor

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultRecentSize    = 100
	defaultSlowThreshold = time.Second
	defaultErrorRate     = 0.1
	// Error-rate warnings need a minimum sample size to mean anything.
	errorRateMinSamples = 5
)

// Listener observes every recorded execution. Called synchronously with the
// monitor unlocked.
type Listener func(action string, d time.Duration, err error)

// Metrics is a copy of one action's counters.
type Metrics struct {
	Action string
	Count  int
	Errors int
	Total  time.Duration
	Min    time.Duration
	Max    time.Duration
	Recent []time.Duration
}

// Avg returns the mean duration across all recorded executions.
func (m Metrics) Avg() time.Duration {
	if m.Count == 0 {
		return 0
	}
	return m.Total / time.Duration(m.Count)
}

// ErrorRate returns errors / count, or 0 with no samples.
func (m Metrics) ErrorRate() float64 {
	if m.Count == 0 {
		return 0
	}
	return float64(m.Errors) / float64(m.Count)
}

type actionStats struct {
	count  int
	errors int
	total  time.Duration
	min    time.Duration
	max    time.Duration
	recent []time.Duration
	next   int
	full   bool
}

// Monitor aggregates execution metrics per action. Safe for concurrent use.
type Monitor struct {
	mu            sync.Mutex
	stats         map[string]*actionStats
	listeners     []Listener
	recentSize    int
	slowThreshold time.Duration
	errorRate     float64
	logger        *slog.Logger
}

// Option tunes a Monitor at construction.
type Option func(*Monitor)

// WithRecentSize sets the recent-duration ring capacity.
func WithRecentSize(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.recentSize = n
		}
	}
}

// WithSlowThreshold sets the duration above which a warning is logged.
func WithSlowThreshold(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.slowThreshold = d
		}
	}
}

// WithErrorRateThreshold sets the error rate above which a warning is logged.
func WithErrorRateThreshold(rate float64) Option {
	return func(m *Monitor) {
		if rate > 0 {
			m.errorRate = rate
		}
	}
}

// New creates a monitor. A nil logger discards.
func New(logger *slog.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m := &Monitor{
		stats:         make(map[string]*actionStats),
		recentSize:    defaultRecentSize,
		slowThreshold: defaultSlowThreshold,
		errorRate:     defaultErrorRate,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddListener registers an observer for every recorded execution.
func (m *Monitor) AddListener(l Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// Record folds one execution into the action's counters and fires listeners.
func (m *Monitor) Record(action string, d time.Duration, err error) {
	m.mu.Lock()
	st, ok := m.stats[action]
	if !ok {
		st = &actionStats{recent: make([]time.Duration, m.recentSize)}
		m.stats[action] = st
	}
	st.count++
	st.total += d
	if st.count == 1 || d < st.min {
		st.min = d
	}
	if d > st.max {
		st.max = d
	}
	if err != nil {
		st.errors++
	}
	st.recent[st.next] = d
	st.next = (st.next + 1) % len(st.recent)
	if st.next == 0 {
		st.full = true
	}

	count, errors := st.count, st.errors
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	if d > m.slowThreshold {
		m.logger.Warn("slow action", "action", action, "duration", d, "threshold", m.slowThreshold)
	}
	if count >= errorRateMinSamples {
		rate := float64(errors) / float64(count)
		if rate > m.errorRate {
			m.logger.Warn("high error rate", "action", action, "rate", rate, "threshold", m.errorRate)
		}
	}
	for _, l := range listeners {
		l(action, d, err)
	}
}

// Start opens a span for an action. The returned func records the elapsed
// time and outcome when called.
func (m *Monitor) Start(action string) func(err error) {
	begin := time.Now()
	return func(err error) {
		m.Record(action, time.Since(begin), err)
	}
}

// Snapshot returns a copy of one action's metrics.
func (m *Monitor) Snapshot(action string) (Metrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stats[action]
	if !ok {
		return Metrics{}, false
	}
	return m.copyLocked(action, st), true
}

// Export returns a copy of every action's metrics.
func (m *Monitor) Export() map[string]Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Metrics, len(m.stats))
	for action, st := range m.stats {
		out[action] = m.copyLocked(action, st)
	}
	return out
}

// Reset clears metrics for one action; unknown actions are a no-op.
func (m *Monitor) Reset(action string) {
	m.mu.Lock()
	delete(m.stats, action)
	m.mu.Unlock()
}

// ResetAll clears all metrics.
func (m *Monitor) ResetAll() {
	m.mu.Lock()
	m.stats = make(map[string]*actionStats)
	m.mu.Unlock()
}

// Rank orders Top results.
type Rank string

const (
	ByCount  Rank = "count"
	ByAvg    Rank = "avg"
	ByErrors Rank = "errors"
)

// Top returns the n highest-ranked actions by the given criterion. Ties
// break on action name for stable output.
func (m *Monitor) Top(n int, by Rank) []Metrics {
	all := m.Export()
	out := make([]Metrics, 0, len(all))
	for _, mt := range all {
		out = append(out, mt)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch by {
		case ByAvg:
			if a.Avg() != b.Avg() {
				return a.Avg() > b.Avg()
			}
		case ByErrors:
			if a.Errors != b.Errors {
				return a.Errors > b.Errors
			}
		default:
			if a.Count != b.Count {
				return a.Count > b.Count
			}
		}
		return a.Action < b.Action
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Report renders a plain-text summary table, one action per line.
func (m *Monitor) Report() string {
	rows := m.Top(0, ByCount)
	if len(rows) == 0 {
		return "no executions recorded\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %8s %8s %12s %12s %12s %8s\n", "ACTION", "COUNT", "ERRORS", "AVG", "MIN", "MAX", "ERR%")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-24s %8d %8d %12s %12s %12s %7.1f%%\n",
			r.Action, r.Count, r.Errors, r.Avg().Round(time.Microsecond),
			r.Min.Round(time.Microsecond), r.Max.Round(time.Microsecond), r.ErrorRate()*100)
	}
	return b.String()
}

func (m *Monitor) copyLocked(action string, st *actionStats) Metrics {
	mt := Metrics{
		Action: action,
		Count:  st.count,
		Errors: st.errors,
		Total:  st.total,
		Min:    st.min,
		Max:    st.max,
	}
	// Unroll the ring oldest-first.
	if st.full {
		mt.Recent = append(mt.Recent, st.recent[st.next:]...)
		mt.Recent = append(mt.Recent, st.recent[:st.next]...)
	} else {
		mt.Recent = append(mt.Recent, st.recent[:st.next]...)
	}
	return mt
}
