// Package config stores per-handler execution settings and engine-wide
// defaults, persisted as YAML. Handler entries are materialized lazily from
// the globals the first time anything asks for them.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// HandlerSettings holds one handler's execution settings. Duration fields
// use Go duration strings ("30s", "250ms"); empty means inherit the global
// default.
type HandlerSettings struct {
	Enabled     bool           `yaml:"enabled" json:"enabled"`
	Timeout     string         `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	RetryCount  *int           `yaml:"retry_count,omitempty" json:"retry_count,omitempty"`
	RetryDelay  string         `yaml:"retry_delay,omitempty" json:"retry_delay,omitempty"`
	Priority    int            `yaml:"priority,omitempty" json:"priority,omitempty"`
	Tags        []string       `yaml:"tags,omitempty" json:"tags,omitempty"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Params      map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// Globals are the engine-wide defaults a handler entry inherits.
type Globals struct {
	DefaultTimeout     string  `yaml:"default_timeout" json:"default_timeout"`
	DefaultRetryCount  int     `yaml:"default_retry_count" json:"default_retry_count"`
	DefaultRetryDelay  string  `yaml:"default_retry_delay" json:"default_retry_delay"`
	MaxConcurrency     int     `yaml:"max_concurrency" json:"max_concurrency"`
	Monitoring         bool    `yaml:"monitoring" json:"monitoring"`
	SlowThreshold      string  `yaml:"slow_threshold,omitempty" json:"slow_threshold,omitempty"`
	ErrorRateThreshold float64 `yaml:"error_rate_threshold,omitempty" json:"error_rate_threshold,omitempty"`
}

// Document is the persisted shape of a config file.
type Document struct {
	Globals  Globals                    `yaml:"globals" json:"globals"`
	Handlers map[string]HandlerSettings `yaml:"handlers" json:"handlers"`
}

// DefaultGlobals returns the built-in engine defaults.
func DefaultGlobals() Globals {
	return Globals{
		DefaultTimeout:     "30s",
		DefaultRetryCount:  0,
		DefaultRetryDelay:  "1s",
		MaxConcurrency:     4,
		Monitoring:         true,
		SlowThreshold:      "1s",
		ErrorRateThreshold: 0.1,
	}
}

// Violation is one config consistency problem found by Validate.
type Violation struct {
	Handler string
	Field   string
	Message string
}

func (v Violation) String() string {
	if v.Handler == "" {
		return fmt.Sprintf("globals.%s: %s", v.Field, v.Message)
	}
	return fmt.Sprintf("handlers.%s.%s: %s", v.Handler, v.Field, v.Message)
}

// Store is the handler config store. Safe for concurrent use; every change
// is written back to the backing file when one is configured.
type Store struct {
	mu     sync.Mutex
	doc    Document
	path   string
	logger *slog.Logger
}

// NewStore loads the config file at path, or starts from built-in defaults
// when path is empty or the file does not exist yet. A nil logger discards.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Store{
		doc:    Document{Globals: DefaultGlobals(), Handlers: make(map[string]HandlerSettings)},
		path:   path,
		logger: logger,
	}
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	doc, err := decodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	s.merge(doc, true)
	return s, nil
}

// Get returns the settings for a handler. Missing entries are materialized
// as enabled defaults derived from the globals and persisted immediately, so
// the config file always reflects every handler that has been asked about.
func (s *Store) Get(name string) HandlerSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hs, ok := s.doc.Handlers[name]; ok {
		return cloneSettings(hs)
	}
	hs := HandlerSettings{Enabled: true}
	s.doc.Handlers[name] = hs
	if err := s.saveLocked(); err != nil {
		s.logger.Warn("persisting materialized config failed", "handler", name, "error", err)
	}
	return hs
}

// Has reports whether an explicit entry exists without materializing one.
func (s *Store) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.doc.Handlers[name]
	return ok
}

// Update merges a partial settings patch into a handler's entry. Unknown
// fields are skipped with a returned warning; known fields with unusable
// values produce an error and leave the entry unchanged.
func (s *Store) Update(name string, patch map[string]any) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hs, ok := s.doc.Handlers[name]
	if !ok {
		hs = HandlerSettings{Enabled: true}
	}

	var warnings []string
	for key, raw := range patch {
		switch key {
		case "enabled":
			b, ok := raw.(bool)
			if !ok {
				return nil, fmt.Errorf("field %q: expected bool, got %T", key, raw)
			}
			hs.Enabled = b
		case "timeout":
			str, err := durationString(raw)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", key, err)
			}
			hs.Timeout = str
		case "retry_count":
			n, ok := toInt(raw)
			if !ok || n < 0 {
				return nil, fmt.Errorf("field %q: expected non-negative integer, got %v", key, raw)
			}
			hs.RetryCount = &n
		case "retry_delay":
			str, err := durationString(raw)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", key, err)
			}
			hs.RetryDelay = str
		case "priority":
			n, ok := toInt(raw)
			if !ok {
				return nil, fmt.Errorf("field %q: expected integer, got %v", key, raw)
			}
			hs.Priority = n
		case "tags":
			tags, err := toStringSlice(raw)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", key, err)
			}
			hs.Tags = tags
		case "description":
			str, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("field %q: expected string, got %T", key, raw)
			}
			hs.Description = str
		case "params":
			params, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("field %q: expected map, got %T", key, raw)
			}
			if hs.Params == nil {
				hs.Params = make(map[string]any)
			}
			for k, v := range params {
				hs.Params[k] = v
			}
		default:
			w := fmt.Sprintf("unknown config field %q for handler %q, skipped", key, name)
			s.logger.Warn("unknown config field skipped", "handler", name, "field", key)
			warnings = append(warnings, w)
		}
	}

	s.doc.Handlers[name] = hs
	if err := s.saveLocked(); err != nil {
		return warnings, err
	}
	return warnings, nil
}

// Enabled reports whether a handler is administratively enabled. Handlers
// with no explicit entry are enabled.
func (s *Store) Enabled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	hs, ok := s.doc.Handlers[name]
	if !ok {
		return true
	}
	return hs.Enabled
}

// SetEnabled flips a handler's enabled flag and persists.
func (s *Store) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hs := s.doc.Handlers[name]
	if _, ok := s.doc.Handlers[name]; !ok {
		hs = HandlerSettings{Enabled: true}
	}
	hs.Enabled = enabled
	s.doc.Handlers[name] = hs
	return s.saveLocked()
}

// Globals returns a copy of the engine-wide defaults.
func (s *Store) Globals() Globals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Globals
}

// SetGlobals replaces the engine-wide defaults and persists.
func (s *Store) SetGlobals(g Globals) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Globals = g
	return s.saveLocked()
}

// EffectiveTimeout resolves a handler's per-attempt timeout, falling back to
// the global default and then to 30s.
func (s *Store) EffectiveTimeout(name string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hs, ok := s.doc.Handlers[name]; ok && hs.Timeout != "" {
		if d, err := time.ParseDuration(hs.Timeout); err == nil {
			return d
		}
	}
	if d, err := time.ParseDuration(s.doc.Globals.DefaultTimeout); err == nil {
		return d
	}
	return 30 * time.Second
}

// EffectiveRetry resolves a handler's retry count and per-retry delay.
func (s *Store) EffectiveRetry(name string) (count int, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count = s.doc.Globals.DefaultRetryCount
	delayStr := s.doc.Globals.DefaultRetryDelay
	if hs, ok := s.doc.Handlers[name]; ok {
		if hs.RetryCount != nil {
			count = *hs.RetryCount
		}
		if hs.RetryDelay != "" {
			delayStr = hs.RetryDelay
		}
	}
	if d, err := time.ParseDuration(delayStr); err == nil {
		delay = d
	} else {
		delay = time.Second
	}
	return count, delay
}

// Handlers returns the names of all explicit entries, sorted.
func (s *Store) Handlers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.doc.Handlers))
	for name := range s.doc.Handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ByTag returns handler names carrying the given tag, sorted.
func (s *Store) ByTag(tag string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for name, hs := range s.doc.Handlers {
		for _, t := range hs.Tags {
			if t == tag {
				names = append(names, name)
				break
			}
		}
	}
	sort.Strings(names)
	return names
}

// ByPriority returns explicit entries ordered by descending priority, ties
// broken by name.
func (s *Store) ByPriority() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.doc.Handlers))
	for name := range s.doc.Handlers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		pi, pj := s.doc.Handlers[names[i]].Priority, s.doc.Handlers[names[j]].Priority
		if pi != pj {
			return pi > pj
		}
		return names[i] < names[j]
	})
	return names
}

// EnabledHandlers returns the names of enabled explicit entries, sorted.
func (s *Store) EnabledHandlers() []string { return s.filtered(true) }

// DisabledHandlers returns the names of disabled explicit entries, sorted.
func (s *Store) DisabledHandlers() []string { return s.filtered(false) }

func (s *Store) filtered(enabled bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for name, hs := range s.doc.Handlers {
		if hs.Enabled == enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Validate checks the whole document for consistency problems. It never
// aborts; all violations are collected and returned.
func (s *Store) Validate() []Violation {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Violation
	g := s.doc.Globals
	if _, err := time.ParseDuration(g.DefaultTimeout); err != nil {
		out = append(out, Violation{Field: "default_timeout", Message: fmt.Sprintf("not a duration: %q", g.DefaultTimeout)})
	}
	if _, err := time.ParseDuration(g.DefaultRetryDelay); err != nil {
		out = append(out, Violation{Field: "default_retry_delay", Message: fmt.Sprintf("not a duration: %q", g.DefaultRetryDelay)})
	}
	if g.DefaultRetryCount < 0 {
		out = append(out, Violation{Field: "default_retry_count", Message: "must not be negative"})
	}
	if g.MaxConcurrency < 1 {
		out = append(out, Violation{Field: "max_concurrency", Message: "must be at least 1"})
	}
	if g.ErrorRateThreshold < 0 || g.ErrorRateThreshold > 1 {
		out = append(out, Violation{Field: "error_rate_threshold", Message: "must be between 0 and 1"})
	}

	names := make([]string, 0, len(s.doc.Handlers))
	for name := range s.doc.Handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		hs := s.doc.Handlers[name]
		if hs.Timeout != "" {
			if d, err := time.ParseDuration(hs.Timeout); err != nil {
				out = append(out, Violation{Handler: name, Field: "timeout", Message: fmt.Sprintf("not a duration: %q", hs.Timeout)})
			} else if d <= 0 {
				out = append(out, Violation{Handler: name, Field: "timeout", Message: "must be positive"})
			}
		}
		if hs.RetryDelay != "" {
			if _, err := time.ParseDuration(hs.RetryDelay); err != nil {
				out = append(out, Violation{Handler: name, Field: "retry_delay", Message: fmt.Sprintf("not a duration: %q", hs.RetryDelay)})
			}
		}
		if hs.RetryCount != nil && *hs.RetryCount < 0 {
			out = append(out, Violation{Handler: name, Field: "retry_count", Message: "must not be negative"})
		}
	}
	return out
}

// Export writes the current document as YAML to path.
func (s *Store) Export(path string) error {
	s.mu.Lock()
	data, err := yaml.Marshal(&s.doc)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %q: %w", path, err)
	}
	return nil
}

// Import reads a config document from path. With merge true, imported
// handler entries overlay existing ones and globals are replaced; with
// merge false the whole document is replaced. The document is schema-checked
// before anything is applied.
func (s *Store) Import(path string, merge bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %q: %w", path, err)
	}
	doc, err := decodeDocument(data)
	if err != nil {
		return fmt.Errorf("config %q: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !merge {
		s.doc = Document{Globals: doc.Globals, Handlers: make(map[string]HandlerSettings)}
	} else {
		s.doc.Globals = doc.Globals
	}
	for name, hs := range doc.Handlers {
		s.doc.Handlers[name] = hs
	}
	return s.saveLocked()
}

// Save persists the current document to the backing file.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(&s.doc)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write config %q: %w", s.path, err)
	}
	return nil
}

func (s *Store) merge(doc Document, replaceGlobals bool) {
	if replaceGlobals {
		s.doc.Globals = doc.Globals
	}
	for name, hs := range doc.Handlers {
		s.doc.Handlers[name] = hs
	}
}

func cloneSettings(hs HandlerSettings) HandlerSettings {
	out := hs
	if hs.Tags != nil {
		out.Tags = append([]string(nil), hs.Tags...)
	}
	if hs.Params != nil {
		out.Params = make(map[string]any, len(hs.Params))
		for k, v := range hs.Params {
			out.Params[k] = v
		}
	}
	if hs.RetryCount != nil {
		n := *hs.RetryCount
		out.RetryCount = &n
	}
	return out
}

func durationString(raw any) (string, error) {
	switch t := raw.(type) {
	case string:
		if _, err := time.ParseDuration(t); err != nil {
			return "", fmt.Errorf("not a duration: %q", t)
		}
		return t, nil
	case int:
		return (time.Duration(t) * time.Second).String(), nil
	case float64:
		return time.Duration(t * float64(time.Second)).String(), nil
	default:
		return "", fmt.Errorf("expected duration string or seconds, got %T", raw)
	}
}

func toInt(raw any) (int, bool) {
	switch t := raw.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		if t == float64(int(t)) {
			return int(t), true
		}
	}
	return 0, false
}

func toStringSlice(raw any) ([]string, error) {
	switch t := raw.(type) {
	case []string:
		return append([]string(nil), t...), nil
	case []any:
		out := make([]string, 0, len(t))
		for _, v := range t {
			str, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("expected string elements, got %T", v)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected list of strings, got %T", raw)
	}
}
