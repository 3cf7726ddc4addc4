// Package vars holds scoped runtime variables and performs placeholder
// substitution over step fields.
package vars

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Scope names a variable lifetime bucket.
type Scope string

const (
	ScopeGlobal    Scope = "global"
	ScopeSession   Scope = "session"
	ScopeTest      Scope = "test"
	ScopeStep      Scope = "step"
	ScopeTemporary Scope = "temporary"
)

// lookupOrder is the precedence for unqualified reads, most specific first.
var lookupOrder = []Scope{ScopeStep, ScopeTemporary, ScopeTest, ScopeSession, ScopeGlobal}

// Scopes returns every valid scope name.
func Scopes() []Scope {
	return []Scope{ScopeGlobal, ScopeSession, ScopeTest, ScopeStep, ScopeTemporary}
}

// ValidScope reports whether s names a known scope.
func ValidScope(s Scope) bool {
	switch s {
	case ScopeGlobal, ScopeSession, ScopeTest, ScopeStep, ScopeTemporary:
		return true
	}
	return false
}

type entry struct {
	value   any
	expires time.Time // zero means no TTL
}

// Store is a scoped variable table. Writes go to exactly the named scope,
// last writer wins; unqualified reads walk scopes most-specific-first.
type Store struct {
	mu     sync.RWMutex
	scopes map[Scope]map[string]entry
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates an empty store. A nil logger discards.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Store{
		scopes: make(map[Scope]map[string]entry, len(lookupOrder)),
		logger: logger,
		now:    time.Now,
	}
	for _, sc := range Scopes() {
		s.scopes[sc] = make(map[string]entry)
	}
	return s
}

// Set writes a variable into the given scope, replacing any previous value
// in that scope only.
func (s *Store) Set(name string, value any, scope Scope) error {
	return s.SetWithTTL(name, value, scope, 0)
}

// SetWithTTL writes a variable that expires after ttl. A zero ttl means the
// value lives until overwritten or cleared.
func (s *Store) SetWithTTL(name string, value any, scope Scope, ttl time.Duration) error {
	if name == "" {
		return fmt.Errorf("variable name is empty")
	}
	if !ValidScope(scope) {
		return fmt.Errorf("unknown variable scope %q", scope)
	}
	e := entry{value: value}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.scopes[scope][name] = e
	s.mu.Unlock()
	return nil
}

// Get resolves an unqualified read: step, then temporary, test, session,
// global. Expired entries are skipped.
func (s *Store) Get(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sc := range lookupOrder {
		if e, ok := s.scopes[sc][name]; ok && !s.expired(e) {
			return e.value, true
		}
	}
	return nil, false
}

// GetScoped reads from exactly one scope with no fallback.
func (s *Store) GetScoped(name string, scope Scope) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.scopes[scope][name]
	if !ok || s.expired(e) {
		return nil, false
	}
	return e.value, true
}

// Delete removes a variable from one scope. Returns false when it was not
// present.
func (s *Store) Delete(name string, scope Scope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.scopes[scope]
	if !ok {
		return false
	}
	if _, ok := m[name]; !ok {
		return false
	}
	delete(m, name)
	return true
}

// Clear empties one scope.
func (s *Store) Clear(scope Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scopes[scope]; ok {
		s.scopes[scope] = make(map[string]entry)
	}
}

// ClearAll empties every scope.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range Scopes() {
		s.scopes[sc] = make(map[string]entry)
	}
}

// Export returns a copy of one scope's live variables.
func (s *Store) Export(scope Scope) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any)
	for name, e := range s.scopes[scope] {
		if !s.expired(e) {
			out[name] = e.value
		}
	}
	return out
}

// Import writes every entry of values into the given scope.
func (s *Store) Import(values map[string]any, scope Scope) error {
	if !ValidScope(scope) {
		return fmt.Errorf("unknown variable scope %q", scope)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, v := range values {
		s.scopes[scope][name] = entry{value: v}
	}
	return nil
}

// Flatten materializes the visible variable set an unqualified read would
// see, one value per name.
func (s *Store) Flatten() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any)
	// Walk least specific first so more specific scopes overwrite.
	for i := len(lookupOrder) - 1; i >= 0; i-- {
		for name, e := range s.scopes[lookupOrder[i]] {
			if !s.expired(e) {
				out[name] = e.value
			}
		}
	}
	return out
}

func (s *Store) expired(e entry) bool {
	return !e.expires.IsZero() && s.now().After(e.expires)
}
