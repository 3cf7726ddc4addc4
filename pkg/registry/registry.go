// Package registry maps action names to handler factories. Names are
// case-insensitive, an action may carry aliases, and re-registering a name
// silently replaces the previous factory (last write wins, logged).
package registry

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/ormasoftchile/stepflow/pkg/contract"
)

// Enablement answers whether a handler is administratively enabled. The
// config store satisfies this.
type Enablement interface {
	Enabled(name string) bool
}

type entry struct {
	canonical string
	factory   contract.Factory
	aliases   []string
}

// Registry is the action dispatch table. Safe for concurrent use.
type Registry struct {
	mu         sync.Mutex
	entries    map[string]*entry // every name and alias, lowercased
	enablement Enablement
	logger     *slog.Logger
	applied    map[string]bool
}

// New creates an empty registry. A nil enablement treats every handler as
// enabled; a nil logger discards.
func New(enablement Enablement, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		entries:    make(map[string]*entry),
		enablement: enablement,
		logger:     logger,
		applied:    make(map[string]bool),
	}
}

// Register binds a factory to a canonical name and optional aliases. Any
// name already bound is replaced.
func (r *Registry) Register(name string, factory contract.Factory, aliases ...string) error {
	if name == "" {
		return fmt.Errorf("handler name is empty")
	}
	if factory == nil {
		return fmt.Errorf("handler %q: factory is nil", name)
	}

	canonical := strings.ToLower(name)
	e := &entry{canonical: canonical, factory: factory}
	for _, a := range aliases {
		a = strings.ToLower(a)
		if a != "" && a != canonical {
			e.aliases = append(e.aliases, a)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range append([]string{canonical}, e.aliases...) {
		if prev, ok := r.entries[key]; ok && prev.canonical != canonical {
			r.logger.Warn("handler registration replaced", "name", key, "previous", prev.canonical, "new", canonical)
		} else if ok {
			r.logger.Warn("handler re-registered", "name", key)
		}
		r.entries[key] = e
	}
	return nil
}

// Lookup resolves a name to a fresh handler instance. Unknown names yield
// UnknownActionError, administratively disabled ones DisabledHandlerError.
func (r *Registry) Lookup(name string) (contract.Handler, error) {
	key := strings.ToLower(name)
	r.mu.Lock()
	e, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return nil, &contract.UnknownActionError{Action: name}
	}
	if r.enablement != nil && !r.enablement.Enabled(e.canonical) {
		return nil, &contract.DisabledHandlerError{Action: e.canonical}
	}
	return e.factory(), nil
}

// Get resolves a name to a handler, or nil when the name is unknown or the
// handler is disabled. The miss is logged, never raised.
func (r *Registry) Get(name string) contract.Handler {
	h, err := r.Lookup(name)
	if err != nil {
		r.logger.Warn("handler lookup failed", "name", name, "error", err)
		return nil
	}
	return h
}

// Registered reports whether a name or alias is bound, ignoring enablement.
func (r *Registry) Registered(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[strings.ToLower(name)]
	return ok
}

// Unregister removes a handler and every alias pointing at it. Returns
// false when the name is not bound.
func (r *Registry) Unregister(name string) bool {
	key := strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return false
	}
	delete(r.entries, e.canonical)
	for _, a := range e.aliases {
		delete(r.entries, a)
	}
	return true
}

// Names returns the canonical handler names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	var names []string
	for _, e := range r.entries {
		if !seen[e.canonical] {
			seen[e.canonical] = true
			names = append(names, e.canonical)
		}
	}
	sort.Strings(names)
	return names
}

// Aliases returns the aliases bound to a handler's canonical name.
func (r *Registry) Aliases(name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[strings.ToLower(name)]
	if !ok {
		return nil
	}
	return append([]string(nil), e.aliases...)
}

// Clear removes every registration and forgets applied manifests.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*entry)
	r.applied = make(map[string]bool)
}

// Manifest is a named set of registrations applied together, typically one
// per handler package.
type Manifest struct {
	Name     string
	Register func(r *Registry) error
}

// AutoDiscover applies each manifest once. Already-applied manifests are
// skipped, and a failing manifest is logged without stopping the rest.
// Returns the names of manifests applied in this call.
func (r *Registry) AutoDiscover(manifests ...Manifest) []string {
	var applied []string
	for _, m := range manifests {
		r.mu.Lock()
		done := r.applied[m.Name]
		if !done {
			r.applied[m.Name] = true
		}
		r.mu.Unlock()
		if done {
			continue
		}
		if err := m.Register(r); err != nil {
			r.logger.Warn("manifest registration failed", "manifest", m.Name, "error", err)
			continue
		}
		applied = append(applied, m.Name)
	}
	return applied
}
