// Package plugins extends the action registry at runtime with sandboxed Lua
// plugins. A plugin is a YAML descriptor next to a Lua entry script; the
// script registers actions through a `register(name, fn)` global and may
// define `plugin_init` / `plugin_cleanup` lifecycle functions.
package plugins

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Shopify/go-lua"
	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/stepflow/pkg/contract"
	"github.com/ormasoftchile/stepflow/pkg/registry"
)

const descriptorSuffix = ".plugin.yaml"

// Descriptor is the persisted plugin manifest.
type Descriptor struct {
	Name         string   `yaml:"name"`
	Version      string   `yaml:"version,omitempty"`
	Description  string   `yaml:"description,omitempty"`
	Entry        string   `yaml:"entry"`
	Dependencies []string `yaml:"dependencies,omitempty"`
	Enabled      bool     `yaml:"enabled"`
}

// Status describes one cataloged plugin.
type Status struct {
	Descriptor Descriptor
	Loaded     bool
	Actions    []string
}

type plugin struct {
	desc    Descriptor
	path    string // descriptor file path
	state   *lua.State
	stateMu sync.Mutex
	actions []string
	loaded  bool
}

// Manager owns the plugin catalog and lifecycle. Safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	catalog  map[string]*plugin
	registry *registry.Registry
	logger   *slog.Logger
}

// NewManager creates a plugin manager bound to the action registry.
func NewManager(reg *registry.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		catalog:  make(map[string]*plugin),
		registry: reg,
		logger:   logger,
	}
}

// Discover walks dir for *.plugin.yaml descriptors and adds them to the
// catalog without loading anything. A malformed descriptor is logged and
// skipped. Returns the names discovered in this call.
func (m *Manager) Discover(dir string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, descriptorSuffix) {
			return nil
		}
		desc, err := readDescriptor(path)
		if err != nil {
			m.logger.Warn("skipping malformed plugin descriptor", "path", path, "error", err)
			return nil
		}
		m.mu.Lock()
		if existing, ok := m.catalog[desc.Name]; ok && existing.loaded {
			m.logger.Warn("plugin already loaded, descriptor refresh skipped", "plugin", desc.Name)
		} else {
			m.catalog[desc.Name] = &plugin{desc: desc, path: path}
			found = append(found, desc.Name)
		}
		m.mu.Unlock()
		return nil
	})
	if err != nil {
		return found, fmt.Errorf("discover plugins in %q: %w", dir, err)
	}
	sort.Strings(found)
	return found, nil
}

// Load runs a plugin's entry script inside the sandbox, registering its
// actions. Dependencies are loaded first; a missing or disabled dependency
// fails the load. The catalog lock is held across the whole transition, so
// two concurrent loads of the same plugin run the entry script once.
func (m *Manager) Load(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(name, map[string]bool{})
}

func (m *Manager) loadLocked(name string, visiting map[string]bool) error {
	p, ok := m.catalog[name]
	if !ok {
		return fmt.Errorf("plugin %q not in catalog", name)
	}
	if p.loaded {
		return nil
	}
	if !p.desc.Enabled {
		return fmt.Errorf("plugin %q is disabled", name)
	}
	if visiting[name] {
		return fmt.Errorf("plugin dependency cycle through %q", name)
	}
	visiting[name] = true
	defer delete(visiting, name)

	for _, dep := range p.desc.Dependencies {
		if err := m.loadLocked(dep, visiting); err != nil {
			return fmt.Errorf("plugin %q dependency: %w", name, err)
		}
	}

	entry := p.desc.Entry
	if !filepath.IsAbs(entry) {
		entry = filepath.Join(filepath.Dir(p.path), entry)
	}

	l := lua.NewState()
	setupSandbox(l)
	l.Register("register", m.registerFn(p))

	if err := lua.DoFile(l, entry); err != nil {
		m.unregisterActions(p)
		return fmt.Errorf("plugin %q entry %q: %w", name, entry, err)
	}
	if err := callIfDefined(l, "plugin_init"); err != nil {
		m.unregisterActions(p)
		return fmt.Errorf("plugin %q init: %w", name, err)
	}

	// Handlers registered above dispatch against p.state; publish it only
	// once the script and its init hook have succeeded.
	p.stateMu.Lock()
	p.state = l
	p.stateMu.Unlock()
	p.loaded = true
	m.logger.Info("plugin loaded", "plugin", name, "actions", len(p.actions))
	return nil
}

// LoadAll loads every enabled cataloged plugin. Per-plugin failures are
// logged and do not stop the rest. Returns the names loaded in this call.
func (m *Manager) LoadAll() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.catalog))
	for name, p := range m.catalog {
		if p.desc.Enabled && !p.loaded {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var loaded []string
	for _, name := range names {
		if err := m.loadLocked(name, map[string]bool{}); err != nil {
			m.logger.Warn("plugin load failed", "plugin", name, "error", err)
			continue
		}
		loaded = append(loaded, name)
	}
	return loaded
}

// Unload runs the plugin's cleanup hook and removes its actions from the
// registry. The plugin stays in the catalog for a later reload.
func (m *Manager) Unload(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.catalog[name]
	if !ok {
		return fmt.Errorf("plugin %q not in catalog", name)
	}
	if !p.loaded {
		return fmt.Errorf("plugin %q is not loaded", name)
	}
	m.unloadLocked(name, p)
	return nil
}

// unloadLocked tears one plugin down under m.mu. The state mutex is taken
// so an in-flight handler call finishes before the state is torn away.
func (m *Manager) unloadLocked(name string, p *plugin) {
	p.stateMu.Lock()
	if err := callIfDefined(p.state, "plugin_cleanup"); err != nil {
		m.logger.Warn("plugin cleanup failed", "plugin", name, "error", err)
	}
	p.state = nil
	p.stateMu.Unlock()
	m.unregisterActions(p)
	p.loaded = false
	m.logger.Info("plugin unloaded", "plugin", name)
}

// SetEnabled flips the enabled flag and persists it to the descriptor file.
// Disabling a loaded plugin unloads it first.
func (m *Manager) SetEnabled(name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.catalog[name]
	if !ok {
		return fmt.Errorf("plugin %q not in catalog", name)
	}
	if !enabled && p.loaded {
		m.unloadLocked(name, p)
	}
	p.desc.Enabled = enabled
	return writeDescriptor(p.path, p.desc)
}

// List returns the status of every cataloged plugin, sorted by name.
func (m *Manager) List() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.catalog))
	for _, p := range m.catalog {
		out = append(out, Status{
			Descriptor: p.desc,
			Loaded:     p.loaded,
			Actions:    append([]string(nil), p.actions...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Descriptor.Name < out[j].Descriptor.Name })
	return out
}

// registerFn builds the `register(name, fn)` global for one plugin. The Lua
// function is stashed in the Lua registry and wrapped as a handler factory.
func (m *Manager) registerFn(p *plugin) lua.Function {
	return func(l *lua.State) int {
		action, ok := l.ToString(1)
		if !ok || action == "" {
			lua.Errorf(l, "register: action name must be a string")
			return 0
		}
		if l.TypeOf(2) != lua.TypeFunction {
			lua.Errorf(l, "register: second argument must be a function")
			return 0
		}

		key := "stepflow.action." + action
		l.PushValue(2)
		l.SetField(lua.RegistryIndex, key)

		handler := m.luaHandler(p, action, key)
		if err := m.registry.Register(action, func() contract.Handler { return handler }); err != nil {
			lua.Errorf(l, "register: %s", err.Error())
			return 0
		}
		p.actions = append(p.actions, strings.ToLower(action))
		return 0
	}
}

// luaHandler wraps a stashed Lua function as a contract.Handler. The call
// passes (selector, value, params) and converts the single return value to
// the result output.
func (m *Manager) luaHandler(p *plugin, action, key string) contract.Handler {
	return &contract.HandlerFunc{
		Action: action,
		Fn: func(_ context.Context, req *contract.Request) (*contract.Result, error) {
			p.stateMu.Lock()
			defer p.stateMu.Unlock()
			l := p.state
			if l == nil {
				return nil, &contract.ExecutionError{Action: action, Message: "plugin is unloaded"}
			}
			l.Field(lua.RegistryIndex, key)
			pushValue(l, req.Selector)
			pushValue(l, req.Value)
			pushValue(l, req.Params)
			if err := l.ProtectedCall(3, 1, 0); err != nil {
				return nil, &contract.ExecutionError{Action: action, Message: "plugin call failed", Cause: err}
			}
			out := toGoValue(l, -1)
			l.Pop(1)
			return &contract.Result{Action: action, Status: contract.StatusSuccess, Output: out}, nil
		},
	}
}

func (m *Manager) unregisterActions(p *plugin) {
	for _, action := range p.actions {
		if !m.registry.Unregister(action) {
			m.logger.Warn("plugin action already unregistered", "action", action)
		}
	}
	p.actions = nil
}

// callIfDefined invokes a global zero-argument Lua function when present.
func callIfDefined(l *lua.State, name string) error {
	l.Global(name)
	if l.TypeOf(-1) != lua.TypeFunction {
		l.Pop(1)
		return nil
	}
	return l.ProtectedCall(0, 0, 0)
}

func readDescriptor(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, err
	}
	var desc Descriptor
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&desc); err != nil {
		return Descriptor{}, fmt.Errorf("parse: %w", err)
	}
	if desc.Name == "" {
		return Descriptor{}, fmt.Errorf("descriptor has no name")
	}
	if desc.Entry == "" {
		return Descriptor{}, fmt.Errorf("descriptor %q has no entry", desc.Name)
	}
	return desc, nil
}

func writeDescriptor(path string, desc Descriptor) error {
	data, err := yaml.Marshal(&desc)
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write descriptor %q: %w", path, err)
	}
	return nil
}
