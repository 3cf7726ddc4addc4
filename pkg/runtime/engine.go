// Package runtime wires the engine together and interprets step documents:
// conditionals, loops, module includes, and action dispatch through the
// executor.
package runtime

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/ormasoftchile/stepflow/pkg/config"
	"github.com/ormasoftchile/stepflow/pkg/dedup"
	"github.com/ormasoftchile/stepflow/pkg/eval"
	"github.com/ormasoftchile/stepflow/pkg/executor"
	"github.com/ormasoftchile/stepflow/pkg/monitor"
	"github.com/ormasoftchile/stepflow/pkg/plugins"
	"github.com/ormasoftchile/stepflow/pkg/registry"
	"github.com/ormasoftchile/stepflow/pkg/schema"
	"github.com/ormasoftchile/stepflow/pkg/vars"
)

// Options configures an Engine.
type Options struct {
	// ConfigPath is the handler config file; empty runs in-memory.
	ConfigPath string
	// ModuleDir is where use_module references resolve; empty disables
	// includes.
	ModuleDir string
	// Dedup tunes error-log deduplication.
	Dedup dedup.Config
	// Logger receives engine logs; nil discards.
	Logger *slog.Logger
}

// Engine bundles the registry, config store, monitor, executor, plugin
// manager, and variable store behind one handle.
type Engine struct {
	Registry *registry.Registry
	Config   *config.Store
	Monitor  *monitor.Monitor
	Executor *executor.Executor
	Plugins  *plugins.Manager
	Vars     *vars.Store
	Eval     *eval.Evaluator

	subst  *vars.Substitutor
	logger *slog.Logger

	moduleDir string
	moduleMu  sync.Mutex
	modules   map[string]*schema.Module
}

// NewEngine builds a fully wired engine.
func NewEngine(opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	cfg, err := config.NewStore(opts.ConfigPath, logger)
	if err != nil {
		return nil, fmt.Errorf("config store: %w", err)
	}
	ded, err := dedup.NewManager(opts.Dedup, logger)
	if err != nil {
		return nil, fmt.Errorf("dedup manager: %w", err)
	}

	globals := cfg.Globals()
	var monOpts []monitor.Option
	if d, err := parseDuration(globals.SlowThreshold); err == nil {
		monOpts = append(monOpts, monitor.WithSlowThreshold(d))
	}
	if globals.ErrorRateThreshold > 0 {
		monOpts = append(monOpts, monitor.WithErrorRateThreshold(globals.ErrorRateThreshold))
	}
	mon := monitor.New(logger, monOpts...)

	reg := registry.New(cfg, logger)
	exec := executor.New(reg, cfg, mon, ded, logger)
	store := vars.NewStore(logger)
	ev := eval.New(logger)

	return &Engine{
		Registry:  reg,
		Config:    cfg,
		Monitor:   mon,
		Executor:  exec,
		Plugins:   plugins.NewManager(reg, logger),
		Vars:      store,
		Eval:      ev,
		subst:     vars.NewSubstitutor(store, ev, logger),
		logger:    logger,
		moduleDir: opts.ModuleDir,
		modules:   make(map[string]*schema.Module),
	}, nil
}

// resolveModule loads and caches a module by name. Resolution happens once;
// later includes of the same name reuse the cached steps.
func (e *Engine) resolveModule(name string) (*schema.Module, error) {
	e.moduleMu.Lock()
	defer e.moduleMu.Unlock()
	if m, ok := e.modules[name]; ok {
		return m, nil
	}
	if e.moduleDir == "" {
		return nil, fmt.Errorf("module %q: no module directory configured", name)
	}
	path := filepath.Join(e.moduleDir, name+".yaml")
	m, err := schema.LoadModule(path)
	if err != nil {
		return nil, err
	}
	if errs := schema.ValidateModule(m); len(errs) > 0 {
		return nil, fmt.Errorf("module %q invalid: %s", name, errs[0].Error())
	}
	e.modules[name] = m
	return m, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	return time.ParseDuration(s)
}
