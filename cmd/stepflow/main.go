package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/stepflow/pkg/handlers"
	"github.com/ormasoftchile/stepflow/pkg/runtime"
	"github.com/ormasoftchile/stepflow/pkg/schema"
	"github.com/ormasoftchile/stepflow/pkg/vars"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

var (
	flagConfig  string
	flagModules string
	flagPlugins string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "stepflow",
	Short: "Declarative step automation engine",
	Long:  "stepflow — run declarative step documents with conditionals, loops, module includes, and pluggable action handlers.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newEngine builds an engine from the global flags. Plugins found under
// --plugins are discovered and, when enabled, loaded before any command
// logic runs.
func newEngine() (*runtime.Engine, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if flagVerbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	e, err := runtime.NewEngine(runtime.Options{
		ConfigPath: flagConfig,
		ModuleDir:  flagModules,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	e.Registry.AutoDiscover(handlers.Builtin(logger))
	if flagPlugins != "" {
		if _, err := e.Plugins.Discover(flagPlugins); err != nil {
			return nil, fmt.Errorf("discover plugins: %w", err)
		}
		e.Plugins.LoadAll()
	}
	return e, nil
}

// --- run ---

var runVars []string

var runCmd = &cobra.Command{
	Use:   "run [flow.yaml]",
	Short: "Run a flow file",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	e, err := newEngine()
	if err != nil {
		return err
	}

	for _, v := range runVars {
		parts := strings.SplitN(v, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid --var %q: expected key=value", v)
		}
		if err := e.Vars.Set(parts[0], parts[1], vars.ScopeSession); err != nil {
			return err
		}
	}

	res, err := e.Run(context.Background(), mustLoadFlow(args[0]))
	if res != nil {
		fmt.Printf("Run ID: %s\n", res.RunID)
		fmt.Printf("Steps executed: %d\n", res.Executed)
		for _, f := range res.Failures {
			fmt.Fprintf(os.Stderr, "  ✗ %s: %s\n", f.Step, f.Error)
		}
		fmt.Printf("Status: %s\n", res.Status)
	}
	if err != nil {
		return err
	}
	if res != nil && len(res.Failures) > 0 {
		os.Exit(1)
	}
	return nil
}

func mustLoadFlow(path string) *schema.Flow {
	f, err := schema.LoadFlow(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load flow: %v\n", err)
		os.Exit(1)
	}
	return f
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate [flow.yaml]",
	Short: "Validate a flow file against the schema",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	flow, err := schema.LoadFlow(args[0])
	if err != nil {
		return err
	}
	errs := schema.ValidateFlow(flow)
	if len(errs) > 0 {
		fmt.Fprintf(os.Stderr, "Validation failed: %d error(s)\n", len(errs))
		for i, e := range errs {
			fmt.Fprintf(os.Stderr, "  %d. %s\n", i+1, e.Error())
		}
		return fmt.Errorf("validation failed with %d error(s)", len(errs))
	}
	fmt.Printf("✓ %s is valid (%d steps)\n", flow.Name, len(flow.Steps))
	return nil
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("stepflow %s (build: %s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Handler config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&flagModules, "modules", "", "Directory containing reusable step modules")
	rootCmd.PersistentFlags().StringVar(&flagPlugins, "plugins", "", "Directory containing Lua plugins")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log engine activity to stderr")

	runCmd.Flags().StringArrayVar(&runVars, "var", nil, "Set a session variable (key=value), repeatable")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(handlersCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(pluginsCmd)
	rootCmd.AddCommand(schemaCmd)
}
