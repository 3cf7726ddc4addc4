package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/stepflow/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and manage handler configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show [handler]",
	Short: "Show globals, or one handler's settings",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}
		var doc any
		if len(args) == 1 {
			if !e.Config.Has(args[0]) {
				return fmt.Errorf("handler %q has no configuration", args[0])
			}
			doc = e.Config.Get(args[0])
		} else {
			handlers := make(map[string]config.HandlerSettings)
			for _, name := range e.Config.Handlers() {
				handlers[name] = e.Config.Get(name)
			}
			doc = config.Document{Globals: e.Config.Globals(), Handlers: handlers}
		}
		out, err := yaml.Marshal(doc)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set [handler] [field=value...]",
	Short: "Patch one handler's settings",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}
		patch := make(map[string]any, len(args)-1)
		for _, kv := range args[1:] {
			k, v, ok := splitKV(kv)
			if !ok {
				return fmt.Errorf("invalid assignment %q: expected field=value", kv)
			}
			patch[k] = v
		}
		warnings, err := e.Config.Update(args[0], patch)
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "  ⚠ %s\n", w)
		}
		if err != nil {
			return err
		}
		fmt.Printf("✓ updated %s\n", args[0])
		return nil
	},
}

var configImportMerge bool

var configImportCmd = &cobra.Command{
	Use:   "import [file.yaml]",
	Short: "Import configuration from a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}
		if err := e.Config.Import(args[0], configImportMerge); err != nil {
			return err
		}
		mode := "replaced"
		if configImportMerge {
			mode = "merged"
		}
		fmt.Printf("✓ configuration %s from %s\n", mode, args[0])
		return nil
	},
}

var configExportCmd = &cobra.Command{
	Use:   "export [file.yaml]",
	Short: "Export configuration to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}
		if err := e.Config.Export(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ configuration exported to %s\n", args[0])
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for inconsistencies",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}
		violations := e.Config.Validate()
		if len(violations) == 0 {
			fmt.Println("✓ configuration is consistent")
			return nil
		}
		fmt.Fprintf(os.Stderr, "Found %d problem(s):\n", len(violations))
		for _, v := range violations {
			fmt.Fprintf(os.Stderr, "  ✗ %s\n", v)
		}
		return fmt.Errorf("configuration has %d problem(s)", len(violations))
	},
}

func splitKV(kv string) (string, string, bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}

func init() {
	configImportCmd.Flags().BoolVar(&configImportMerge, "merge", false, "Merge into the current configuration instead of replacing it")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configImportCmd)
	configCmd.AddCommand(configExportCmd)
	configCmd.AddCommand(configValidateCmd)
}
