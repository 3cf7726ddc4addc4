package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var handlersCmd = &cobra.Command{
	Use:   "handlers",
	Short: "Inspect and manage action handlers",
}

var handlersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered handlers with their enablement state",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}
		names := e.Registry.Names()
		if len(names) == 0 {
			fmt.Println("No handlers registered.")
			return nil
		}
		for _, name := range names {
			state := "enabled"
			if !e.Config.Enabled(name) {
				state = "disabled"
			}
			line := fmt.Sprintf("  %-24s %s", name, state)
			if aliases := e.Registry.Aliases(name); len(aliases) > 0 {
				line += "  (aliases: " + strings.Join(aliases, ", ") + ")"
			}
			fmt.Println(line)
		}
		return nil
	},
}

var handlersInfoCmd = &cobra.Command{
	Use:   "info [name]",
	Short: "Show one handler's effective settings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}
		name := args[0]
		if !e.Registry.Registered(name) && !e.Config.Has(name) {
			return fmt.Errorf("handler %q not found", name)
		}

		hs := e.Config.Get(name)
		retries, delay := e.Config.EffectiveRetry(name)
		fmt.Printf("Handler %s\n", name)
		fmt.Printf("  Enabled:     %t\n", hs.Enabled)
		fmt.Printf("  Timeout:     %s\n", e.Config.EffectiveTimeout(name))
		fmt.Printf("  Retries:     %d (delay %s)\n", retries, delay)
		fmt.Printf("  Priority:    %d\n", hs.Priority)
		if len(hs.Tags) > 0 {
			fmt.Printf("  Tags:        %s\n", strings.Join(hs.Tags, ", "))
		}
		if hs.Description != "" {
			fmt.Printf("  Description: %s\n", hs.Description)
		}
		if aliases := e.Registry.Aliases(name); len(aliases) > 0 {
			fmt.Printf("  Aliases:     %s\n", strings.Join(aliases, ", "))
		}
		return nil
	},
}

var handlersEnableCmd = &cobra.Command{
	Use:   "enable [name]",
	Short: "Enable a handler",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setHandlerEnabled(args[0], true) },
}

var handlersDisableCmd = &cobra.Command{
	Use:   "disable [name]",
	Short: "Disable a handler",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setHandlerEnabled(args[0], false) },
}

func setHandlerEnabled(name string, enabled bool) error {
	e, err := newEngine()
	if err != nil {
		return err
	}
	if err := e.Config.SetEnabled(name, enabled); err != nil {
		return err
	}
	state := "enabled"
	if !enabled {
		state = "disabled"
	}
	fmt.Printf("✓ %s %s\n", name, state)
	return nil
}

func init() {
	handlersCmd.AddCommand(handlersListCmd)
	handlersCmd.AddCommand(handlersInfoCmd)
	handlersCmd.AddCommand(handlersEnableCmd)
	handlersCmd.AddCommand(handlersDisableCmd)
}
