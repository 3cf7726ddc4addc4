package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Manage Lua plugins",
}

var pluginsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cataloged plugins",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}
		statuses := e.Plugins.List()
		if len(statuses) == 0 {
			fmt.Println("No plugins cataloged.")
			return nil
		}
		for _, s := range statuses {
			state := "disabled"
			if s.Descriptor.Enabled {
				state = "enabled"
			}
			loaded := ""
			if s.Loaded {
				loaded = " [loaded]"
			}
			fmt.Printf("  %-24s %-8s %s%s\n", s.Descriptor.Name, s.Descriptor.Version, state, loaded)
			if len(s.Actions) > 0 {
				fmt.Printf("    actions: %s\n", strings.Join(s.Actions, ", "))
			}
		}
		return nil
	},
}

var pluginsDiscoverCmd = &cobra.Command{
	Use:   "discover [dir]",
	Short: "Scan a directory for plugin descriptors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}
		found, err := e.Plugins.Discover(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ %d plugin(s) cataloged\n", len(found))
		for _, name := range found {
			fmt.Printf("  %s\n", name)
		}
		return nil
	},
}

var pluginsLoadCmd = &cobra.Command{
	Use:   "load [name]",
	Short: "Load a cataloged plugin and register its actions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}
		if err := e.Plugins.Load(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ loaded %s\n", args[0])
		return nil
	},
}

var pluginsUnloadCmd = &cobra.Command{
	Use:   "unload [name]",
	Short: "Unload a plugin and unregister its actions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}
		if err := e.Plugins.Unload(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ unloaded %s\n", args[0])
		return nil
	},
}

var pluginsEnableCmd = &cobra.Command{
	Use:   "enable [name]",
	Short: "Enable a plugin",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setPluginEnabled(args[0], true) },
}

var pluginsDisableCmd = &cobra.Command{
	Use:   "disable [name]",
	Short: "Disable a plugin, unloading it if loaded",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setPluginEnabled(args[0], false) },
}

func setPluginEnabled(name string, enabled bool) error {
	e, err := newEngine()
	if err != nil {
		return err
	}
	if err := e.Plugins.SetEnabled(name, enabled); err != nil {
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
	pluginsCmd.AddCommand(pluginsListCmd)
	pluginsCmd.AddCommand(pluginsDiscoverCmd)
	pluginsCmd.AddCommand(pluginsLoadCmd)
	pluginsCmd.AddCommand(pluginsUnloadCmd)
	pluginsCmd.AddCommand(pluginsEnableCmd)
	pluginsCmd.AddCommand(pluginsDisableCmd)
}
