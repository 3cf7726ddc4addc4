package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/stepflow/pkg/monitor"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show and reset execution metrics",
}

var metricsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the execution metrics report",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}
		fmt.Print(e.Monitor.Report())
		return nil
	},
}

var (
	metricsTopN  int
	metricsTopBy string
)

var metricsTopCmd = &cobra.Command{
	Use:   "top",
	Short: "Rank actions by count, average duration, or errors",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}
		var rank monitor.Rank
		switch metricsTopBy {
		case "count":
			rank = monitor.ByCount
		case "avg":
			rank = monitor.ByAvg
		case "errors":
			rank = monitor.ByErrors
		default:
			return fmt.Errorf("unknown ranking %q: use count, avg, or errors", metricsTopBy)
		}
		rows := e.Monitor.Top(metricsTopN, rank)
		if len(rows) == 0 {
			fmt.Println("No metrics recorded.")
			return nil
		}
		for _, m := range rows {
			fmt.Printf("  %-24s count=%d errors=%d avg=%s\n", m.Action, m.Count, m.Errors, m.Avg())
		}
		return nil
	},
}

var metricsResetCmd = &cobra.Command{
	Use:   "reset [action]",
	Short: "Reset metrics for one action, or all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}
		if len(args) == 1 {
			e.Monitor.Reset(args[0])
			fmt.Printf("✓ metrics reset for %s\n", args[0])
			return nil
		}
		e.Monitor.ResetAll()
		fmt.Println("✓ all metrics reset")
		return nil
	},
}

func init() {
	metricsTopCmd.Flags().IntVar(&metricsTopN, "n", 10, "Number of actions to show (0 = all)")
	metricsTopCmd.Flags().StringVar(&metricsTopBy, "by", "count", "Ranking: count, avg, or errors")

	metricsCmd.AddCommand(metricsShowCmd)
	metricsCmd.AddCommand(metricsTopCmd)
	metricsCmd.AddCommand(metricsResetCmd)
}
