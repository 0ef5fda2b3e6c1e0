package cmd

import (
	"chug/internal/planner"

	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:   "add <bottles...>",
	Short: "Install bottles and their dependencies",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPlan(func(p *planner.Planner) error {
			return p.Add(args)
		})
	},
}

func init() {
	rootCmd.AddCommand(addCmd)
}
