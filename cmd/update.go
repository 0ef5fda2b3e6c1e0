package cmd

import (
	"chug/internal/planner"

	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Refresh every installed bottle to its current stable version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPlan(func(p *planner.Planner) error {
			return p.Update()
		})
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)
}
