package cmd

import (
	"fmt"

	"chug/internal/planner"

	"github.com/spf13/cobra"
)

var removeAll bool

var removeCmd = &cobra.Command{
	Use:   "remove <bottles...>",
	Short: "Remove bottles, pruning dependencies nothing else needs",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if removeAll {
			return runPlan(func(p *planner.Planner) error {
				p.RemoveAll()
				return nil
			})
		}
		if len(args) == 0 {
			return fmt.Errorf("must specify one or more bottles to remove (or --all)")
		}
		return runPlan(func(p *planner.Planner) error {
			return p.Remove(args)
		})
	},
}

func init() {
	removeCmd.Flags().BoolVar(&removeAll, "all", false, "Remove every installed bottle")
	rootCmd.AddCommand(removeCmd)
}
