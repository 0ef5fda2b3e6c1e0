package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed bottles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openCatalog()
		if err != nil {
			return err
		}

		bottles, err := store.AllBottles()
		if err != nil {
			return err
		}
		for _, b := range bottles {
			fmt.Printf("%s %s\n", b.Name, b.Version)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
