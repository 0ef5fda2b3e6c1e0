package cmd

import (
	"fmt"

	"chug/internal/dirs"
	"chug/internal/formula"

	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"
)

const maxSearchResults = 25

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Fuzzy-search the formula index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := dirs.Default()
		if err != nil {
			return err
		}
		index, err := formula.Default(paths.Cache)
		if err != nil {
			return err
		}

		formulae := index.All()
		names := make([]string, len(formulae))
		for i, f := range formulae {
			names[i] = f.Name
		}

		matches := fuzzy.Find(args[0], names)
		if len(matches) == 0 {
			fmt.Println("No matching formulae.")
			return nil
		}
		if len(matches) > maxSearchResults {
			matches = matches[:maxSearchResults]
		}

		for _, m := range matches {
			f := formulae[m.Index]
			if f.Desc != "" {
				fmt.Printf("%s %s - %s\n", f.Name, f.Versions.Stable, f.Desc)
			} else {
				fmt.Printf("%s %s\n", f.Name, f.Versions.Stable)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
}
