package cmd

import (
	"fmt"
	"sort"

	"chug/internal/catalog"

	"github.com/charmbracelet/lipgloss/tree"
	"github.com/spf13/cobra"
)

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Show installed bottles as a dependency tree",
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
		deps, err := store.AllDependencies()
		if err != nil {
			return err
		}

		fmt.Println(buildTree(bottles, deps))
		return nil
	},
}

// buildTree renders the forest rooted at the user-requested bottles.
// A bottle reached more than once is expanded the first time and shown
// as a "(*)" leaf afterwards.
func buildTree(bottles []catalog.DownloadedBottle, deps []catalog.Dependency) *tree.Tree {
	byID := make(map[int64]catalog.DownloadedBottle, len(bottles))
	for _, b := range bottles {
		byID[b.ID] = b
	}

	const rootKey = int64(-1)
	children := make(map[int64][]int64)
	for _, d := range deps {
		key := rootKey
		if d.DependentID != nil {
			key = *d.DependentID
		}
		children[key] = append(children[key], d.DependencyID)
	}
	for key := range children {
		ids := children[key]
		sort.Slice(ids, func(i, j int) bool { return byID[ids[i]].Name < byID[ids[j]].Name })
	}

	processed := make(map[int64]bool)
	var build func(parent *tree.Tree, ids []int64)
	build = func(parent *tree.Tree, ids []int64) {
		for _, id := range ids {
			b := byID[id]
			label := fmt.Sprintf("%s %s", b.Name, b.Version)
			if processed[id] {
				parent.Child(label + " (*)")
				continue
			}
			processed[id] = true
			node := tree.Root(label)
			build(node, children[id])
			parent.Child(node)
		}
	}

	t := tree.Root("Installed bottles:")
	build(t, children[rootKey])
	return t
}

func init() {
	rootCmd.AddCommand(treeCmd)
}
