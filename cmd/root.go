// Package cmd wires the chug subcommands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chug",
	Short: "A user-space package manager for prebuilt bottles",
	Long: `Chug installs prebuilt binary packages ("bottles") from the Homebrew
package index into a per-user prefix. No root, no compiler: bottles are
downloaded, verified, patched for your prefix and symlinked into your
bin directory.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI, exiting non-zero on any error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
