package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:     "manyshot",
	Short:   "Repeated model sampling and output analysis",
	Long:    "Manyshot samples a text-generation model repeatedly, saves every completion as a correlated record, and analyzes the saved outputs.",
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
