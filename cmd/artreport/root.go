package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "artreport",
		Short: "artreport turns gallery recommendations into a PDF report",
		Long: `artreport fetches the image of every recommended artwork through the image
relay and lays the records out as a paginated PDF, one page per artwork.`,
		SilenceUsage: true,
	}
	// Persistent flags (available to all commands)
	root.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().String("config", "", "Optional YAML config file (overrides ART_CONFIG)")

	root.AddCommand(newExportCmd())
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
