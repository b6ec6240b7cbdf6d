package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "costgate %s\n", version)
		fmt.Fprintf(out, "  Git commit: %s\n", gitCommit)
		fmt.Fprintf(out, "  Build date: %s\n", buildDate)
		fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
	},
}
