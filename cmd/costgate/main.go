// Costgate is a cost-aware chat gateway. It decides per turn whether a web
// search is worth paying for, caches results, compresses long histories
// and reports what every turn cost.
//
// Configuration is read from ~/.config/costgate/config.yaml (or --config)
// and environment variables such as LLM_API_KEY and SERVER_HTTP_PORT.
//
// Usage:
//
//	# Start the HTTP API
//	costgate serve
//
//	# Remove expired cache, decision and statistics rows once
//	costgate sweep
//
//	# Show the last week of usage
//	costgate analytics --from 2026-10-01 --to 2026-10-07
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath overrides the default config file location.
	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "costgate",
	Short: "Cost-aware chat gateway with search gating",
	Long: `costgate answers chat turns through an upstream model, deciding per turn
whether a paid web search is needed, reusing cached results and compressing
long conversations. Every decision and every dollar is recorded for analytics.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/costgate/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(analyticsCmd)
	rootCmd.AddCommand(versionCmd)
}
