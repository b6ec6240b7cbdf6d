package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// sweepCmd runs one maintenance sweep.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired cache entries and old decisions and statistics",
	Long: `Run one maintenance sweep against the store and print the report as JSON.

Examples:
  # Sweep the default database
  costgate sweep

  # Sweep another database
  STORE_PATH=/var/lib/costgate/costgate.db costgate sweep`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	b, err := newBase(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close(ctx)

	report, sweepErr := b.sweeper().Sweep(ctx)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if sweepErr != nil {
		return fmt.Errorf("sweep finished with errors: %w", sweepErr)
	}
	return nil
}
