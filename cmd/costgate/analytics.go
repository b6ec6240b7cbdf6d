package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/costgate/internal/analytics"
	"github.com/fyrsmithlabs/costgate/internal/store"
)

var (
	analyticsFrom string
	analyticsTo   string
	analyticsJSON bool
)

// analyticsCmd prints usage over a date range.
var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Show search, cache and cost statistics",
	Long: `Show search, cache and LLM cost statistics for an inclusive UTC date range.
Without --from the range covers the last 7 days ending at --to (default today).

Examples:
  # Last 7 days
  costgate analytics

  # A fixed range as JSON
  costgate analytics --from 2026-10-01 --to 2026-10-07 --json`,
	Args: cobra.NoArgs,
	RunE: runAnalytics,
}

func init() {
	analyticsCmd.Flags().StringVar(&analyticsFrom, "from", "", "first day, YYYY-MM-DD")
	analyticsCmd.Flags().StringVar(&analyticsTo, "to", "", "last day, YYYY-MM-DD")
	analyticsCmd.Flags().BoolVar(&analyticsJSON, "json", false, "print the report as JSON")
}

func runAnalytics(cmd *cobra.Command, _ []string) error {
	from, err := parseDay(analyticsFrom)
	if err != nil {
		return fmt.Errorf("invalid --from: %w", err)
	}
	to, err := parseDay(analyticsTo)
	if err != nil {
		return fmt.Errorf("invalid --to: %w", err)
	}

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

	report, err := analytics.New(b.store, nil).GetAnalytics(ctx, from, to)
	if err != nil {
		return err
	}

	if analyticsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return printReport(cmd.OutOrStdout(), report)
}

// parseDay reads YYYY-MM-DD as UTC midnight. Empty yields the zero time.
func parseDay(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(store.DateLayout, v, time.UTC)
}

func printReport(out io.Writer, r *analytics.Report) error {
	s := r.Summary
	fmt.Fprintf(out, "Analytics %s to %s\n\n", r.From, r.To)
	fmt.Fprintf(out, "Requests:          %d\n", s.TotalRequests)
	fmt.Fprintf(out, "Searches:          %d (%.1f%%)\n", s.SearchTriggered, s.SearchRate*100)
	fmt.Fprintf(out, "Cache hits:        %d (%.1f%%)\n", s.CacheHits, s.CacheHitRate*100)
	fmt.Fprintf(out, "Search cost:       $%.4f\n", s.TotalSearchCost)
	fmt.Fprintf(out, "Saved by cache:    $%.4f\n", s.TotalCostSaved)
	fmt.Fprintf(out, "LLM cost:          $%.4f\n", s.LLMCost)
	fmt.Fprintf(out, "Prompt cache save: $%.4f\n", s.LLMCacheSavings)
	fmt.Fprintf(out, "Total cost:        $%.4f\n", s.TotalCost)
	fmt.Fprintf(out, "Avg decision:      %.1fms\n\n", s.AvgDecisionLatencyMS)

	tiers := make([]store.DecisionTier, 0, len(r.TierDistribution))
	for t := range r.TierDistribution {
		tiers = append(tiers, t)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i] < tiers[j] })

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIER\tDECISIONS\tSHARE")
	for _, t := range tiers {
		share := r.TierDistribution[t]
		fmt.Fprintf(w, "%s\t%d\t%.1f%%\n", t, share.Count, share.Percent)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "DATE\tREQUESTS\tSEARCHES\tCACHE HITS\tSEARCH COST\tSAVED")
	for _, d := range r.Daily {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t$%.4f\t$%.4f\n",
			d.Date, d.TotalRequests, d.SearchTriggered, d.CacheHits, d.TotalSearchCost, d.TotalCostSaved)
	}

	if len(r.Costs) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "CLASS\tCALLS\tINPUT\tOUTPUT\tCACHED\tCOST")
		for _, c := range r.Costs {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t$%.4f\n",
				c.RequestClass, c.Calls, c.InputTokens, c.OutputTokens, c.CachedTokens, c.TotalCost)
		}
	}
	return w.Flush()
}
