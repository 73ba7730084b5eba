package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/alecgard/usagedash/internal/calendar"
	"github.com/spf13/cobra"
)

var (
	aggregateDate   string
	aggregateDays   int
	aggregateDryRun bool
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Aggregate and store token usage for a day",
	Long: "Aggregate runs the daily pipeline once. Without --date it aggregates today in the configured time zone. " +
		"--days walks backwards from the date, which is useful for backfilling after an outage.",
	RunE: runAggregate,
}

func init() {
	aggregateCmd.Flags().StringVar(&aggregateDate, "date", "", "day to aggregate (YYYY-MM-DD, default: today)")
	aggregateCmd.Flags().IntVar(&aggregateDays, "days", 1, "number of consecutive days ending at --date")
	aggregateCmd.Flags().BoolVar(&aggregateDryRun, "dry-run", false, "compute and print without writing")
	rootCmd.AddCommand(aggregateCmd)
}

func runAggregate(cmd *cobra.Command, args []string) error {
	setupLogger()

	if aggregateDays < 1 {
		return fmt.Errorf("--days must be at least 1")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	end := a.clock.Today()
	if aggregateDate != "" {
		end, err = calendar.Parse(aggregateDate)
		if err != nil {
			return err
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	for i := aggregateDays - 1; i >= 0; i-- {
		date := end.AddDays(-i)

		runCtx, runCancel := context.WithTimeout(ctx, a.cfg.Aggregation.RunTimeout)
		run := a.pipeline.RunDaily
		if aggregateDryRun {
			run = a.pipeline.Estimate
		}
		res, err := run(runCtx, date)
		runCancel()
		if err != nil {
			return fmt.Errorf("aggregating %s: %w", date, err)
		}

		if err := enc.Encode(map[string]any{
			"date":     date.String(),
			"noData":   res.NoData,
			"logCount": res.LogCount,
			"rows":     res.Rows(),
		}); err != nil {
			return err
		}
	}
	return nil
}
