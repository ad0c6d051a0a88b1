package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"eodbars/internal/app"
)

var (
	ingestStart, ingestEnd   string
	actionsStart, actionsEnd string
	repairLookback           int
	backfillYears            int
	backfillActions          bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest SYMBOL",
	Short: "Fetch and store daily bars (defaults to the last 365 days)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := parseRange(ingestStart, ingestEnd)
		if err != nil {
			return err
		}
		return getApp().Ingest(cmd.Context(), args[0], r)
	},
}

var repairCmd = &cobra.Command{
	Use:   "repair SYMBOL",
	Short: "Refetch weekday bars missing from the lookback window",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if repairLookback <= 0 {
			return fmt.Errorf("--lookback-days must be greater than zero")
		}
		return getApp().Repair(cmd.Context(), args[0], repairLookback)
	},
}

var actionsCmd = &cobra.Command{
	Use:   "corporate-actions SYMBOL",
	Short: "Fetch and store splits and dividends (defaults to the last 365 days)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := parseRange(actionsStart, actionsEnd)
		if err != nil {
			return err
		}
		return getApp().CorporateActions(cmd.Context(), args[0], r)
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Load historical bars for every active symbol",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Backfill(cmd.Context(), app.BackfillOptions{
			Years:       backfillYears,
			WithActions: backfillActions,
		})
	},
}

func init() {
	addRangeFlags(ingestCmd, &ingestStart, &ingestEnd)
	addRangeFlags(actionsCmd, &actionsStart, &actionsEnd)

	repairCmd.Flags().IntVar(&repairLookback, "lookback-days", 30, "Days to look back for missing bars")

	backfillCmd.Flags().IntVar(&backfillYears, "years", 2, "Years of history to load")
	backfillCmd.Flags().BoolVar(&backfillActions, "with-actions", true, "Also load corporate actions")
}
