package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"eodbars/internal/app"
	"eodbars/internal/storage"
)

var (
	qaStart, qaEnd string
	issuesSymbol   string
	issuesDays     int
	issuesSeverity string
)

var qaCheckCmd = &cobra.Command{
	Use:   "qa-check SYMBOL",
	Short: "Run duplicate, completeness and anomaly checks (defaults to the last 30 days)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := parseRange(qaStart, qaEnd)
		if err != nil {
			return err
		}
		return getApp().QACheck(cmd.Context(), args[0], r)
	},
}

var viewIssuesCmd = &cobra.Command{
	Use:   "view-issues",
	Short: "Show unresolved quality log entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if issuesDays <= 0 {
			return fmt.Errorf("--days must be greater than zero")
		}
		opts := app.IssueOptions{Symbol: issuesSymbol, Days: issuesDays}
		if issuesSeverity != "" {
			sev, err := storage.ParseSeverity(issuesSeverity)
			if err != nil {
				return err
			}
			opts.Severity = sev
		}
		return getApp().ViewIssues(cmd.Context(), opts)
	},
}

func init() {
	addRangeFlags(qaCheckCmd, &qaStart, &qaEnd)

	viewIssuesCmd.Flags().StringVar(&issuesSymbol, "symbol", "", "Filter by symbol")
	viewIssuesCmd.Flags().IntVar(&issuesDays, "days", 7, "Days to look back")
	viewIssuesCmd.Flags().StringVar(&issuesSeverity, "severity", "", "Filter by severity (info, warning, error)")
}
