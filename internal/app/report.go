package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"eodbars/internal/storage"
)

const detailPreview = 200

// QACheck runs every quality check for one symbol and prints the results. Missing
// bounds default to the last 30 days.
func (a *App) QACheck(ctx context.Context, symbol string, r DateRange) error {
	r, err := a.resolveRange(r, 30)
	if err != nil {
		return err
	}
	c, err := a.open(ctx, nil)
	if err != nil {
		return err
	}
	defer c.close()

	ticker := normalizeSymbol(symbol)
	fmt.Fprintf(a.Out, "Running QA checks for %s from %s to %s\n", ticker, r.Start.Format(storage.DateLayout), r.End.Format(storage.DateLayout))
	logs, runErr := c.quality.RunAll(ctx, ticker, r.Start, r.End)

	fmt.Fprintln(a.Out, "\nResults:")
	for _, entry := range logs {
		fmt.Fprintf(a.Out, "\n%s:\n", strings.ToUpper(string(entry.CheckType)))
		fmt.Fprintf(a.Out, "  Severity: %s\n", entry.Severity)
		fmt.Fprintf(a.Out, "  Issues: %d\n", entry.IssueCount)
		if len(entry.Details) > 0 {
			fmt.Fprintf(a.Out, "  Details: %s\n", preview(string(entry.Details)))
		}
	}
	return runErr
}

// IssueOptions filter the quality log view.
type IssueOptions struct {
	Symbol   string
	Days     int
	Severity storage.Severity
}

// ViewIssues prints unresolved quality log entries from the last Days, newest first.
func (a *App) ViewIssues(ctx context.Context, opts IssueOptions) error {
	if opts.Days <= 0 {
		opts.Days = 7
	}
	since := a.now().UTC().Add(-time.Duration(opts.Days) * 24 * time.Hour)

	return a.withStore(ctx, func(store storage.Repository) error {
		logs, err := store.ListQualityLogs(ctx, storage.QualityLogFilter{
			Symbol:   normalizeSymbol(opts.Symbol),
			Severity: opts.Severity,
			Since:    since,
		})
		if err != nil {
			return err
		}
		if len(logs) == 0 {
			fmt.Fprintln(a.Out, "No issues found")
			return nil
		}

		fmt.Fprintf(a.Out, "Found %d issues:\n\n", len(logs))
		writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Time (UTC)\tSymbol\tCheck\tSeverity\tIssues\tRange\tDetails")
		for _, entry := range logs {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%d\t%s..%s\t%s\n",
				entry.CheckTime.UTC().Format(time.RFC3339),
				entry.Symbol,
				entry.CheckType,
				entry.Severity,
				entry.IssueCount,
				entry.DateRangeStart.Format(storage.DateLayout),
				entry.DateRangeEnd.Format(storage.DateLayout),
				preview(string(entry.Details)),
			)
		}
		return writer.Flush()
	})
}

func preview(v string) string {
	v = sanitizeInline(v)
	if len(v) > detailPreview {
		return v[:detailPreview] + "..."
	}
	return v
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}
