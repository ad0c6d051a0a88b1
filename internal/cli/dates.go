package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"eodbars/internal/app"
	"eodbars/internal/storage"
)

// parseDate parses a YYYY-MM-DD flag value; empty yields the zero time.
func parseDate(flag, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(storage.DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s value %q: want YYYY-MM-DD", flag, value)
	}
	return t, nil
}

// parseRange reads --start-date and --end-date.
func parseRange(start, end string) (app.DateRange, error) {
	from, err := parseDate("start-date", start)
	if err != nil {
		return app.DateRange{}, err
	}
	to, err := parseDate("end-date", end)
	if err != nil {
		return app.DateRange{}, err
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return app.DateRange{}, fmt.Errorf("--start-date must not be after --end-date")
	}
	return app.DateRange{Start: from, End: to}, nil
}

func addRangeFlags(cmd *cobra.Command, start, end *string) {
	cmd.Flags().StringVar(start, "start-date", "", "Start date (YYYY-MM-DD, inclusive)")
	cmd.Flags().StringVar(end, "end-date", "", "End date (YYYY-MM-DD, inclusive; defaults to today)")
}
