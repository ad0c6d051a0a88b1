// Package calendar computes expected trading days and finds missing bar dates.
//
// Trading days are approximated as Monday through Friday; exchange holidays are not
// modelled, so a holiday shows up as a missing date that repair cannot fill.
package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"eodbars/internal/storage"
)

// ExpectedTradingDays returns the weekdays in [start, end] in ascending order.
func ExpectedTradingDays(start, end time.Time) []time.Time {
	start, end = storage.Day(start), storage.Day(end)
	if start.After(end) {
		return nil
	}
	days := make([]time.Time, 0, int(end.Sub(start).Hours()/24)+1)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			days = append(days, d)
		}
	}
	return days
}

// BarDates is the slice of the bar store the analyzer needs.
type BarDates interface {
	ListBarDates(ctx context.Context, symbol string, start, end time.Time) ([]time.Time, error)
}

// GapAnalyzer compares stored bar dates with the expected trading calendar.
type GapAnalyzer struct {
	store  BarDates
	logger zerolog.Logger
}

// NewGapAnalyzer constructs a GapAnalyzer over store.
func NewGapAnalyzer(store BarDates, logger zerolog.Logger) *GapAnalyzer {
	return &GapAnalyzer{store: store, logger: logger.With().Str("component", "gap_analyzer").Logger()}
}

// FindMissing returns the expected trading days in [start, end] with no stored bar.
func (g *GapAnalyzer) FindMissing(ctx context.Context, symbol string, start, end time.Time) ([]time.Time, error) {
	expected := ExpectedTradingDays(start, end)
	if len(expected) == 0 {
		return nil, nil
	}

	observed, err := g.store.ListBarDates(ctx, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("find missing %s: %w", symbol, err)
	}
	seen := make(map[time.Time]struct{}, len(observed))
	for _, d := range observed {
		seen[storage.Day(d)] = struct{}{}
	}

	missing := make([]time.Time, 0)
	for _, d := range expected {
		if _, ok := seen[d]; !ok {
			missing = append(missing, d)
		}
	}

	g.logger.Debug().
		Str("symbol", symbol).
		Int("expected", len(expected)).
		Int("observed", len(observed)).
		Int("missing", len(missing)).
		Msg("gap analysis complete")
	return missing, nil
}
