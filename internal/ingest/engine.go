// Package ingest fetches daily bars and corporate actions from upstream and writes
// them idempotently to the store.
package ingest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"eodbars/internal/metrics"
	"eodbars/internal/provider"
	"eodbars/internal/storage"
)

// GapFinder reports expected trading days without a stored bar.
type GapFinder interface {
	FindMissing(ctx context.Context, symbol string, start, end time.Time) ([]time.Time, error)
}

// Engine ingests and repairs daily bars.
type Engine struct {
	source  provider.BarSource
	store   storage.BarStore
	gaps    GapFinder
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// Option customises an Engine.
type Option func(*Engine)

// WithMetrics records stored bars and fetch failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the clock used by Repair.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine wires a bar source, store and gap finder.
func NewEngine(source provider.BarSource, store storage.BarStore, gaps GapFinder, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		source: source,
		store:  store,
		gaps:   gaps,
		logger: logger.With().Str("component", "ingest").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Fetch returns normalised bars for symbol in [start, end]. Upstream failures are
// logged and yield an empty result.
func (e *Engine) Fetch(ctx context.Context, symbol string, start, end time.Time) []storage.Bar {
	start, end = storage.Day(start), storage.Day(end)
	records, err := e.source.FetchBars(ctx, symbol, start, end)
	if err != nil {
		e.metrics.FetchFailed("bars")
		e.logger.Warn().Err(err).Str("symbol", symbol).Str("source", e.source.Name()).
			Time("start", start).Time("end", end).Msg("bar fetch failed; treating as empty")
		return nil
	}
	if len(records) == 0 {
		e.logger.Warn().Str("symbol", symbol).Str("source", e.source.Name()).
			Time("start", start).Time("end", end).Msg("no bars returned")
		return nil
	}

	byDay := make(map[time.Time]storage.Bar, len(records))
	incomplete, invalid := 0, 0
	for _, rec := range records {
		if !rec.Complete() {
			incomplete++
			continue
		}
		day := storage.Day(rec.Timestamp)
		if day.Before(start) || day.After(end) {
			continue
		}
		bar := storage.Bar{
			Symbol:    symbol,
			Timestamp: day,
			Open:      *rec.Open,
			High:      *rec.High,
			Low:       *rec.Low,
			Close:     *rec.Close,
			Volume:    *rec.Volume,
		}
		if err := bar.Validate(); err != nil {
			invalid++
			e.logger.Warn().Err(err).Msg("dropping bar that violates price invariants")
			continue
		}
		// Later rows for the same day win.
		byDay[day] = bar
	}

	bars := make([]storage.Bar, 0, len(byDay))
	for _, bar := range byDay {
		bars = append(bars, bar)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })

	if incomplete > 0 || invalid > 0 {
		e.logger.Info().Str("symbol", symbol).Int("incomplete", incomplete).Int("invalid", invalid).
			Int("kept", len(bars)).Msg("filtered upstream rows")
	}
	return bars
}

// Store upserts bars and returns the number submitted.
func (e *Engine) Store(ctx context.Context, bars []storage.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	n, err := e.store.UpsertBars(ctx, bars)
	if err != nil {
		return 0, fmt.Errorf("store %d bars: %w", len(bars), err)
	}
	return n, nil
}

// Ingest fetches and stores bars for symbol in [start, end].
func (e *Engine) Ingest(ctx context.Context, symbol string, start, end time.Time) (int, error) {
	bars := e.Fetch(ctx, symbol, start, end)
	if len(bars) == 0 {
		return 0, nil
	}
	n, err := e.Store(ctx, bars)
	if err != nil {
		return 0, fmt.Errorf("ingest %s: %w", symbol, err)
	}
	e.metrics.AddBars("ingest", n)
	e.logger.Info().Str("symbol", symbol).Int("bars", n).
		Str("start", storage.Day(start).Format(storage.DateLayout)).
		Str("end", storage.Day(end).Format(storage.DateLayout)).
		Msg("ingested bars")
	return n, nil
}

// Repair refetches the last lookbackDays once and stores only the bars for dates
// that were missing. A lookback of zero checks today only. It returns the number of
// bars stored.
func (e *Engine) Repair(ctx context.Context, symbol string, lookbackDays int) (int, error) {
	if lookbackDays < 0 {
		return 0, fmt.Errorf("repair %s: lookback days must not be negative, got %d", symbol, lookbackDays)
	}
	end := storage.Day(e.now())
	start := end.AddDate(0, 0, -lookbackDays)

	missing, err := e.gaps.FindMissing(ctx, symbol, start, end)
	if err != nil {
		return 0, fmt.Errorf("repair %s: %w", symbol, err)
	}
	if len(missing) == 0 {
		e.logger.Debug().Str("symbol", symbol).Msg("no gaps to repair")
		return 0, nil
	}

	wanted := make(map[time.Time]struct{}, len(missing))
	for _, d := range missing {
		wanted[storage.Day(d)] = struct{}{}
	}

	fetched := e.Fetch(ctx, symbol, start, end)
	fill := make([]storage.Bar, 0, len(missing))
	for _, bar := range fetched {
		if _, ok := wanted[bar.Timestamp]; ok {
			fill = append(fill, bar)
		}
	}

	n, err := e.Store(ctx, fill)
	if err != nil {
		return 0, fmt.Errorf("repair %s: %w", symbol, err)
	}
	e.metrics.AddBars("repair", n)
	e.logger.Info().Str("symbol", symbol).Int("missing", len(missing)).Int("repaired", n).Msg("repair complete")
	return n, nil
}
