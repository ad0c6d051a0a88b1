package app

import (
	"context"
	"errors"
	"fmt"

	"eodbars/internal/storage"
)

// Ingest loads bars for one symbol. Missing bounds default to the last 365 days.
func (a *App) Ingest(ctx context.Context, symbol string, r DateRange) error {
	r, err := a.resolveRange(r, 365)
	if err != nil {
		return err
	}
	c, err := a.open(ctx, nil)
	if err != nil {
		return err
	}
	defer c.close()

	ticker := normalizeSymbol(symbol)
	fmt.Fprintf(a.Out, "Ingesting data for %s from %s to %s\n", ticker, r.Start.Format(storage.DateLayout), r.End.Format(storage.DateLayout))
	n, err := c.bars.Ingest(ctx, ticker, r.Start, r.End)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Successfully ingested %d bars\n", n)
	return nil
}

// Repair fills weekday gaps for one symbol over the last lookbackDays.
func (a *App) Repair(ctx context.Context, symbol string, lookbackDays int) error {
	c, err := a.open(ctx, nil)
	if err != nil {
		return err
	}
	defer c.close()

	ticker := normalizeSymbol(symbol)
	fmt.Fprintf(a.Out, "Repairing missing data for %s (lookback: %d days)\n", ticker, lookbackDays)
	n, err := c.bars.Repair(ctx, ticker, lookbackDays)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Repaired %d missing bars\n", n)
	return nil
}

// CorporateActions loads splits and dividends for one symbol. Missing bounds default
// to the last 365 days.
func (a *App) CorporateActions(ctx context.Context, symbol string, r DateRange) error {
	r, err := a.resolveRange(r, 365)
	if err != nil {
		return err
	}
	c, err := a.open(ctx, nil)
	if err != nil {
		return err
	}
	defer c.close()

	ticker := normalizeSymbol(symbol)
	fmt.Fprintf(a.Out, "Ingesting corporate actions for %s\n", ticker)
	n, err := c.actions.IngestActions(ctx, ticker, r.Start, r.End)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Successfully ingested %d corporate actions\n", n)
	return nil
}

// BackfillOptions configure a historical load for every active symbol.
type BackfillOptions struct {
	Years       int
	WithActions bool
}

// Backfill ingests the last Years of bars (and optionally corporate actions) for each
// active symbol. Failing symbols are reported and do not stop the run.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	if opts.Years <= 0 {
		return errors.New("years must be greater than zero")
	}
	c, err := a.open(ctx, nil)
	if err != nil {
		return err
	}
	defer c.close()

	end := storage.Day(a.now())
	start := end.AddDate(-opts.Years, 0, 0)

	symbols, err := c.store.ListSymbols(ctx, true)
	if err != nil {
		return err
	}
	if len(symbols) == 0 {
		fmt.Fprintln(a.Out, "No active symbols found")
		return nil
	}

	var failed []string
	total := 0
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := c.bars.Ingest(ctx, sym.Symbol, start, end)
		if err != nil {
			a.Logger.Error().Err(err).Str("symbol", sym.Symbol).Msg("backfill failed")
			failed = append(failed, sym.Symbol)
			continue
		}
		total += n
		fmt.Fprintf(a.Out, "%s: %d bars\n", sym.Symbol, n)

		if opts.WithActions {
			if _, err := c.actions.IngestActions(ctx, sym.Symbol, start, end); err != nil {
				a.Logger.Error().Err(err).Str("symbol", sym.Symbol).Msg("backfill corporate actions failed")
				failed = append(failed, sym.Symbol)
			}
		}
	}

	fmt.Fprintf(a.Out, "Backfill complete: %d bars across %d symbols\n", total, len(symbols))
	if len(failed) > 0 {
		return fmt.Errorf("backfill failed for %d symbol(s): %v", len(failed), failed)
	}
	return nil
}
