package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"eodbars/internal/storage"
)

// SymbolOptions describe a symbol to register.
type SymbolOptions struct {
	Symbol    string
	Name      string
	Exchange  string
	AssetType string
	Sector    string
	Industry  string
}

// AddSymbol registers a new active symbol. An existing symbol is left untouched.
func (a *App) AddSymbol(ctx context.Context, opts SymbolOptions) error {
	ticker := normalizeSymbol(opts.Symbol)
	if ticker == "" {
		return errors.New("symbol is required")
	}
	assetType := opts.AssetType
	if assetType == "" {
		assetType = "equity"
	}

	return a.withStore(ctx, func(store storage.Repository) error {
		added, err := store.AddSymbol(ctx, storage.Symbol{
			Symbol:     ticker,
			Name:       opts.Name,
			Exchange:   opts.Exchange,
			AssetType:  assetType,
			Sector:     opts.Sector,
			Industry:   opts.Industry,
			IsActive:   true,
			DataSource: a.Config.Provider.Bars,
		})
		if err != nil {
			return err
		}
		if added {
			fmt.Fprintf(a.Out, "Successfully added symbol: %s\n", ticker)
		} else {
			fmt.Fprintf(a.Out, "Symbol %s already exists\n", ticker)
		}
		return nil
	})
}

// ListSymbols prints active symbols, or every symbol when all is set.
func (a *App) ListSymbols(ctx context.Context, all bool) error {
	return a.withStore(ctx, func(store storage.Repository) error {
		symbols, err := store.ListSymbols(ctx, !all)
		if err != nil {
			return err
		}
		label := "Active symbols"
		if all {
			label = "All symbols"
		}
		fmt.Fprintf(a.Out, "%s (%d):\n", label, len(symbols))
		for _, sym := range symbols {
			line := "  - " + sym.Symbol
			if all && !sym.IsActive {
				line += " (inactive)"
			}
			fmt.Fprintln(a.Out, line)
		}
		return nil
	})
}

// SetActive toggles whether the scheduled jobs process a symbol.
func (a *App) SetActive(ctx context.Context, symbol string, active bool) error {
	ticker := normalizeSymbol(symbol)
	return a.withStore(ctx, func(store storage.Repository) error {
		if err := store.SetSymbolActive(ctx, ticker, active); err != nil {
			return err
		}
		state := "inactive"
		if active {
			state = "active"
		}
		fmt.Fprintf(a.Out, "Symbol %s is now %s\n", ticker, state)
		return nil
	})
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
