package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"eodbars/internal/metrics"
	"eodbars/internal/provider"
	"eodbars/internal/storage"
)

// ActionIngestor records splits and dividends without overwriting existing rows.
type ActionIngestor struct {
	source  provider.ActionSource
	store   storage.ActionStore
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewActionIngestor wires an action source and store. m may be nil.
func NewActionIngestor(source provider.ActionSource, store storage.ActionStore, m *metrics.Metrics, logger zerolog.Logger) *ActionIngestor {
	return &ActionIngestor{
		source:  source,
		store:   store,
		metrics: m,
		logger:  logger.With().Str("component", "corporate_actions").Logger(),
	}
}

// FetchActions returns splits and dividends with ex-dates in [start, end]. Upstream
// failures are logged and yield empty lists.
func (a *ActionIngestor) FetchActions(ctx context.Context, symbol string, start, end time.Time) provider.Actions {
	actions, err := a.source.FetchCorporateActions(ctx, symbol, storage.Day(start), storage.Day(end))
	if err != nil {
		a.metrics.FetchFailed("actions")
		a.logger.Warn().Err(err).Str("symbol", symbol).Str("source", a.source.Name()).Msg("corporate action fetch failed; treating as empty")
		return provider.Actions{}
	}
	return actions
}

// StoreActions inserts the actions not yet recorded for symbol and returns the number
// of new rows. Entries with a non-positive value are skipped.
func (a *ActionIngestor) StoreActions(ctx context.Context, symbol string, actions provider.Actions) (int, error) {
	rows := make([]storage.CorporateAction, 0, len(actions.Splits)+len(actions.Dividends))
	seen := make(map[string]struct{})
	add := func(typ storage.ActionType, ev provider.ActionEvent) {
		if !ev.Value.IsPositive() {
			a.logger.Warn().Str("symbol", symbol).Str("type", string(typ)).
				Str("value", ev.Value.String()).Msg("skipping corporate action with non-positive value")
			return
		}
		exDate := storage.Day(ev.ExDate)
		key := string(typ) + "|" + exDate.Format(storage.DateLayout)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}

		value := ev.Value
		row := storage.CorporateAction{Symbol: symbol, Type: typ, ExDate: exDate}
		if typ == storage.ActionSplit {
			row.SplitRatio = &value
		} else {
			row.DividendAmount = &value
		}
		rows = append(rows, row)
	}
	for _, ev := range actions.Splits {
		add(storage.ActionSplit, ev)
	}
	for _, ev := range actions.Dividends {
		add(storage.ActionDividend, ev)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := a.store.InsertActionsIfAbsent(ctx, rows)
	if err != nil {
		return 0, fmt.Errorf("store corporate actions %s: %w", symbol, err)
	}
	a.metrics.AddActions(n)
	return n, nil
}

// IngestActions fetches and stores corporate actions for symbol in [start, end].
func (a *ActionIngestor) IngestActions(ctx context.Context, symbol string, start, end time.Time) (int, error) {
	actions := a.FetchActions(ctx, symbol, start, end)
	if actions.Empty() {
		return 0, nil
	}
	n, err := a.StoreActions(ctx, symbol, actions)
	if err != nil {
		return 0, err
	}
	a.logger.Info().Str("symbol", symbol).
		Int("splits", len(actions.Splits)).
		Int("dividends", len(actions.Dividends)).
		Int("inserted", n).
		Msg("corporate actions ingested")
	return n, nil
}
