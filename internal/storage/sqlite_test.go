package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate(context.Background(), MigrateOptions{}))
	return store
}

func date(s string) time.Time {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func bar(symbol, day string, close float64, volume int64) Bar {
	c := decimal.NewFromFloat(close)
	return Bar{
		Symbol:    symbol,
		Timestamp: date(day),
		Open:      c,
		High:      c.Add(decimal.NewFromInt(1)),
		Low:       c.Sub(decimal.NewFromInt(1)),
		Close:     c,
		Volume:    volume,
	}
}

func TestSQLiteUpsertBarsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	bars := []Bar{
		bar("XYZ", "2024-01-02", 10, 100),
		bar("XYZ", "2024-01-03", 11, 200),
	}

	n, err := store.UpsertBars(ctx, bars)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	first, err := store.ListBars(ctx, "XYZ", date("2024-01-01"), date("2024-01-31"))
	require.NoError(t, err)

	n, err = store.UpsertBars(ctx, bars)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	second, err := store.ListBars(ctx, "XYZ", date("2024-01-01"), date("2024-01-31"))
	require.NoError(t, err)

	require.Len(t, second, 2)
	assert.Equal(t, first, second)
}

func TestSQLiteUpsertOverwritesOnlyOHLCV(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	_, err := store.UpsertBars(ctx, []Bar{bar("XYZ", "2024-01-02", 10, 100)})
	require.NoError(t, err)
	_, err = store.db.ExecContext(ctx, `UPDATE bars SET adjusted_close = '9.5', split_adjusted = 1 WHERE symbol = 'XYZ'`)
	require.NoError(t, err)

	_, err = store.UpsertBars(ctx, []Bar{bar("XYZ", "2024-01-02", 12, 300)})
	require.NoError(t, err)

	got, err := store.ListBars(ctx, "XYZ", date("2024-01-02"), date("2024-01-02"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Close.Equal(decimal.NewFromInt(12)))
	assert.Equal(t, int64(300), got[0].Volume)
	require.NotNil(t, got[0].AdjustedClose)
	assert.Equal(t, "9.5", got[0].AdjustedClose.String())
	assert.True(t, got[0].SplitAdjusted)
	assert.False(t, got[0].DividendAdjusted)
}

func TestSQLiteListBarDatesInclusiveRange(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	_, err := store.UpsertBars(ctx, []Bar{
		bar("XYZ", "2024-01-02", 10, 1),
		bar("XYZ", "2024-01-05", 10, 1),
		bar("XYZ", "2024-01-08", 10, 1),
		bar("ABC", "2024-01-03", 10, 1),
	})
	require.NoError(t, err)

	dates, err := store.ListBarDates(ctx, "XYZ", date("2024-01-02"), date("2024-01-05"))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{date("2024-01-02"), date("2024-01-05")}, dates)
}

func TestSQLiteCorporateActionsSkipExisting(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	ratio := decimal.NewFromInt(4)
	amount := decimal.RequireFromString("0.24")
	actions := []CorporateAction{
		{Symbol: "XYZ", Type: ActionSplit, ExDate: date("2024-06-10"), SplitRatio: &ratio},
		{Symbol: "XYZ", Type: ActionDividend, ExDate: date("2024-06-10"), DividendAmount: &amount},
	}

	n, err := store.InsertActionsIfAbsent(ctx, actions)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.InsertActionsIfAbsent(ctx, actions[:1])
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := store.ListActions(ctx, "XYZ", date("2024-01-01"), date("2024-12-31"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ActionDividend, got[0].Type)
	assert.Equal(t, "0.24", got[0].DividendAmount.String())
	assert.Equal(t, ActionSplit, got[1].Type)
	assert.Equal(t, "4", got[1].SplitRatio.String())
	assert.False(t, got[1].Processed)
}

func TestSQLiteSymbols(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	created, err := store.AddSymbol(ctx, Symbol{Symbol: "MSFT", AssetType: "equity", IsActive: true, DataSource: "twelvedata"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.AddSymbol(ctx, Symbol{Symbol: "MSFT", AssetType: "equity", IsActive: true, DataSource: "twelvedata"})
	require.NoError(t, err)
	assert.False(t, created)

	_, err = store.AddSymbol(ctx, Symbol{Symbol: "AAPL", AssetType: "equity", IsActive: true, DataSource: "twelvedata"})
	require.NoError(t, err)
	require.NoError(t, store.SetSymbolActive(ctx, "MSFT", false))

	active, err := store.ListSymbols(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "AAPL", active[0].Symbol)

	all, err := store.ListSymbols(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	assert.ErrorIs(t, store.SetSymbolActive(ctx, "NOPE", true), ErrSymbolNotFound)
}

func TestSQLiteQualityLogFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	entries := []QualityLog{
		{Symbol: "XYZ", CheckType: CheckDuplicate, Severity: SeverityError, CheckTime: now.Add(-time.Hour), IssueCount: 1,
			Details: json.RawMessage(`[{"timestamp":"2024-03-01T00:00:00Z","count":2}]`)},
		{Symbol: "XYZ", CheckType: CheckCompleteness, Severity: SeverityInfo, CheckTime: now.Add(-2 * time.Hour)},
		{Symbol: "ABC", CheckType: CheckAnomaly, Severity: SeverityWarning, CheckTime: now.Add(-30 * time.Minute), IssueCount: 3},
		{Symbol: "XYZ", CheckType: CheckAnomaly, Severity: SeverityWarning, CheckTime: now.AddDate(0, 0, -10)},
	}
	for i := range entries {
		entries[i].DateRangeStart = date("2024-02-01")
		entries[i].DateRangeEnd = date("2024-03-01")
		saved, err := store.AppendQualityLog(ctx, entries[i])
		require.NoError(t, err)
		assert.NotZero(t, saved.ID)
	}

	since := now.AddDate(0, 0, -7)
	all, err := store.ListQualityLogs(ctx, QualityLogFilter{Since: since})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "ABC", all[0].Symbol)
	assert.Equal(t, CheckCompleteness, all[2].CheckType)
	assert.Nil(t, all[2].Details)

	xyz, err := store.ListQualityLogs(ctx, QualityLogFilter{Since: since, Symbol: "XYZ", Severity: SeverityError})
	require.NoError(t, err)
	require.Len(t, xyz, 1)
	assert.JSONEq(t, `[{"timestamp":"2024-03-01T00:00:00Z","count":2}]`, string(xyz[0].Details))
	assert.Equal(t, date("2024-02-01"), xyz[0].DateRangeStart)

	_, err = store.db.ExecContext(ctx, `UPDATE data_quality_log SET resolved = 1 WHERE symbol = 'ABC'`)
	require.NoError(t, err)
	unresolved, err := store.ListQualityLogs(ctx, QualityLogFilter{Since: since})
	require.NoError(t, err)
	assert.Len(t, unresolved, 2)
	withResolved, err := store.ListQualityLogs(ctx, QualityLogFilter{Since: since, IncludeResolved: true})
	require.NoError(t, err)
	assert.Len(t, withResolved, 3)
}

func TestBarValidate(t *testing.T) {
	good := bar("XYZ", "2024-01-02", 10, 5)
	require.NoError(t, good.Validate())

	cases := map[string]func(b *Bar){
		"zero open":        func(b *Bar) { b.Open = decimal.Zero },
		"negative volume":  func(b *Bar) { b.Volume = -1 },
		"high below close": func(b *Bar) { b.High = b.Close.Sub(decimal.NewFromFloat(0.5)) },
		"low above open":   func(b *Bar) { b.Low = b.Open.Add(decimal.NewFromFloat(0.5)) },
		"empty symbol":     func(b *Bar) { b.Symbol = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			b := good
			mutate(&b)
			assert.Error(t, b.Validate())
		})
	}
}
