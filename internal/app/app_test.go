package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	chart "github.com/wcharczuk/go-chart/v2"

	"eodbars/internal/config"
	"eodbars/internal/storage"
)

const timeSeriesBody = `{
    "meta": {"symbol": "XYZ", "interval": "1day"},
    "values": [
        {"datetime": "2024-01-02", "open": "10.5", "high": "11", "low": "10", "close": "10.8", "volume": "1200"},
        {"datetime": "2024-01-03", "open": "", "high": "11", "low": "10", "close": "10.9", "volume": "900"},
        {"datetime": "2024-01-04", "open": "10.9", "high": "11.2", "low": "10.7", "close": "11.1", "volume": "1500"}
    ],
    "status": "ok"
}`

func testApp(t *testing.T, upstream http.Handler) (*App, *bytes.Buffer) {
	t.Helper()
	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		Database: config.DatabaseConfig{Driver: config.DriverSQLite, DSN: filepath.Join(t.TempDir(), "bars.db")},
		Provider: config.ProviderConfig{
			Bars:       config.ProviderTwelveData,
			TwelveData: config.TwelveDataConfig{BaseURL: srv.URL, APIKey: "k", RequestTimeout: time.Second},
		},
		Jobs:    config.JobsConfig{IngestWindowDays: 5, RepairLookbackDays: 30, ActionsWindowDays: 7, QualityWindowDays: 30},
		Quality: config.QualityConfig{MinBarsPerMonth: 20, SpikeThreshold: 5, VolumeSpikeThreshold: 10, MaxDetails: 100},
		Export:  config.ExportConfig{MaxDataPoints: 5000},
	}
	out := &bytes.Buffer{}
	a := NewApp(cfg, zerolog.Nop())
	a.Out = out
	a.now = func() time.Time { return time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC) }
	return a, out
}

func timeSeriesHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/time_series" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(timeSeriesBody))
	})
}

func jan(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

func TestSymbolCommands(t *testing.T) {
	a, out := testApp(t, http.NotFoundHandler())
	ctx := context.Background()

	require.NoError(t, a.AddSymbol(ctx, SymbolOptions{Symbol: " xyz ", Name: "XYZ Corp"}))
	require.NoError(t, a.AddSymbol(ctx, SymbolOptions{Symbol: "XYZ"}))
	require.NoError(t, a.AddSymbol(ctx, SymbolOptions{Symbol: "ABC"}))
	require.NoError(t, a.SetActive(ctx, "abc", false))

	out.Reset()
	require.NoError(t, a.ListSymbols(ctx, false))
	assert.Equal(t, "Active symbols (1):\n  - XYZ\n", out.String())

	out.Reset()
	require.NoError(t, a.ListSymbols(ctx, true))
	assert.Equal(t, "All symbols (2):\n  - ABC (inactive)\n  - XYZ\n", out.String())

	assert.ErrorIs(t, a.SetActive(ctx, "NOPE", true), storage.ErrSymbolNotFound)
}

func TestAddSymbolReportsExisting(t *testing.T) {
	a, out := testApp(t, http.NotFoundHandler())
	ctx := context.Background()

	require.NoError(t, a.AddSymbol(ctx, SymbolOptions{Symbol: "XYZ"}))
	require.NoError(t, a.AddSymbol(ctx, SymbolOptions{Symbol: "XYZ"}))
	assert.Equal(t, "Successfully added symbol: XYZ\nSymbol XYZ already exists\n", out.String())
	assert.Error(t, a.AddSymbol(ctx, SymbolOptions{Symbol: "  "}))
}

func TestIngestQAAndExport(t *testing.T) {
	a, out := testApp(t, timeSeriesHandler(t))
	ctx := context.Background()
	require.NoError(t, a.AddSymbol(ctx, SymbolOptions{Symbol: "XYZ"}))

	out.Reset()
	require.NoError(t, a.Ingest(ctx, "XYZ", DateRange{Start: jan(2), End: jan(4)}))
	assert.Contains(t, out.String(), "Successfully ingested 2 bars")

	out.Reset()
	require.NoError(t, a.QACheck(ctx, "XYZ", DateRange{Start: jan(1), End: jan(4)}))
	assert.Contains(t, out.String(), "DUPLICATE:")
	assert.Contains(t, out.String(), "COMPLETENESS:")
	assert.Contains(t, out.String(), "ANOMALY:")

	out.Reset()
	require.NoError(t, a.ViewIssues(ctx, IssueOptions{Symbol: "xyz", Severity: storage.SeverityWarning}))
	assert.Contains(t, out.String(), "Found 1 issues")
	assert.Contains(t, out.String(), "completeness")

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "out", "xyz.csv")
	parquetPath := filepath.Join(dir, "xyz.parquet")
	require.NoError(t, a.Export(ctx, ExportOptions{
		Symbol:      "XYZ",
		Range:       DateRange{Start: jan(1), End: jan(4)},
		CSVPath:     csvPath,
		ParquetPath: parquetPath,
	}))

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"XYZ", "2024-01-02", "10.5", "11", "10", "10.8", "1200", ""}, records[1])

	rows, err := parquet.ReadFile[barRow](parquetPath)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, jan(4).UnixMilli(), rows[1].Timestamp)
	assert.InDelta(t, 11.1, rows[1].Close, 1e-9)
	assert.Nil(t, rows[1].AdjustedClose)
}

func TestViewIssuesEmpty(t *testing.T) {
	a, out := testApp(t, http.NotFoundHandler())
	require.NoError(t, a.ViewIssues(context.Background(), IssueOptions{}))
	assert.Equal(t, "No issues found\n", out.String())
}

func TestIngestUpstreamFailureStoresNothing(t *testing.T) {
	a, out := testApp(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	require.NoError(t, a.Ingest(context.Background(), "XYZ", DateRange{Start: jan(2), End: jan(4)}))
	assert.Contains(t, out.String(), "Successfully ingested 0 bars")
}

func TestExportRequiresTarget(t *testing.T) {
	a, _ := testApp(t, http.NotFoundHandler())
	assert.Error(t, a.Export(context.Background(), ExportOptions{Symbol: "XYZ"}))
}

func TestOpenStoreRequiresDSN(t *testing.T) {
	a, _ := testApp(t, http.NotFoundHandler())
	a.Config.Database.DSN = ""
	assert.ErrorIs(t, a.ListSymbols(context.Background(), false), storage.ErrNotConfigured)
}

func TestResolveRange(t *testing.T) {
	a, _ := testApp(t, http.NotFoundHandler())

	r, err := a.resolveRange(DateRange{}, 30)
	require.NoError(t, err)
	assert.Equal(t, jan(5), r.End)
	assert.Equal(t, jan(5).AddDate(0, 0, -30), r.Start)

	_, err = a.resolveRange(DateRange{Start: jan(5), End: jan(1)}, 30)
	assert.Error(t, err)
}

func TestDownsampleBars(t *testing.T) {
	bars := make([]storage.Bar, 10)
	for i := range bars {
		bars[i] = storage.Bar{Timestamp: jan(1).AddDate(0, 0, i), Close: decimal.NewFromInt(int64(i))}
	}

	got := downsampleBars(bars, 4)
	require.Len(t, got, 4)
	assert.Equal(t, bars[0], got[0])
	assert.Equal(t, bars[9], got[3])
	assert.Len(t, downsampleBars(bars, 20), 10)
	assert.Equal(t, bars[9:], downsampleBars(bars, 1))
}

func TestPreviewTruncates(t *testing.T) {
	long := bytes.Repeat([]byte("a"), 250)
	assert.Len(t, preview(string(long)), detailPreview+3)
	assert.Equal(t, "a b", preview("a\nb"))
}

func seedBars(t *testing.T, a *App, bars ...storage.Bar) {
	t.Helper()
	ctx := context.Background()
	store, err := a.openStore(ctx)
	require.NoError(t, err)
	defer store.Close()
	_, err = store.UpsertBars(ctx, bars)
	require.NoError(t, err)
}

func flatBar(d int) storage.Bar {
	px := decimal.NewFromInt(100)
	return storage.Bar{Symbol: "XYZ", Timestamp: jan(d), Open: px, High: px, Low: px, Close: px, Volume: 500}
}

func TestExportPNGFlatSeries(t *testing.T) {
	a, _ := testApp(t, http.NotFoundHandler())
	seedBars(t, a, flatBar(2), flatBar(3), flatBar(4))

	path := filepath.Join(t.TempDir(), "flat.png")
	require.NoError(t, a.Export(context.Background(), ExportOptions{
		Symbol:  "XYZ",
		Range:   DateRange{Start: jan(1), End: jan(5)},
		PNGPath: path,
	}))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestExportPNGSkipsSingleBar(t *testing.T) {
	a, _ := testApp(t, http.NotFoundHandler())
	seedBars(t, a, flatBar(2))

	path := filepath.Join(t.TempDir(), "one.png")
	require.NoError(t, a.Export(context.Background(), ExportOptions{
		Symbol:  "XYZ",
		Range:   DateRange{Start: jan(1), End: jan(5)},
		PNGPath: path,
	}))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFlatRange(t *testing.T) {
	assert.Nil(t, flatRange([]float64{1, 2}))
	assert.Nil(t, flatRange(nil))

	r, ok := flatRange([]float64{100, 100}).(*chart.ContinuousRange)
	require.True(t, ok)
	assert.Less(t, r.Min, 100.0)
	assert.Greater(t, r.Max, 100.0)

	r, ok = flatRange([]float64{0, 0}).(*chart.ContinuousRange)
	require.True(t, ok)
	assert.Equal(t, -1.0, r.Min)
	assert.Equal(t, 1.0, r.Max)
}
