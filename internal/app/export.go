package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"
	chart "github.com/wcharczuk/go-chart/v2"

	"eodbars/internal/storage"
)

// ExportOptions hold parameters for exporting stored bars.
type ExportOptions struct {
	Symbol      string
	Range       DateRange
	CSVPath     string
	PNGPath     string
	ParquetPath string
	// MaxPoints caps the number of bars drawn on the chart.
	MaxPoints int
}

// barRow is the Parquet layout of one bar.
type barRow struct {
	Symbol        string   `parquet:"symbol"`
	Timestamp     int64    `parquet:"timestamp,timestamp(millisecond)"`
	Open          float64  `parquet:"open"`
	High          float64  `parquet:"high"`
	Low           float64  `parquet:"low"`
	Close         float64  `parquet:"close"`
	Volume        int64    `parquet:"volume"`
	AdjustedClose *float64 `parquet:"adjusted_close,optional"`
}

// Export writes the bars of one symbol as CSV, PNG and/or Parquet. Missing bounds
// default to the last 365 days.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" && opts.ParquetPath == "" {
		return errors.New("at least one of --csv, --png or --parquet must be provided")
	}
	r, err := a.resolveRange(opts.Range, 365)
	if err != nil {
		return err
	}
	maxPoints := a.Config.ResolveMaxPoints(opts.MaxPoints)
	ticker := normalizeSymbol(opts.Symbol)

	return a.withStore(ctx, func(store storage.Repository) error {
		bars, err := store.ListBars(ctx, ticker, r.Start, r.End)
		if err != nil {
			return err
		}
		if len(bars) == 0 {
			a.Logger.Info().Str("symbol", ticker).Msg("no bars found for export window")
			return nil
		}
		a.Logger.Info().Str("symbol", ticker).Int("bars", len(bars)).Msg("exporting bars")

		if opts.CSVPath != "" {
			if err := writeBarsCSV(opts.CSVPath, bars); err != nil {
				return err
			}
		}
		if opts.ParquetPath != "" {
			if err := writeBarsParquet(opts.ParquetPath, bars); err != nil {
				return err
			}
		}
		if opts.PNGPath != "" {
			if len(bars) < 2 {
				a.Logger.Warn().Str("symbol", ticker).Str("path", opts.PNGPath).Msg("skipping chart; need at least two bars")
				return nil
			}
			if err := writeBarsPNG(opts.PNGPath, ticker, downsampleBars(bars, maxPoints)); err != nil {
				return err
			}
		}
		return nil
	})
}

func downsampleBars(bars []storage.Bar, max int) []storage.Bar {
	if max <= 0 || len(bars) <= max {
		return bars
	}
	if max == 1 {
		return bars[len(bars)-1:]
	}

	result := make([]storage.Bar, 0, max)
	step := float64(len(bars)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(bars) {
			idx = len(bars) - 1
		}
		result = append(result, bars[idx])
	}
	return result
}

func writeBarsCSV(path string, bars []storage.Bar) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	header := []string{"symbol", "date", "open", "high", "low", "close", "volume", "adjusted_close"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, bar := range bars {
		adjusted := ""
		if bar.AdjustedClose != nil {
			adjusted = bar.AdjustedClose.String()
		}
		record := []string{
			bar.Symbol,
			bar.Timestamp.UTC().Format(storage.DateLayout),
			bar.Open.String(),
			bar.High.String(),
			bar.Low.String(),
			bar.Close.String(),
			strconv.FormatInt(bar.Volume, 10),
			adjusted,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeBarsParquet(path string, bars []storage.Bar) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	rows := make([]barRow, len(bars))
	for i, bar := range bars {
		rows[i] = barRow{
			Symbol:    bar.Symbol,
			Timestamp: bar.Timestamp.UnixMilli(),
			Open:      bar.Open.InexactFloat64(),
			High:      bar.High.InexactFloat64(),
			Low:       bar.Low.InexactFloat64(),
			Close:     bar.Close.InexactFloat64(),
			Volume:    bar.Volume,
		}
		if bar.AdjustedClose != nil {
			v := bar.AdjustedClose.InexactFloat64()
			rows[i].AdjustedClose = &v
		}
	}
	return parquet.WriteFile(path, rows)
}

func writeBarsPNG(path, symbol string, bars []storage.Bar) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(bars))
	closes := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, bar := range bars {
		x[i] = bar.Timestamp
		closes[i] = bar.Close.InexactFloat64()
		volumes[i] = float64(bar.Volume)
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	volumeFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Title:  symbol,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Close",
			ValueFormatter: priceFormatter,
			Range:          flatRange(closes),
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Volume",
			ValueFormatter: volumeFormatter,
			Range:          flatRange(volumes),
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Close",
				XValues: x,
				YValues: closes,
			},
			chart.TimeSeries{
				Name:    "Volume",
				XValues: x,
				YValues: volumes,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

// flatRange pads a constant series so the axis has a non-zero span. It returns nil,
// leaving go-chart to autoscale, when the values vary.
func flatRange(values []float64) chart.Range {
	if len(values) == 0 {
		return nil
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo < hi {
		return nil
	}
	pad := math.Max(math.Abs(lo)*0.05, 1)
	return &chart.ContinuousRange{Min: lo - pad, Max: hi + pad}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
