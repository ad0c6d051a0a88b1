package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// AlpacaOptions configure the Alpaca market data client.
type AlpacaOptions struct {
	APIKey    string
	APISecret string
	BaseURL   string
	Feed      string
}

// Alpaca fetches daily bars from the Alpaca market data API. It does not serve
// corporate actions.
type Alpaca struct {
	client *marketdata.Client
	feed   string
	logger zerolog.Logger
}

var _ BarSource = (*Alpaca)(nil)

// NewAlpaca constructs an Alpaca bar source.
func NewAlpaca(opts AlpacaOptions, logger zerolog.Logger) *Alpaca {
	clientOpts := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.BaseURL != "" {
		clientOpts.BaseURL = opts.BaseURL
	}
	feed := opts.Feed
	if feed == "" {
		feed = "iex"
	}
	return &Alpaca{
		client: marketdata.NewClient(clientOpts),
		feed:   feed,
		logger: logger.With().Str("component", "alpaca").Logger(),
	}
}

// Name identifies the source in logs and metrics.
func (a *Alpaca) Name() string { return "alpaca" }

// FetchBars retrieves raw (unadjusted) daily bars.
func (a *Alpaca) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]BarRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bars, err := a.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		End:       end.AddDate(0, 0, 1),
		Feed:      marketdata.Feed(a.feed),
	})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "invalid symbol") {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
		}
		return nil, fmt.Errorf("alpaca get bars: %w", err)
	}

	records := make([]BarRecord, 0, len(bars))
	for _, b := range bars {
		open := decimal.NewFromFloat(b.Open)
		high := decimal.NewFromFloat(b.High)
		low := decimal.NewFromFloat(b.Low)
		closePrice := decimal.NewFromFloat(b.Close)
		volume := int64(b.Volume)
		// Daily bars are stamped at midnight New York time (04:00 or 05:00 UTC).
		ts := b.Timestamp.UTC()
		records = append(records, BarRecord{
			Timestamp: time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC),
			Open:      &open,
			High:      &high,
			Low:       &low,
			Close:     &closePrice,
			Volume:    &volume,
		})
	}
	return records, nil
}
