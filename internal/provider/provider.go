// Package provider adapts upstream market data APIs to daily bars and corporate actions.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnknownSymbol is returned when the upstream does not recognise a symbol.
var ErrUnknownSymbol = errors.New("provider: unknown symbol")

// BarRecord is one upstream daily bar. Nil fields were missing in the payload.
type BarRecord struct {
	Timestamp time.Time        `json:"timestamp"`
	Open      *decimal.Decimal `json:"open,omitempty"`
	High      *decimal.Decimal `json:"high,omitempty"`
	Low       *decimal.Decimal `json:"low,omitempty"`
	Close     *decimal.Decimal `json:"close,omitempty"`
	Volume    *int64           `json:"volume,omitempty"`
}

// Complete reports whether every OHLCV field is present.
func (r BarRecord) Complete() bool {
	return r.Open != nil && r.High != nil && r.Low != nil && r.Close != nil && r.Volume != nil
}

// ActionEvent is an (ex-date, value) pair: a split ratio or a dividend amount.
type ActionEvent struct {
	ExDate time.Time
	Value  decimal.Decimal
}

// Actions groups the corporate actions returned for one symbol.
type Actions struct {
	Splits    []ActionEvent
	Dividends []ActionEvent
}

// Empty reports whether no action was returned.
func (a Actions) Empty() bool {
	return len(a.Splits) == 0 && len(a.Dividends) == 0
}

// BarSource fetches daily bars for [start, end] (inclusive calendar dates).
type BarSource interface {
	Name() string
	FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]BarRecord, error)
}

// ActionSource fetches splits and dividends with ex-dates in [start, end].
type ActionSource interface {
	Name() string
	FetchCorporateActions(ctx context.Context, symbol string, start, end time.Time) (Actions, error)
}
