package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: database not configured")
	// ErrSymbolNotFound is returned when an update targets an unknown symbol.
	ErrSymbolNotFound = errors.New("storage: symbol not found")
)

// SymbolStore manages the symbol registry.
type SymbolStore interface {
	// AddSymbol inserts sym and reports false when the symbol already exists.
	AddSymbol(ctx context.Context, sym Symbol) (bool, error)
	ListSymbols(ctx context.Context, activeOnly bool) ([]Symbol, error)
	SetSymbolActive(ctx context.Context, symbol string, active bool) error
}

// BarStore persists daily bars. Date arguments are inclusive calendar days.
type BarStore interface {
	// UpsertBars writes bars in one transaction; on conflict only OHLCV is overwritten.
	UpsertBars(ctx context.Context, bars []Bar) (int, error)
	ListBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error)
	ListBarDates(ctx context.Context, symbol string, start, end time.Time) ([]time.Time, error)
}

// ActionStore persists corporate actions.
type ActionStore interface {
	// InsertActionsIfAbsent inserts each action whose (symbol, type, ex_date) is not yet
	// recorded and returns the number of new rows.
	InsertActionsIfAbsent(ctx context.Context, actions []CorporateAction) (int, error)
	ListActions(ctx context.Context, symbol string, start, end time.Time) ([]CorporateAction, error)
}

// QualityLogStore appends and queries quality check results.
type QualityLogStore interface {
	AppendQualityLog(ctx context.Context, entry QualityLog) (QualityLog, error)
	ListQualityLogs(ctx context.Context, filter QualityLogFilter) ([]QualityLog, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Repository is the full persistence surface used by the application.
type Repository interface {
	SymbolStore
	BarStore
	ActionStore
	QualityLogStore
	Migrate(ctx context.Context, opts MigrateOptions) error
	Close()
}

// MigrateOptions tune schema creation.
type MigrateOptions struct {
	Timescale bool
}

const defaultLogLimit = 500

func nextDay(t time.Time) time.Time {
	return Day(t).AddDate(0, 0, 1)
}
