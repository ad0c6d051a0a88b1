package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Symbol is a registered instrument.
type Symbol struct {
	ID         int64
	Symbol     string
	Name       string
	Exchange   string
	AssetType  string
	Sector     string
	Industry   string
	IsActive   bool
	DataSource string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Bar is one daily OHLCV observation, identified by (Symbol, Timestamp).
type Bar struct {
	Symbol           string
	Timestamp        time.Time
	Open             decimal.Decimal
	High             decimal.Decimal
	Low              decimal.Decimal
	Close            decimal.Decimal
	Volume           int64
	AdjustedClose    *decimal.Decimal
	SplitAdjusted    bool
	DividendAdjusted bool
	CreatedAt        time.Time
}

// Validate checks the price and volume invariants of a bar.
func (b Bar) Validate() error {
	if b.Symbol == "" {
		return errors.New("bar: empty symbol")
	}
	for name, v := range map[string]decimal.Decimal{"open": b.Open, "high": b.High, "low": b.Low, "close": b.Close} {
		if !v.IsPositive() {
			return fmt.Errorf("bar %s %s: %s must be positive", b.Symbol, b.Timestamp.Format(DateLayout), name)
		}
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar %s %s: negative volume", b.Symbol, b.Timestamp.Format(DateLayout))
	}
	if b.High.LessThan(b.Low) || b.High.LessThan(b.Open) || b.High.LessThan(b.Close) {
		return fmt.Errorf("bar %s %s: high below open/low/close", b.Symbol, b.Timestamp.Format(DateLayout))
	}
	if b.Low.GreaterThan(b.Open) || b.Low.GreaterThan(b.Close) {
		return fmt.Errorf("bar %s %s: low above open/close", b.Symbol, b.Timestamp.Format(DateLayout))
	}
	return nil
}

// ActionType distinguishes corporate actions.
type ActionType string

const (
	ActionSplit    ActionType = "split"
	ActionDividend ActionType = "dividend"
)

// CorporateAction is a split or dividend keyed by (Symbol, Type, ExDate).
// Only one of SplitRatio and DividendAmount is set.
type CorporateAction struct {
	ID             int64
	Symbol         string
	Type           ActionType
	ExDate         time.Time
	SplitRatio     *decimal.Decimal
	DividendAmount *decimal.Decimal
	Processed      bool
	ProcessedAt    *time.Time
	CreatedAt      time.Time
}

// CheckType names a data quality check.
type CheckType string

const (
	CheckDuplicate    CheckType = "duplicate"
	CheckCompleteness CheckType = "completeness"
	CheckAnomaly      CheckType = "anomaly"
)

// Severity of a quality check result.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ParseSeverity validates a user supplied severity.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityInfo, SeverityWarning, SeverityError:
		return Severity(s), nil
	}
	return "", fmt.Errorf("unknown severity %q (want info, warning or error)", s)
}

// QualityLog is the append-only record of one check execution.
type QualityLog struct {
	ID             int64
	Symbol         string
	CheckType      CheckType
	Severity       Severity
	CheckTime      time.Time
	DateRangeStart time.Time
	DateRangeEnd   time.Time
	IssueCount     int
	Details        json.RawMessage
	Resolved       bool
	ResolvedAt     *time.Time
}

// QualityLogFilter narrows ListQualityLogs. Zero values mean "any".
type QualityLogFilter struct {
	Symbol          string
	Severity        Severity
	Since           time.Time
	IncludeResolved bool
	Limit           int
}

// DateLayout is the calendar date format used across the store and CLI.
const DateLayout = "2006-01-02"

// Day truncates t to UTC midnight of its calendar date.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
