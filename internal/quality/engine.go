// Package quality runs data quality checks over stored bars and records each result
// in the quality log.
package quality

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"eodbars/internal/metrics"
	"eodbars/internal/storage"
)

const insufficientData = "Insufficient data for anomaly detection"

// Store is the slice of persistence the checks need.
type Store interface {
	ListBars(ctx context.Context, symbol string, start, end time.Time) ([]storage.Bar, error)
	AppendQualityLog(ctx context.Context, entry storage.QualityLog) (storage.QualityLog, error)
}

// Thresholds tune the checks.
type Thresholds struct {
	MinBarsPerMonth      int
	SpikeThreshold       float64
	VolumeSpikeThreshold float64
	MaxDetails           int
}

// DefaultThresholds mirrors the configuration defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{MinBarsPerMonth: 20, SpikeThreshold: 5, VolumeSpikeThreshold: 10, MaxDetails: 100}
}

// Result is the outcome of one check before it is logged.
type Result struct {
	CheckType  storage.CheckType
	Severity   storage.Severity
	IssueCount int
	// Details is marshalled into the log entry; nil when there is nothing to report.
	Details any
}

// DuplicateDetail reports a timestamp stored more than once.
type DuplicateDetail struct {
	Timestamp time.Time `json:"timestamp"`
	Count     int       `json:"count"`
}

// MonthDetail reports a month below the bar count threshold.
type MonthDetail struct {
	Month    string `json:"month"`
	BarCount int    `json:"bar_count"`
}

// AnomalyDetail reports one price or volume spike.
type AnomalyDetail struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Return    *float64  `json:"return,omitempty"`
	Volume    *int64    `json:"volume,omitempty"`
	ZScore    float64   `json:"z_score"`
}

// Engine runs quality checks for a symbol over a date window.
type Engine struct {
	store      Store
	thresholds Thresholds
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

// NewEngine constructs an Engine. Zero thresholds fall back to the defaults.
func NewEngine(store Store, thresholds Thresholds, m *metrics.Metrics, logger zerolog.Logger) *Engine {
	def := DefaultThresholds()
	if thresholds.MinBarsPerMonth <= 0 {
		thresholds.MinBarsPerMonth = def.MinBarsPerMonth
	}
	if thresholds.SpikeThreshold <= 0 {
		thresholds.SpikeThreshold = def.SpikeThreshold
	}
	if thresholds.VolumeSpikeThreshold <= 0 {
		thresholds.VolumeSpikeThreshold = def.VolumeSpikeThreshold
	}
	if thresholds.MaxDetails <= 0 {
		thresholds.MaxDetails = def.MaxDetails
	}
	return &Engine{
		store:      store,
		thresholds: thresholds,
		metrics:    m,
		logger:     logger.With().Str("component", "quality").Logger(),
		now:        time.Now,
	}
}

// CheckDuplicates flags timestamps stored more than once.
func (e *Engine) CheckDuplicates(ctx context.Context, symbol string, start, end time.Time) (storage.QualityLog, error) {
	bars, err := e.store.ListBars(ctx, symbol, start, end)
	if err != nil {
		return storage.QualityLog{}, fmt.Errorf("duplicate check %s: %w", symbol, err)
	}
	return e.logResult(ctx, symbol, start, end, duplicates(bars, e.thresholds.MaxDetails))
}

// CheckCompleteness flags calendar months with fewer bars than the minimum.
func (e *Engine) CheckCompleteness(ctx context.Context, symbol string, start, end time.Time) (storage.QualityLog, error) {
	bars, err := e.store.ListBars(ctx, symbol, start, end)
	if err != nil {
		return storage.QualityLog{}, fmt.Errorf("completeness check %s: %w", symbol, err)
	}
	return e.logResult(ctx, symbol, start, end, completeness(bars, e.thresholds.MinBarsPerMonth))
}

// CheckAnomalies flags price and volume spikes by z-score.
func (e *Engine) CheckAnomalies(ctx context.Context, symbol string, start, end time.Time) (storage.QualityLog, error) {
	bars, err := e.store.ListBars(ctx, symbol, start, end)
	if err != nil {
		return storage.QualityLog{}, fmt.Errorf("anomaly check %s: %w", symbol, err)
	}
	return e.logResult(ctx, symbol, start, end, anomalies(bars, e.thresholds))
}

// RunAll runs the duplicate, completeness and anomaly checks in order. A failing
// check does not stop the others; their errors are joined.
func (e *Engine) RunAll(ctx context.Context, symbol string, start, end time.Time) ([]storage.QualityLog, error) {
	checks := []struct {
		name storage.CheckType
		run  func(context.Context, string, time.Time, time.Time) (storage.QualityLog, error)
	}{
		{storage.CheckDuplicate, e.CheckDuplicates},
		{storage.CheckCompleteness, e.CheckCompleteness},
		{storage.CheckAnomaly, e.CheckAnomalies},
	}

	logs := make([]storage.QualityLog, 0, len(checks))
	var errs []error
	for _, check := range checks {
		entry, err := check.run(ctx, symbol, start, end)
		if err != nil {
			e.logger.Error().Err(err).Str("symbol", symbol).Str("check", string(check.name)).Msg("quality check failed")
			errs = append(errs, err)
			continue
		}
		logs = append(logs, entry)
	}
	return logs, errors.Join(errs...)
}

// logResult is the single write path for every check.
func (e *Engine) logResult(ctx context.Context, symbol string, start, end time.Time, res Result) (storage.QualityLog, error) {
	entry := storage.QualityLog{
		Symbol:         symbol,
		CheckType:      res.CheckType,
		Severity:       res.Severity,
		CheckTime:      e.now().UTC(),
		DateRangeStart: storage.Day(start),
		DateRangeEnd:   storage.Day(end),
		IssueCount:     res.IssueCount,
	}
	if res.Details != nil {
		raw, err := json.Marshal(res.Details)
		if err != nil {
			return storage.QualityLog{}, fmt.Errorf("encode %s details: %w", res.CheckType, err)
		}
		entry.Details = raw
	}

	saved, err := e.store.AppendQualityLog(ctx, entry)
	if err != nil {
		return storage.QualityLog{}, fmt.Errorf("log %s result for %s: %w", res.CheckType, symbol, err)
	}
	e.metrics.AddIssues(string(res.CheckType), string(res.Severity), res.IssueCount)

	evt := e.logger.Info()
	if res.Severity != storage.SeverityInfo {
		evt = e.logger.Warn()
	}
	evt.Str("symbol", symbol).Str("check", string(res.CheckType)).Str("severity", string(res.Severity)).
		Int("issues", res.IssueCount).Msg("quality check complete")
	return saved, nil
}

func duplicates(bars []storage.Bar, maxDetails int) Result {
	counts := make(map[time.Time]int, len(bars))
	for _, b := range bars {
		counts[b.Timestamp.UTC()]++
	}
	details := make([]DuplicateDetail, 0)
	for ts, n := range counts {
		if n > 1 {
			details = append(details, DuplicateDetail{Timestamp: ts, Count: n})
		}
	}
	sort.Slice(details, func(i, j int) bool { return details[i].Timestamp.Before(details[j].Timestamp) })

	res := Result{CheckType: storage.CheckDuplicate, Severity: storage.SeverityInfo, IssueCount: len(details)}
	if len(details) > 0 {
		res.Severity = storage.SeverityError
		res.Details = truncate(details, maxDetails)
	}
	return res
}

func completeness(bars []storage.Bar, minPerMonth int) Result {
	counts := make(map[time.Time]int)
	for _, b := range bars {
		ts := b.Timestamp.UTC()
		counts[time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)]++
	}
	months := make([]time.Time, 0, len(counts))
	for m := range counts {
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })

	details := make([]MonthDetail, 0)
	for _, m := range months {
		if counts[m] < minPerMonth {
			details = append(details, MonthDetail{Month: m.Format(storage.DateLayout), BarCount: counts[m]})
		}
	}

	res := Result{CheckType: storage.CheckCompleteness, Severity: storage.SeverityInfo, IssueCount: len(details)}
	if len(details) > 0 {
		res.Severity = storage.SeverityWarning
		res.Details = details
	}
	return res
}

func anomalies(bars []storage.Bar, th Thresholds) Result {
	res := Result{CheckType: storage.CheckAnomaly, Severity: storage.SeverityInfo}
	if len(bars) < 2 {
		res.Details = insufficientData
		return res
	}

	closes := make([]float64, len(bars))
	logVolumes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close.InexactFloat64()
		logVolumes[i] = math.Log1p(float64(b.Volume))
	}
	returns := pctChange(closes)
	returnZ := zScores(returns)
	volumeZ := zScores(logVolumes)

	details := make([]AnomalyDetail, 0)
	for i, b := range bars {
		if z := returnZ[i]; !math.IsNaN(z) && math.Abs(z) > th.SpikeThreshold {
			pct := round2(returns[i] * 100)
			details = append(details, AnomalyDetail{
				Timestamp: b.Timestamp.UTC(),
				Type:      "price_spike",
				Return:    &pct,
				ZScore:    round2(z),
			})
		}
	}
	for i, b := range bars {
		if z := volumeZ[i]; z > th.VolumeSpikeThreshold {
			v := b.Volume
			details = append(details, AnomalyDetail{
				Timestamp: b.Timestamp.UTC(),
				Type:      "volume_spike",
				Volume:    &v,
				ZScore:    round2(z),
			})
		}
	}

	res.IssueCount = len(details)
	if len(details) > 0 {
		res.Severity = storage.SeverityWarning
		res.Details = truncate(details, th.MaxDetails)
	}
	return res
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
