// Package pipeline exposes the scheduled entry points that run the ingestion, repair,
// corporate action and quality jobs across every active symbol.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"eodbars/internal/metrics"
	"eodbars/internal/storage"
)

// Job names used in logs, summaries and metrics.
const (
	JobIngest  = "ingest"
	JobRepair  = "repair"
	JobActions = "corporate_actions"
	JobQuality = "quality"
)

// SymbolLister returns the registry.
type SymbolLister interface {
	ListSymbols(ctx context.Context, activeOnly bool) ([]storage.Symbol, error)
}

// BarIngester loads and repairs bars for one symbol.
type BarIngester interface {
	Ingest(ctx context.Context, symbol string, start, end time.Time) (int, error)
	Repair(ctx context.Context, symbol string, lookbackDays int) (int, error)
}

// ActionIngester loads corporate actions for one symbol.
type ActionIngester interface {
	IngestActions(ctx context.Context, symbol string, start, end time.Time) (int, error)
}

// QualityRunner runs every quality check for one symbol.
type QualityRunner interface {
	RunAll(ctx context.Context, symbol string, start, end time.Time) ([]storage.QualityLog, error)
}

// Windows are the lookback windows, in calendar days, used by each job.
type Windows struct {
	IngestDays  int
	RepairDays  int
	ActionsDays int
	QualityDays int
}

// Summary reports one pass of a job over the active symbols.
type Summary struct {
	Job           string
	Symbols       int
	Succeeded     int
	Failed        int
	FailedSymbols []string
	// Items counts bars, actions or quality issues depending on the job.
	Items int
}

// Pipeline wires the per-symbol engines to the symbol registry.
type Pipeline struct {
	symbols SymbolLister
	bars    BarIngester
	actions ActionIngester
	quality QualityRunner
	windows Windows
	locker  storage.AdvisoryLocker
	lockKey int64
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithLock serialises RunDaily across processes when the symbol store supports advisory locks.
func WithLock(locker storage.AdvisoryLocker, key int64) Option {
	return func(p *Pipeline) {
		p.locker = locker
		p.lockKey = key
	}
}

// WithMetrics records job outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New constructs a Pipeline.
func New(symbols SymbolLister, bars BarIngester, actions ActionIngester, quality QualityRunner, windows Windows, logger zerolog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		symbols: symbols,
		bars:    bars,
		actions: actions,
		quality: quality,
		windows: windows,
		logger:  logger.With().Str("component", "pipeline").Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IngestAllActiveSymbols loads the last IngestDays of bars for each active symbol.
func (p *Pipeline) IngestAllActiveSymbols(ctx context.Context) (Summary, error) {
	start, end := p.window(p.windows.IngestDays)
	return p.forEach(ctx, JobIngest, func(ctx context.Context, symbol string) (int, error) {
		return p.bars.Ingest(ctx, symbol, start, end)
	})
}

// RepairAllActiveSymbols fills weekday gaps within lookbackDays for each active symbol.
func (p *Pipeline) RepairAllActiveSymbols(ctx context.Context, lookbackDays int) (Summary, error) {
	if lookbackDays <= 0 {
		lookbackDays = p.windows.RepairDays
	}
	return p.forEach(ctx, JobRepair, func(ctx context.Context, symbol string) (int, error) {
		return p.bars.Repair(ctx, symbol, lookbackDays)
	})
}

// IngestAllCorporateActions loads splits and dividends from the last ActionsDays.
func (p *Pipeline) IngestAllCorporateActions(ctx context.Context) (Summary, error) {
	start, end := p.window(p.windows.ActionsDays)
	return p.forEach(ctx, JobActions, func(ctx context.Context, symbol string) (int, error) {
		return p.actions.IngestActions(ctx, symbol, start, end)
	})
}

// RunAllQualityChecks runs every check over the last QualityDays. Items is the total
// issue count across all checks.
func (p *Pipeline) RunAllQualityChecks(ctx context.Context) (Summary, error) {
	start, end := p.window(p.windows.QualityDays)
	return p.forEach(ctx, JobQuality, func(ctx context.Context, symbol string) (int, error) {
		logs, err := p.quality.RunAll(ctx, symbol, start, end)
		issues := 0
		for _, entry := range logs {
			issues += entry.IssueCount
			if entry.IssueCount > 0 {
				p.logger.Warn().Str("symbol", symbol).Str("check", string(entry.CheckType)).
					Str("severity", string(entry.Severity)).Int("issues", entry.IssueCount).Msg("quality issues found")
			}
		}
		return issues, err
	})
}

// RunDaily runs ingest, repair, corporate actions and quality checks in order for the
// given slot. When another process holds the advisory lock the run is skipped.
func (p *Pipeline) RunDaily(ctx context.Context, slot time.Time) error {
	unlock, proceed, err := p.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		p.logger.Info().Time("slot", slot).Msg("skip daily run because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	runID := uuid.NewString()
	logger := p.logger.With().Str("run_id", runID).Time("slot", slot).Logger()
	logger.Info().Msg("daily run started")

	steps := []func(context.Context) (Summary, error){
		p.IngestAllActiveSymbols,
		func(ctx context.Context) (Summary, error) { return p.RepairAllActiveSymbols(ctx, p.windows.RepairDays) },
		p.IngestAllCorporateActions,
		p.RunAllQualityChecks,
	}
	var errs []error
	for _, step := range steps {
		sum, err := step(ctx)
		if err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		logger.Info().Str("job", sum.Job).Int("symbols", sum.Symbols).Int("succeeded", sum.Succeeded).
			Int("failed", sum.Failed).Int("items", sum.Items).Msg("job complete")
	}
	logger.Info().Msg("daily run finished")
	return errors.Join(errs...)
}

// forEach applies fn to each active symbol. A failing symbol is logged and counted
// but never stops the pass; only failing to list symbols returns an error.
func (p *Pipeline) forEach(ctx context.Context, job string, fn func(context.Context, string) (int, error)) (Summary, error) {
	started := time.Now()
	sum := Summary{Job: job}

	symbols, err := p.symbols.ListSymbols(ctx, true)
	if err != nil {
		return sum, fmt.Errorf("%s: list active symbols: %w", job, err)
	}
	sum.Symbols = len(symbols)
	if len(symbols) == 0 {
		p.logger.Warn().Str("job", job).Msg("no active symbols")
		return sum, nil
	}

	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return sum, fmt.Errorf("%s: %w", job, err)
		}
		n, err := fn(ctx, sym.Symbol)
		sum.Items += n
		p.metrics.SymbolDone(job, err)
		if err != nil {
			sum.Failed++
			sum.FailedSymbols = append(sum.FailedSymbols, sym.Symbol)
			p.logger.Error().Err(err).Str("job", job).Str("symbol", sym.Symbol).Msg("symbol failed")
			continue
		}
		sum.Succeeded++
	}

	p.metrics.JobDone(job, started)
	p.logger.Info().Str("job", job).Int("symbols", sum.Symbols).Int("succeeded", sum.Succeeded).
		Int("failed", sum.Failed).Int("items", sum.Items).Msg("job pass complete")
	return sum, nil
}

func (p *Pipeline) window(days int) (time.Time, time.Time) {
	end := storage.Day(p.now())
	return end.AddDate(0, 0, -days), end
}

func (p *Pipeline) acquireLock(ctx context.Context) (func(), bool, error) {
	if p.lockKey == 0 || p.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := p.locker.TryAdvisoryLock(ctx, p.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
