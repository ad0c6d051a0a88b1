package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"eodbars/internal/calendar"
	"eodbars/internal/config"
	"eodbars/internal/ingest"
	"eodbars/internal/metrics"
	"eodbars/internal/pipeline"
	"eodbars/internal/provider"
	"eodbars/internal/quality"
	"eodbars/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives command output; logs go to the logger.
	Out io.Writer

	now func() time.Time
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Out:    os.Stdout,
		now:    time.Now,
	}
}

// components is everything a command needs once the store and providers are open.
type components struct {
	store    storage.Repository
	bars     *ingest.Engine
	actions  *ingest.ActionIngestor
	quality  *quality.Engine
	pipeline *pipeline.Pipeline
	metrics  *metrics.Metrics
	close    func()
}

func (a *App) openStore(ctx context.Context) (storage.Repository, error) {
	db := a.Config.Database
	if db.DSN == "" {
		return nil, fmt.Errorf("%w: set database.dsn", storage.ErrNotConfigured)
	}

	switch db.Driver {
	case config.DriverSQLite:
		store, err := storage.OpenSQLite(db.DSN)
		if err != nil {
			return nil, err
		}
		// The embedded schema is idempotent, so a fresh file is usable without a migrate step.
		if err := store.Migrate(ctx, storage.MigrateOptions{}); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	default:
		pool, err := storage.NewPool(ctx, db)
		if err != nil {
			return nil, err
		}
		return storage.NewStore(pool), nil
	}
}

// newSources builds the bar and corporate action sources with the guard and optional
// Redis cache applied. The returned closer releases the Redis client.
func (a *App) newSources() (provider.BarSource, provider.ActionSource, func()) {
	pc := a.Config.Provider
	twelve := provider.NewTwelveData(provider.TwelveDataOptions{
		BaseURL:   pc.TwelveData.BaseURL,
		APIKey:    pc.TwelveData.APIKey,
		Timeout:   pc.TwelveData.RequestTimeout,
		UserAgent: pc.TwelveData.UserAgent,
	}, a.Logger)

	var bars provider.BarSource = twelve
	if pc.Bars == config.ProviderAlpaca {
		bars = provider.NewAlpaca(provider.AlpacaOptions{
			APIKey:    pc.Alpaca.APIKey,
			APISecret: pc.Alpaca.APISecret,
			BaseURL:   pc.Alpaca.BaseURL,
			Feed:      pc.Alpaca.Feed,
		}, a.Logger)
	}

	closer := func() {}
	if addr := a.Config.Cache.RedisAddr; addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: a.Config.Cache.RedisPassword,
			DB:       a.Config.Cache.RedisDB,
		})
		bars = provider.NewCachingBarSource(bars, rdb, a.Config.Cache.TTL, a.Logger)
		closer = func() { _ = rdb.Close() }
	}

	guardOpts := provider.GuardOptions{
		RequestsPerMinute: pc.RateLimitPerMinute,
		Burst:             pc.RateBurst,
		MaxFailures:       pc.Breaker.MaxFailures,
		OpenTimeout:       pc.Breaker.OpenTimeout,
	}
	// Twelve Data serves both bars and actions, so one guard shares the request budget.
	if pc.Bars == config.ProviderTwelveData {
		guard := provider.NewGuard(bars, twelve, guardOpts, a.Logger)
		return guard, guard, closer
	}
	return provider.NewGuard(bars, nil, guardOpts, a.Logger),
		provider.NewGuard(nil, twelve, guardOpts, a.Logger),
		closer
}

// open wires the store, providers and engines. Callers must invoke close.
func (a *App) open(ctx context.Context, m *metrics.Metrics) (*components, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	barSource, actionSource, closeSources := a.newSources()

	gaps := calendar.NewGapAnalyzer(store, a.Logger)
	bars := ingest.NewEngine(barSource, store, gaps, a.Logger, ingest.WithMetrics(m), ingest.WithClock(a.now))
	actions := ingest.NewActionIngestor(actionSource, store, m, a.Logger)
	qc := a.Config.Quality
	checks := quality.NewEngine(store, quality.Thresholds{
		MinBarsPerMonth:      qc.MinBarsPerMonth,
		SpikeThreshold:       qc.SpikeThreshold,
		VolumeSpikeThreshold: qc.VolumeSpikeThreshold,
		MaxDetails:           qc.MaxDetails,
	}, m, a.Logger)

	jobs := a.Config.Jobs
	opts := []pipeline.Option{pipeline.WithMetrics(m), pipeline.WithClock(a.now)}
	if locker, ok := store.(storage.AdvisoryLocker); ok {
		opts = append(opts, pipeline.WithLock(locker, a.Config.Scheduler.AdvisoryLockKey))
	}
	pipe := pipeline.New(store, bars, actions, checks, pipeline.Windows{
		IngestDays:  jobs.IngestWindowDays,
		RepairDays:  jobs.RepairLookbackDays,
		ActionsDays: jobs.ActionsWindowDays,
		QualityDays: jobs.QualityWindowDays,
	}, a.Logger, opts...)

	return &components{
		store:    store,
		bars:     bars,
		actions:  actions,
		quality:  checks,
		pipeline: pipe,
		metrics:  m,
		close: func() {
			closeSources()
			store.Close()
		},
	}, nil
}

// withStore runs fn against an open store only, for commands that never call a provider.
func (a *App) withStore(ctx context.Context, fn func(storage.Repository) error) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

// DateRange is an inclusive span of calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// resolveRange fills missing bounds: End defaults to today and Start to End minus defaultDays.
func (a *App) resolveRange(r DateRange, defaultDays int) (DateRange, error) {
	if r.End.IsZero() {
		r.End = a.now()
	}
	r.End = storage.Day(r.End)
	if r.Start.IsZero() {
		r.Start = r.End.AddDate(0, 0, -defaultDays)
	}
	r.Start = storage.Day(r.Start)
	if r.Start.After(r.End) {
		return r, fmt.Errorf("start %s is after end %s", r.Start.Format(storage.DateLayout), r.End.Format(storage.DateLayout))
	}
	return r, nil
}
