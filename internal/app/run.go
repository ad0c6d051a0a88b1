package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"eodbars/internal/metrics"
	"eodbars/internal/scheduler"
	"eodbars/internal/storage"
)

// Migrate applies the embedded schema to the configured database.
func (a *App) Migrate(ctx context.Context) error {
	return a.withStore(ctx, func(store storage.Repository) error {
		if err := store.Migrate(ctx, storage.MigrateOptions{Timescale: a.Config.Database.Timescale}); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "Schema applied (%s)\n", a.Config.Database.Driver)
		return nil
	})
}

// Run executes the long-running daily job daemon.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	c, err := a.open(ctx, m)
	if err != nil {
		return err
	}
	defer c.close()

	if addr := a.Config.Metrics.Listen; addr != "" {
		srv := a.serveMetrics(addr, m)
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	sc := a.Config.Scheduler
	sched := scheduler.New(scheduler.Options{
		Interval:     sc.Interval,
		Offset:       sc.Offset,
		AlignToStart: sc.AlignToBucket,
		StartupDelay: sc.StartupDelay,
		RunOnStartup: sc.RunOnStartup,
	}, a.Logger)

	a.Logger.Info().Dur("interval", sc.Interval).Dur("offset", sc.Offset).Msg("starting daily job daemon")
	err = sched.Run(ctx, c.pipeline.RunDaily)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("daemon terminated with error")
		return err
	}

	a.Logger.Info().Msg("daily job daemon stopped")
	return nil
}

func (a *App) serveMetrics(addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	a.Logger.Info().Str("addr", addr).Msg("serving metrics")
	return srv
}
