package provider

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// GuardOptions tune the request budget and circuit breaker placed in front of a source.
type GuardOptions struct {
	// RequestsPerMinute of zero disables rate limiting.
	RequestsPerMinute int
	Burst             int
	// MaxFailures consecutive failures open the breaker for OpenTimeout.
	MaxFailures uint32
	OpenTimeout time.Duration
}

// Guard rate limits and circuit-breaks calls to the wrapped sources.
type Guard struct {
	bars    BarSource
	actions ActionSource
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

var (
	_ BarSource    = (*Guard)(nil)
	_ ActionSource = (*Guard)(nil)
)

// NewGuard wraps bars and actions (either may be nil) behind one shared budget.
func NewGuard(bars BarSource, actions ActionSource, opts GuardOptions, logger zerolog.Logger) *Guard {
	g := &Guard{
		bars:    bars,
		actions: actions,
		logger:  logger.With().Str("component", "provider_guard").Logger(),
	}
	if opts.RequestsPerMinute > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), burst)
	}

	maxFailures := opts.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	settings := gobreaker.Settings{
		Name:        "upstream",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
		// Unknown symbols do not count against upstream health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrUnknownSymbol) || errors.Is(err, context.Canceled)
		},
	}
	g.breaker = gobreaker.NewCircuitBreaker(settings)
	return g
}

// Name reports the wrapped bar source name.
func (g *Guard) Name() string {
	if g.bars != nil {
		return g.bars.Name()
	}
	if g.actions != nil {
		return g.actions.Name()
	}
	return "guard"
}

// FetchBars waits for budget and calls the bar source through the breaker.
func (g *Guard) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]BarRecord, error) {
	if g.bars == nil {
		return nil, errors.New("provider: no bar source configured")
	}
	res, err := g.execute(ctx, func() (interface{}, error) {
		return g.bars.FetchBars(ctx, symbol, start, end)
	})
	if err != nil {
		return nil, err
	}
	return res.([]BarRecord), nil
}

// FetchCorporateActions waits for budget and calls the action source through the breaker.
// Splits and dividends are two upstream requests, so two tokens are taken.
func (g *Guard) FetchCorporateActions(ctx context.Context, symbol string, start, end time.Time) (Actions, error) {
	if g.actions == nil {
		return Actions{}, errors.New("provider: no corporate action source configured")
	}
	if err := g.wait(ctx); err != nil {
		return Actions{}, err
	}
	res, err := g.execute(ctx, func() (interface{}, error) {
		return g.actions.FetchCorporateActions(ctx, symbol, start, end)
	})
	if err != nil {
		return Actions{}, err
	}
	return res.(Actions), nil
}

func (g *Guard) execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	return g.breaker.Execute(fn)
}

func (g *Guard) wait(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	return g.limiter.Wait(ctx)
}
