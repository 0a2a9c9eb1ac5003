package provider

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"ktrdr/internal/domain"
	"ktrdr/internal/kerr"
)

// PacedProvider wraps a MarketDataProvider with a token-bucket rate
// limiter and a circuit breaker. Callers must not bypass it to reach
// the inner provider.
type PacedProvider struct {
	inner   MarketDataProvider
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// PacingConfig bounds the request rate to the upstream broker.
type PacingConfig struct {
	RequestsPerSecond float64
	Burst             int
	Logger            zerolog.Logger
}

// DefaultPacing matches a conservative historical-data budget.
func DefaultPacing() PacingConfig {
	return PacingConfig{RequestsPerSecond: 2, Burst: 2, Logger: zerolog.Nop()}
}

// NewPacedProvider wraps inner with pacing and fault isolation.
func NewPacedProvider(inner MarketDataProvider, cfg PacingConfig) *PacedProvider {
	settings := gobreaker.Settings{
		Name:     "market-data-provider",
		Interval: time.Minute,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &PacedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
		log:     cfg.Logger,
	}
}

// Compile-time interface check.
var _ MarketDataProvider = (*PacedProvider)(nil)

// Connect passes through; connection setup is not rate limited.
func (p *PacedProvider) Connect(ctx context.Context) error {
	return p.inner.Connect(ctx)
}

// Disconnect passes through.
func (p *PacedProvider) Disconnect(ctx context.Context) error {
	return p.inner.Disconnect(ctx)
}

// Status passes through; health checks stay light and unthrottled.
func (p *PacedProvider) Status(ctx context.Context) (ConnectionStatus, error) {
	return p.inner.Status(ctx)
}

// FetchBars waits for a rate token, then routes the call through the
// breaker. Breaker-open failures surface as RateLimited so DataManager
// applies its normal backoff policy.
func (p *PacedProvider) FetchBars(ctx context.Context, key domain.SeriesKey, rng domain.TimeRange) ([]domain.Bar, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, kerr.Wrap(kerr.KindCancelled, "pacing wait interrupted", err)
	}
	out, err := p.breaker.Execute(func() (any, error) {
		return p.inner.FetchBars(ctx, key, rng)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			p.log.Warn().Str("series", key.String()).Msg("circuit breaker open, shedding request")
			return nil, kerr.Wrap(kerr.KindRateLimited, "provider circuit open", err)
		}
		return nil, err
	}
	return out.([]domain.Bar), nil
}

// ContractDetails waits for a rate token before calling through.
func (p *PacedProvider) ContractDetails(ctx context.Context, symbol string) (ContractDetails, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return ContractDetails{}, kerr.Wrap(kerr.KindCancelled, "pacing wait interrupted", err)
	}
	return p.inner.ContractDetails(ctx, symbol)
}
