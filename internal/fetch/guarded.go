package fetch

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/clubmetrics/districtrun/internal/errs"
)

// GuardConfig tunes the guarded source.
type GuardConfig struct {
	RequestsPerSecond float64
	Burst             int
	MaxFailures       uint32
	ResetTimeout      time.Duration
}

// Guarded wraps a Source with a token-bucket rate limiter and a circuit
// breaker so a flapping dashboard trips open instead of burning the
// backfill budget on doomed fetches.
type Guarded struct {
	inner   Source
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewGuarded wraps source with the given guards.
func NewGuarded(source Source, cfg GuardConfig) *Guarded {
	settings := gobreaker.Settings{
		Name:    "dashboard-fetch",
		Timeout: cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("fetch circuit breaker state change")
		},
		IsSuccessful: func(err error) bool {
			// Dates the dashboard simply lacks are not upstream faults.
			return err == nil || Unavailable(err)
		},
	}

	return &Guarded{
		inner:   source,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// FetchDistrictReports applies the limiter, then runs the fetch through
// the breaker. A tripped breaker surfaces as a transient error.
func (g *Guarded) FetchDistrictReports(ctx context.Context, districtID, date string) (Reports, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return Reports{}, errs.Wrap(errs.KindTransient, "fetch.throttle", err).WithDistrict(districtID)
	}

	result, err := g.breaker.Execute(func() (any, error) {
		return g.inner.FetchDistrictReports(ctx, districtID, date)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return Reports{}, errs.Wrap(errs.KindTransient, "fetch.breaker", err).WithDistrict(districtID)
	}
	if err != nil {
		return Reports{}, err
	}
	return result.(Reports), nil
}
