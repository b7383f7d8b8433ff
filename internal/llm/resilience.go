package llm

import (
	"context"
	"errors"
	"time"

	"github.com/raine/telegram-recommender-bot/internal/blobstore"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// GuardConfig configures the circuit breaker and rate limiter placed in front
// of a backend. Calls are never retried.
type GuardConfig struct {
	// RateLimit is the allowed calls per second; zero disables limiting.
	RateLimit float64
	Burst     int

	BreakerMinRequests  uint32
	BreakerFailureRatio float64
	BreakerOpenTimeout  time.Duration
}

// DefaultGuardConfig returns the defaults used when nothing is configured.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Burst:               5,
		BreakerMinRequests:  5,
		BreakerFailureRatio: 0.6,
		BreakerOpenTimeout:  30 * time.Second,
	}
}

func (c GuardConfig) normalize() GuardConfig {
	def := DefaultGuardConfig()
	if c.Burst <= 0 {
		c.Burst = def.Burst
	}
	if c.BreakerMinRequests == 0 {
		c.BreakerMinRequests = def.BreakerMinRequests
	}
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		c.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if c.BreakerOpenTimeout <= 0 {
		c.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	return c
}

// IsCircuitOpen reports whether err was caused by an open circuit breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

type guard[T any] struct {
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[T]
}

func newGuard[T any](name string, cfg GuardConfig) *guard[T] {
	cfg = cfg.normalize()

	g := &guard[T]{}
	if cfg.RateLimit > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
	}
	g.breaker = gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			// Abandoned requests say nothing about backend health
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().Str("backend", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
	return g
}

func (g *guard[T]) run(ctx context.Context, fn func() (T, error)) (T, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			var zero T
			return zero, err
		}
	}
	return g.breaker.Execute(fn)
}

type guardedVision struct {
	inner VisionProvider
	guard *guard[[]string]
}

// GuardVision wraps a vision provider with a circuit breaker and rate limiter.
func GuardVision(backend VisionBackend, p VisionProvider, cfg GuardConfig) VisionProvider {
	return &guardedVision{inner: p, guard: newGuard[[]string]("vision-"+backend.String(), cfg)}
}

func (v *guardedVision) DetectLabels(ctx context.Context, ref blobstore.Reference) ([]string, error) {
	return v.guard.run(ctx, func() ([]string, error) {
		return v.inner.DetectLabels(ctx, ref)
	})
}

type guardedText struct {
	inner TextProvider
	guard *guard[string]
}

// GuardText wraps a text provider with a circuit breaker and rate limiter.
func GuardText(backend TextBackend, p TextProvider, cfg GuardConfig) TextProvider {
	return &guardedText{inner: p, guard: newGuard[string]("text-"+backend.String(), cfg)}
}

func (t *guardedText) Recommend(ctx context.Context, labels []string, topic string) (string, error) {
	return t.guard.run(ctx, func() (string, error) {
		return t.inner.Recommend(ctx, labels, topic)
	})
}
