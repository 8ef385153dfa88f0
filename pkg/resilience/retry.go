package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_retries_total",
		Help: "Total number of retry attempts by source and error kind",
	}, []string{"source", "kind"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "search_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error kind",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"kind"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by source",
	}, []string{"source"})
)

// Common errors returned by the retry wrapper.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during backoff.
	ErrContextCancelled = errors.New("context cancelled")
)

// RetryConfig holds the knobs shared by all error kinds. The per-kind base
// delay and retry budget come from the classification table, not from here.
type RetryConfig struct {
	// BackoffFactor is the multiplier for exponential backoff.
	BackoffFactor float64

	// MaxDelay caps a single backoff wait.
	MaxDelay time.Duration

	// Jitter adds ±20% randomness to each wait to avoid thundering herds.
	Jitter bool
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		BackoffFactor: 2.0,
		MaxDelay:      60 * time.Second,
		Jitter:        true,
	}
}

// Retry executes fn, retrying on retryable failures with exponential backoff
// derived from the error classification: delay(n) = base * factor^n, capped
// at cfg.MaxDelay. Non-retryable errors are returned immediately. When the
// classified retry budget is spent, the final error is wrapped with
// ErrRetryExhausted.
func Retry(ctx context.Context, source string, cfg RetryConfig, fn func() error) error {
	if cfg.BackoffFactor <= 1 {
		cfg.BackoffFactor = 2.0
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}

	var lastErr error

	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 0 {
				log.Info().
					Str("source", source).
					Int("attempt", attempt+1).
					Msg("Call succeeded after retry")
			}
			return nil
		}
		lastErr = err

		cls := Classify(err)
		if !cls.Retryable {
			return err
		}
		if attempt >= cls.MaxRetries {
			retryExhaustedTotal.WithLabelValues(source).Inc()
			log.Warn().
				Str("source", source).
				Str("kind", string(cls.Kind)).
				Int("max_retries", cls.MaxRetries).
				Msg("Retry attempts exhausted")
			return fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, attempt+1, lastErr)
		}

		delay := backoffDelay(cls.BaseDelay, cfg, attempt)
		retriesTotal.WithLabelValues(source, string(cls.Kind)).Inc()
		retryBackoffSeconds.WithLabelValues(string(cls.Kind)).Observe(delay.Seconds())

		log.Debug().
			Str("source", source).
			Str("kind", string(cls.Kind)).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("Retrying after backoff")

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v (last error: %v)", ErrContextCancelled, ctx.Err(), lastErr)
		case <-time.After(delay):
		}
	}
}

// backoffDelay computes the wait before retry attempt n (0-based).
func backoffDelay(base time.Duration, cfg RetryConfig, attempt int) time.Duration {
	delay := float64(base)
	for i := 0; i < attempt; i++ {
		delay *= cfg.BackoffFactor
		if delay >= float64(cfg.MaxDelay) {
			break
		}
	}
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		delay *= 0.8 + rand.Float64()*0.4
	}
	return time.Duration(delay)
}
