// Package ratelimit implements per-source request pacing: a token bucket for
// the request rate plus a bounded pool of connection slots. One limiter is
// shared by every concurrent request to its source.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for limiter activity.
var (
	throttlesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_ratelimit_throttles_total",
		Help: "Total number of calls delayed waiting for a rate token, by source",
	}, []string{"source"})

	slotWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "search_ratelimit_slot_wait_seconds",
		Help:    "Time spent waiting for a connection slot, by source",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15},
	}, []string{"source"})
)

// Config holds per-source limiter settings.
type Config struct {
	// RequestsPerSecond is the sustained request rate. Zero disables pacing.
	RequestsPerSecond float64

	// Burst is the bucket depth; defaults to 1.
	Burst int

	// MaxConnections bounds concurrent in-flight calls to the source.
	MaxConnections int
}

// Limiter paces calls to a single source.
type Limiter struct {
	source string

	mu     sync.Mutex
	tokens float64
	rps    float64
	burst  float64
	last   time.Time

	slots chan struct{}
}

// New creates a limiter for the named source.
func New(source string, cfg Config) *Limiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10
	}
	return &Limiter{
		source: source,
		tokens: float64(cfg.Burst),
		rps:    cfg.RequestsPerSecond,
		burst:  float64(cfg.Burst),
		last:   time.Now(),
		slots:  make(chan struct{}, cfg.MaxConnections),
	}
}

// Acquire blocks until a rate token and a connection slot are available, or
// the context is done. Every successful Acquire must be paired with Release.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.waitToken(ctx); err != nil {
		return err
	}

	start := time.Now()
	select {
	case l.slots <- struct{}{}:
		slotWaitSeconds.WithLabelValues(l.source).Observe(time.Since(start).Seconds())
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: waiting for connection slot: %w", l.source, ctx.Err())
	}
}

// Release frees the connection slot taken by Acquire.
func (l *Limiter) Release() {
	select {
	case <-l.slots:
	default:
	}
}

// InFlight returns the number of connection slots currently taken.
func (l *Limiter) InFlight() int {
	return len(l.slots)
}

// waitToken blocks until the token bucket grants a request.
func (l *Limiter) waitToken(ctx context.Context) error {
	if l.rps <= 0 {
		return nil
	}

	for {
		l.mu.Lock()
		now := time.Now()
		l.tokens += now.Sub(l.last).Seconds() * l.rps
		if l.tokens > l.burst {
			l.tokens = l.burst
		}
		l.last = now

		if l.tokens >= 1 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - l.tokens) / l.rps * float64(time.Second))
		l.mu.Unlock()

		throttlesTotal.WithLabelValues(l.source).Inc()
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: waiting for rate token: %w", l.source, ctx.Err())
		case <-time.After(wait):
		}
	}
}
