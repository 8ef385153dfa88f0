// Package source defines the per-source fetch-and-normalize contract and its
// concrete adapters. Each adapter turns raw site data into normalized
// listings; adapters share no mutable state with each other.
package source

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"github.com/rentscan/search-core/pkg/model"
	"github.com/rentscan/search-core/pkg/ratelimit"
	"github.com/rentscan/search-core/pkg/resilience"
)

// Prometheus metrics for adapter calls. Emitting them is fire-and-forget and
// never blocks or fails a fetch.
var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_source_fetches_total",
		Help: "Total adapter fetches by source and outcome",
	}, []string{"source", "status"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "search_source_fetch_duration_seconds",
		Help:    "Adapter fetch duration in seconds by source",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30},
	}, []string{"source"})

	listingsFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_source_listings_total",
		Help: "Total listings returned by source",
	}, []string{"source"})

	fetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_source_errors_total",
		Help: "Adapter fetch errors by source and error kind",
	}, []string{"source", "kind"})
)

// Adapter is the fetch-and-normalize contract implemented once per source.
// Fetch returns normalized listings for the query; failures must be
// classified (a parsing failure is distinct from a transient network one).
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, q model.Query) ([]model.Listing, error)
}

// Call runs one adapter fetch bounded by the per-call timeout and paced by
// the source's limiter, and produces the SourceResult with duration and
// metrics attached.
func Call(ctx context.Context, a Adapter, lim *ratelimit.Limiter, timeout time.Duration, q model.Query) model.SourceResult {
	name := a.Name()
	start := time.Now()

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if lim != nil {
		if err := lim.Acquire(callCtx); err != nil {
			return result(name, nil, resilience.NewSourceError(resilience.KindTimeout, name, "rate limiter wait", err), start)
		}
		defer lim.Release()
	}

	listings, err := a.Fetch(callCtx, q)
	return result(name, listings, err, start)
}

// result assembles a SourceResult and emits the metrics event.
func result(name string, listings []model.Listing, err error, start time.Time) model.SourceResult {
	duration := time.Since(start)
	fetchDuration.WithLabelValues(name).Observe(duration.Seconds())

	if err != nil {
		kind := resilience.Classify(err).Kind
		fetchesTotal.WithLabelValues(name, "error").Inc()
		fetchErrors.WithLabelValues(name, string(kind)).Inc()
		return model.SourceResult{Source: name, Err: err, Duration: duration}
	}

	fetchesTotal.WithLabelValues(name, "ok").Inc()
	listingsFetched.WithLabelValues(name).Add(float64(len(listings)))
	return model.SourceResult{Source: name, Listings: listings, Duration: duration}
}

// normalize stamps source identity and timestamps on raw listings and drops
// records that fail sanity checks. If every record of a non-empty batch is
// invalid the whole call fails with a validation error.
func normalize(source string, listings []model.Listing) ([]model.Listing, error) {
	now := time.Now()
	valid := listings[:0]
	var lastErr error

	for _, l := range listings {
		l.Source = source
		if l.FirstSeen.IsZero() {
			l.FirstSeen = now
		}
		l.LastSeen = now

		if err := l.Validate(); err != nil {
			lastErr = err
			log.Debug().Err(err).Str("source", source).Msg("Dropping invalid listing")
			continue
		}
		valid = append(valid, l)
	}

	if len(listings) > 0 && len(valid) == 0 {
		return nil, resilience.NewSourceError(resilience.KindValidation, source,
			"all fetched listings failed sanity checks", lastErr)
	}
	return valid, nil
}
