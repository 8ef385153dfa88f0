// Package search implements the retrieval coordinator: cache-first lookup,
// concurrent fan-out to all configured source adapters under time budgets,
// and merging of partial results.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/rentscan/search-core/pkg/cache"
	"github.com/rentscan/search-core/pkg/model"
	"github.com/rentscan/search-core/pkg/ratelimit"
	"github.com/rentscan/search-core/pkg/resilience"
	"github.com/rentscan/search-core/pkg/source"
)

// Prometheus metrics for coordinator operations.
var (
	searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_requests_total",
		Help: "Total search requests by outcome",
	}, []string{"outcome"}) // "cache_hit", "ok", "partial", "failed"

	searchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "search_request_duration_seconds",
		Help:    "End-to-end search duration in seconds by outcome",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 15, 30, 45},
	}, []string{"outcome"})
)

// Errors surfaced to callers.
var (
	// ErrAllSourcesFailed is the terminal error: the cache was empty and
	// every configured source failed or was circuit-open.
	ErrAllSourcesFailed = errors.New("all sources failed")

	// ErrNoSources means the query's source filter matched nothing.
	ErrNoSources = errors.New("no sources match query filter")
)

// Config holds coordinator time budgets and cache policy.
type Config struct {
	// PerSourceTimeout bounds each adapter call.
	PerSourceTimeout time.Duration

	// GlobalTimeout bounds the whole search, measured from coordinator
	// start. When it fires the coordinator stops waiting and assembles
	// whatever completed.
	GlobalTimeout time.Duration

	// CacheTTL is the write-through TTL for aggregated results.
	CacheTTL time.Duration

	// Retry tunes the backoff shared by all sources.
	Retry resilience.RetryConfig
}

// DefaultConfig returns the standard time budgets.
func DefaultConfig() Config {
	return Config{
		PerSourceTimeout: 15 * time.Second,
		GlobalTimeout:    45 * time.Second,
		CacheTTL:         10 * time.Minute,
		Retry:            resilience.DefaultRetryConfig(),
	}
}

// Coordinator fans a query out to source adapters and merges the results.
// The adapter list, limiters, and breaker registry are fixed at startup.
type Coordinator struct {
	cfg      Config
	adapters []source.Adapter
	limiters map[string]*ratelimit.Limiter
	breakers *resilience.Registry
	cache    *cache.Manager
	dedup    DedupPolicy
	logger   zerolog.Logger
}

// New creates a coordinator over the configured adapters.
func New(
	cfg Config,
	adapters []source.Adapter,
	limiters map[string]*ratelimit.Limiter,
	breakers *resilience.Registry,
	cacheManager *cache.Manager,
	dedup DedupPolicy,
	logger zerolog.Logger,
) *Coordinator {
	if cfg.PerSourceTimeout <= 0 {
		cfg.PerSourceTimeout = 15 * time.Second
	}
	if cfg.GlobalTimeout <= 0 {
		cfg.GlobalTimeout = 45 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	return &Coordinator{
		cfg:      cfg,
		adapters: adapters,
		limiters: limiters,
		breakers: breakers,
		cache:    cacheManager,
		dedup:    dedup,
		logger:   logger.With().Str("component", "coordinator").Logger(),
	}
}

// Search runs the cache-first retrieval flow and returns the aggregated
// result. A search degrades to partial results when some sources fail; it
// returns an error only when nothing at all could be retrieved.
func (c *Coordinator) Search(ctx context.Context, q model.Query) (*model.AggregatedResult, error) {
	start := time.Now()
	q = q.Normalize()
	key := q.CacheKey()
	requestID := uuid.NewString()

	logger := c.logger.With().Str("request_id", requestID).Str("city", q.City).Logger()

	if entry, err := c.cache.Get(ctx, key); err == nil {
		var cached model.AggregatedResult
		if err := json.Unmarshal(entry.Value, &cached); err != nil {
			logger.Warn().Err(err).Str("key", key).Msg("Dropping undecodable cache entry")
			_ = c.cache.Delete(ctx, key)
		} else {
			cached.FromCache = true
			cached.Elapsed = time.Since(start)
			cached.RequestID = requestID
			c.observe("cache_hit", start)
			logger.Debug().Str("key", key).Msg("Search served from cache")
			return &cached, nil
		}
	}

	adapters := c.matching(q)
	if len(adapters) == 0 {
		c.observe("failed", start)
		return nil, ErrNoSources
	}

	logger.Info().Int("sources", len(adapters)).Msg("Cache miss, fanning out")

	// One goroutine per adapter. The channel is buffered so adapters that
	// finish after the global deadline can still send and exit; their
	// results are simply never read.
	results := make(chan model.SourceResult, len(adapters))
	for _, a := range adapters {
		go func(a source.Adapter) {
			results <- c.callSource(ctx, a, q)
		}(a)
	}

	completed := make([]model.SourceResult, 0, len(adapters))
	pending := make(map[string]struct{}, len(adapters))
	for _, a := range adapters {
		pending[a.Name()] = struct{}{}
	}

	deadline := time.NewTimer(c.cfg.GlobalTimeout)
	defer deadline.Stop()

collect:
	for range adapters {
		select {
		case res := <-results:
			completed = append(completed, res)
			delete(pending, res.Source)
		case <-deadline.C:
			logger.Warn().
				Int("completed", len(completed)).
				Int("pending", len(pending)).
				Msg("Global timeout elapsed, returning partial results")
			break collect
		case <-ctx.Done():
			break collect
		}
	}

	result := c.assemble(q, completed, pending, requestID, start)

	if result.Succeeded() == 0 {
		c.observe("failed", start)
		logger.Error().Int("sources", len(adapters)).Msg("Every source failed or was abandoned")
		return nil, fmt.Errorf("%w: %d sources attempted", ErrAllSourcesFailed, len(adapters))
	}

	c.writeThrough(ctx, key, q, result, logger)

	outcome := "ok"
	if result.Failed() > 0 {
		outcome = "partial"
	}
	c.observe(outcome, start)
	logger.Info().
		Int("listings", len(result.Listings)).
		Int("succeeded", result.Succeeded()).
		Int("failed", result.Failed()).
		Dur("elapsed", result.Elapsed).
		Msg("Search complete")

	return result, nil
}

// callSource wraps one adapter call with the resilience stack:
// breaker → retry → limiter → fetch.
func (c *Coordinator) callSource(ctx context.Context, a source.Adapter, q model.Query) model.SourceResult {
	name := a.Name()
	breaker := c.breakers.Get(name)

	var res model.SourceResult
	err := breaker.Do(func() error {
		return resilience.Retry(ctx, name, c.cfg.Retry, func() error {
			res = source.Call(ctx, a, c.limiters[name], c.cfg.PerSourceTimeout, q)
			return res.Err
		})
	})
	if err != nil {
		return model.SourceResult{Source: name, Err: err, Duration: res.Duration}
	}
	return res
}

// assemble merges completed source results into an aggregated result, with
// abandoned sources annotated as timeouts.
func (c *Coordinator) assemble(q model.Query, completed []model.SourceResult, pending map[string]struct{}, requestID string, start time.Time) *model.AggregatedResult {
	statuses := make([]model.SourceStatus, 0, len(completed)+len(pending))
	for _, res := range completed {
		status := model.SourceStatus{
			Source:   res.Source,
			OK:       res.Err == nil,
			Count:    len(res.Listings),
			Duration: res.Duration,
		}
		if res.Err != nil {
			status.Error = res.Err.Error()
		}
		statuses = append(statuses, status)
	}
	for name := range pending {
		statuses = append(statuses, model.SourceStatus{
			Source: name,
			Error:  "abandoned: global timeout elapsed",
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Source < statuses[j].Source })

	listings := merge(completed, c.dedup)
	listings = applyHints(listings, q)

	return &model.AggregatedResult{
		Listings:  listings,
		Sources:   statuses,
		Elapsed:   time.Since(start),
		RequestID: requestID,
	}
}

// writeThrough caches the aggregated result under source and city tags.
func (c *Coordinator) writeThrough(ctx context.Context, key string, q model.Query, result *model.AggregatedResult, logger zerolog.Logger) {
	data, err := json.Marshal(result)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to encode result for cache")
		return
	}

	tags := make([]string, 0, len(result.Sources)+1)
	if q.City != "" {
		tags = append(tags, "city:"+q.City)
	}
	for _, s := range result.Sources {
		if s.OK {
			tags = append(tags, "source:"+s.Source)
		}
	}

	if err := c.cache.Set(ctx, key, data, c.cfg.CacheTTL, tags...); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("Write-through failed")
	}
}

// matching returns the adapters admitted by the query's source filter.
func (c *Coordinator) matching(q model.Query) []source.Adapter {
	if len(q.Sources) == 0 {
		return c.adapters
	}
	out := make([]source.Adapter, 0, len(c.adapters))
	for _, a := range c.adapters {
		if q.WantsSource(a.Name()) {
			out = append(out, a)
		}
	}
	return out
}

// applyHints sorts and truncates merged listings per query hints. Ordering
// is presentation only; the merge itself guarantees nothing about order.
func applyHints(listings []model.Listing, q model.Query) []model.Listing {
	switch q.SortBy {
	case model.SortPriceAsc:
		sort.SliceStable(listings, func(i, j int) bool { return listings[i].Price < listings[j].Price })
	case model.SortPriceDesc:
		sort.SliceStable(listings, func(i, j int) bool { return listings[i].Price > listings[j].Price })
	}
	if q.Limit > 0 && len(listings) > q.Limit {
		listings = listings[:q.Limit]
	}
	return listings
}

func (c *Coordinator) observe(outcome string, start time.Time) {
	searchesTotal.WithLabelValues(outcome).Inc()
	searchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// Health returns the circuit state snapshot for one source.
func (c *Coordinator) Health(sourceName string) (resilience.Snapshot, error) {
	for _, a := range c.adapters {
		if a.Name() == sourceName {
			return c.breakers.Get(sourceName).Snapshot(), nil
		}
	}
	return resilience.Snapshot{}, fmt.Errorf("unknown source %q", sourceName)
}

// HealthAll returns circuit snapshots for every configured source.
func (c *Coordinator) HealthAll() map[string]resilience.Snapshot {
	return c.breakers.Snapshots()
}

// CacheStats returns per-tier cache counters.
func (c *Coordinator) CacheStats() cache.Stats {
	return c.cache.Stats()
}

// InvalidatePattern removes cached results matching a key glob, for when
// source data is known to have changed out-of-band.
func (c *Coordinator) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	return c.cache.InvalidatePattern(ctx, pattern)
}

// InvalidateTag removes cached results carrying a tag (e.g. "source:cityrent").
func (c *Coordinator) InvalidateTag(ctx context.Context, tag string) (int, error) {
	return c.cache.InvalidateTag(ctx, tag)
}
