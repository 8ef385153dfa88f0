package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by tier (l1, l2).
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_cache_hits_total",
			Help: "Total number of cache hits by tier",
		},
		[]string{"tier"},
	)

	// CacheMisses tracks full cache misses (missed in both tiers).
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "search_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CacheEvictions tracks LRU evictions from the L1 tier.
	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "search_cache_evictions_total",
			Help: "Total number of L1 LRU evictions",
		},
	)

	// CacheInvalidations tracks entries removed by pattern or tag invalidation.
	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_cache_invalidations_total",
			Help: "Total number of entries invalidated by mode",
		},
		[]string{"mode"}, // "pattern", "tag"
	)

	// CacheErrors tracks L2 operation errors.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_cache_errors_total",
			Help: "Total number of cache backend errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "scan"
	)
)
