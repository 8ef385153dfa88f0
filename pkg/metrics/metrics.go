// Package metrics documents the Prometheus metrics exported by the search
// core. All metrics are defined with promauto in the packages they
// instrument to keep the modules independent; this package only holds the
// registry reference and the catalogue.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registerer used by all packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Catalogue
//
// Coordinator (pkg/search):
//   - search_requests_total{outcome} (Counter): searches by outcome
//     (cache_hit, ok, partial, failed)
//   - search_request_duration_seconds{outcome} (Histogram): end-to-end latency
//
// Source adapters (pkg/source):
//   - search_source_fetches_total{source, status} (Counter): fetches by outcome
//   - search_source_fetch_duration_seconds{source} (Histogram): fetch latency
//   - search_source_listings_total{source} (Counter): listings returned
//   - search_source_errors_total{source, kind} (Counter): classified failures
//
// Resilience (pkg/resilience):
//   - search_retries_total{source, kind} (Counter): retry attempts
//   - search_retry_backoff_seconds{kind} (Histogram): backoff waits
//   - search_retry_exhausted_total{source} (Counter): spent retry budgets
//   - search_breaker_transitions_total{source, state} (Counter): circuit moves
//   - search_breaker_rejected_total{source} (Counter): fast-failed calls
//
// Cache (pkg/cache):
//   - search_cache_hits_total{tier} (Counter): hits by tier (l1, l2)
//   - search_cache_misses_total (Counter): full misses
//   - search_cache_evictions_total (Counter): L1 LRU evictions
//   - search_cache_invalidations_total{mode} (Counter): pattern/tag removals
//   - search_cache_errors_total{operation} (Counter): backend errors
//
// Rate limiting (pkg/ratelimit):
//   - search_ratelimit_throttles_total{source} (Counter): waits for a token
//   - search_ratelimit_slot_wait_seconds{source} (Histogram): slot wait time
//
// Example queries:
//
//   # Cache hit rate
//   sum(rate(search_cache_hits_total[5m])) /
//   (sum(rate(search_cache_hits_total[5m])) + sum(rate(search_cache_misses_total[5m])))
//
//   # Per-source failure rate
//   rate(search_source_errors_total[5m])
//
//   # P95 search latency
//   histogram_quantile(0.95, rate(search_request_duration_seconds_bucket[5m]))
