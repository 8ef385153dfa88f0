package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	// ErrCacheMiss indicates the requested key was found in neither tier.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates a stored entry could not be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// tagKeyPrefix namespaces the per-tag key sets kept in Redis.
const tagKeyPrefix = "search:tag:"

// Config holds cache manager configuration.
type Config struct {
	// Redis is the shared L2 backend. May be nil: the manager then runs
	// L1-only and L2 operations become no-ops. L2 failures never fail a
	// lookup either way; the shared tier is an accelerator, not a dependency.
	Redis *redis.Client

	// L1Capacity bounds the in-process tier; inserts beyond it evict the
	// least-recently-used entry synchronously.
	L1Capacity int

	// L1TTL caps how long an entry may live in the in-process tier.
	L1TTL time.Duration

	// DefaultTTL is used by Set when the caller passes a non-positive TTL.
	DefaultTTL time.Duration

	Logger zerolog.Logger
}

// TierStats are the per-tier counters exposed for the observability sink.
type TierStats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
}

// Stats combines both tiers.
type Stats struct {
	L1 TierStats `json:"l1"`
	L2 TierStats `json:"l2"`
}

// Manager is the two-tier cache. L1 is consulted first; an L2 hit
// repopulates L1. The tiers may transiently diverge; that is accepted.
type Manager struct {
	l1     *lruStore
	redis  *redis.Client
	l1TTL  time.Duration
	defTTL time.Duration
	logger zerolog.Logger

	l1Hits   atomic.Uint64
	l1Misses atomic.Uint64
	l2Hits   atomic.Uint64
	l2Misses atomic.Uint64
}

// NewManager creates a two-tier cache manager.
func NewManager(cfg Config) *Manager {
	if cfg.L1TTL <= 0 {
		cfg.L1TTL = 5 * time.Minute
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 10 * time.Minute
	}
	return &Manager{
		l1:     newLRUStore(cfg.L1Capacity),
		redis:  cfg.Redis,
		l1TTL:  cfg.L1TTL,
		defTTL: cfg.DefaultTTL,
		logger: cfg.Logger.With().Str("component", "cache").Logger(),
	}
}

// Get retrieves an entry, consulting L1 first and falling back to L2.
// Returns ErrCacheMiss when the key is absent or expired in both tiers.
func (m *Manager) Get(ctx context.Context, key string) (*Entry, error) {
	if entry, ok := m.l1.get(key); ok {
		m.l1Hits.Add(1)
		CacheHits.WithLabelValues("l1").Inc()
		return entry, nil
	}
	m.l1Misses.Add(1)

	if m.redis == nil {
		m.l2Misses.Add(1)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	data, err := m.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			CacheErrors.WithLabelValues("get").Inc()
			m.logger.Warn().Err(err).Str("key", key).Msg("L2 get failed")
		}
		m.l2Misses.Add(1)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		m.l2Misses.Add(1)
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.Expired() {
		_ = m.redis.Del(ctx, key).Err()
		m.l2Misses.Add(1)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	m.l2Hits.Add(1)
	CacheHits.WithLabelValues("l2").Inc()

	// Repopulate L1; the L1 copy never outlives the L2 entry.
	m.l1.set(m.l1Entry(&entry))

	return &entry, nil
}

// Set writes the value to both tiers. The L1 copy gets the shorter of ttl
// and the configured L1 TTL; an L2 write failure is logged, not surfaced.
func (m *Manager) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	if ttl <= 0 {
		ttl = m.defTTL
	}
	now := time.Now()
	entry := &Entry{
		Key:       key,
		Value:     value,
		Tags:      tags,
		ExpiresAt: now.Add(ttl),
		CachedAt:  now,
	}

	m.l1.set(m.l1Entry(entry))

	if m.redis == nil {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	pipe := m.redis.Pipeline()
	pipe.Set(ctx, key, data, ttl)
	for _, tag := range tags {
		pipe.SAdd(ctx, tagKeyPrefix+tag, key)
		pipe.Expire(ctx, tagKeyPrefix+tag, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		m.logger.Warn().Err(err).Str("key", key).Msg("L2 set failed")
	}

	return nil
}

// Delete removes the key from both tiers.
func (m *Manager) Delete(ctx context.Context, key string) error {
	m.l1.delete(key)
	if m.redis == nil {
		return nil
	}
	if err := m.redis.Del(ctx, key).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// InvalidatePattern removes every entry whose key matches the glob pattern
// (e.g. "search:moscow:*") from both tiers. Returns the number of entries
// removed.
func (m *Manager) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}

	removed := m.l1.deletePattern(g)

	if m.redis != nil {
		iter := m.redis.Scan(ctx, 0, pattern, 100).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			CacheErrors.WithLabelValues("scan").Inc()
			return removed, fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			n, err := m.redis.Del(ctx, keys...).Result()
			if err != nil {
				CacheErrors.WithLabelValues("delete").Inc()
				return removed, fmt.Errorf("redis del: %w", err)
			}
			removed += int(n)
		}
	}

	CacheInvalidations.WithLabelValues("pattern").Add(float64(removed))
	m.logger.Debug().Str("pattern", pattern).Int("removed", removed).Msg("Pattern invalidation")
	return removed, nil
}

// InvalidateTag removes every entry carrying the tag from both tiers.
func (m *Manager) InvalidateTag(ctx context.Context, tag string) (int, error) {
	removed := m.l1.deleteTag(tag)

	if m.redis != nil {
		setKey := tagKeyPrefix + tag
		keys, err := m.redis.SMembers(ctx, setKey).Result()
		if err != nil {
			CacheErrors.WithLabelValues("get").Inc()
			return removed, fmt.Errorf("redis smembers: %w", err)
		}
		if len(keys) > 0 {
			n, err := m.redis.Del(ctx, keys...).Result()
			if err != nil {
				CacheErrors.WithLabelValues("delete").Inc()
				return removed, fmt.Errorf("redis del: %w", err)
			}
			removed += int(n)
		}
		_ = m.redis.Del(ctx, setKey).Err()
	}

	CacheInvalidations.WithLabelValues("tag").Add(float64(removed))
	m.logger.Debug().Str("tag", tag).Int("removed", removed).Msg("Tag invalidation")
	return removed, nil
}

// Warm preloads the cache with multiple key/value pairs under one TTL.
func (m *Manager) Warm(ctx context.Context, values map[string][]byte, ttl time.Duration) int {
	for key, value := range values {
		if err := m.Set(ctx, key, value, ttl); err != nil {
			m.logger.Warn().Err(err).Str("key", key).Msg("Cache warm set failed")
		}
	}
	m.logger.Info().Int("entries", len(values)).Msg("Cache warmed")
	return len(values)
}

// Clear drops the L1 tier. The shared L2 tier is left to its TTLs: other
// processes may still be serving from it.
func (m *Manager) Clear() {
	m.l1.clear()
}

// Stats returns per-tier hit/miss/eviction counters.
func (m *Manager) Stats() Stats {
	return Stats{
		L1: TierStats{
			Hits:      m.l1Hits.Load(),
			Misses:    m.l1Misses.Load(),
			Evictions: m.l1.evicted(),
			Size:      m.l1.len(),
		},
		L2: TierStats{
			Hits:   m.l2Hits.Load(),
			Misses: m.l2Misses.Load(),
		},
	}
}

// l1Entry clamps an entry's expiry for the in-process tier.
func (m *Manager) l1Entry(entry *Entry) *Entry {
	capped := time.Now().Add(m.l1TTL)
	if entry.ExpiresAt.Before(capped) {
		return entry
	}
	l1 := *entry
	l1.ExpiresAt = capped
	return &l1
}
