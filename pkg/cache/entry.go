// Package cache implements the two-tier cache manager: a bounded in-process
// LRU tier (L1) in front of a shared Redis tier (L2), with TTLs, tagging,
// and pattern invalidation.
package cache

import (
	"time"
)

// Entry is a cached value with its expiry and tags. An entry is never
// returned past ExpiresAt.
type Entry struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	Tags      []string  `json:"tags,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CachedAt  time.Time `json:"cached_at"`
}

// Expired reports whether the entry is past its expiry.
func (e *Entry) Expired() bool {
	return time.Now().After(e.ExpiresAt)
}

// TTL returns the time until expiration, 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.ExpiresAt)
	if ttl < 0 {
		return 0
	}
	return ttl
}
