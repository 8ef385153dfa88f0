// Package model defines the normalized search query, listing record, and
// result types shared by the cache, source adapters, and the coordinator.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// SortOrder controls optional post-merge ordering of listings.
type SortOrder string

const (
	// SortNone leaves listings in merge order.
	SortNone SortOrder = ""

	// SortPriceAsc orders listings by ascending price.
	SortPriceAsc SortOrder = "price_asc"

	// SortPriceDesc orders listings by descending price.
	SortPriceDesc SortOrder = "price_desc"
)

// Query holds normalized search criteria. A Query is a value type: it is
// normalized once and then treated as immutable. The cache key is a pure
// function of the normalized query.
type Query struct {
	City     string `json:"city"`
	District string `json:"district,omitempty"`

	MinPrice float64 `json:"min_price,omitempty"`
	MaxPrice float64 `json:"max_price,omitempty"`

	MinRooms int `json:"min_rooms,omitempty"`
	MaxRooms int `json:"max_rooms,omitempty"`

	MinArea float64 `json:"min_area,omitempty"`
	MaxArea float64 `json:"max_area,omitempty"`

	// Sources restricts the fan-out to the named sources. Empty means all
	// configured sources.
	Sources []string `json:"sources,omitempty"`

	SortBy SortOrder `json:"sort_by,omitempty"`
	Limit  int       `json:"limit,omitempty"`
}

// Normalize returns a canonical copy of the query: strings are lowercased and
// trimmed, inverted ranges are swapped, and the source filter is sorted and
// deduplicated. Normalize is idempotent.
func (q Query) Normalize() Query {
	n := q

	n.City = strings.ToLower(strings.TrimSpace(q.City))
	n.District = strings.ToLower(strings.TrimSpace(q.District))

	if n.MinPrice > n.MaxPrice && n.MaxPrice > 0 {
		n.MinPrice, n.MaxPrice = n.MaxPrice, n.MinPrice
	}
	if n.MinRooms > n.MaxRooms && n.MaxRooms > 0 {
		n.MinRooms, n.MaxRooms = n.MaxRooms, n.MinRooms
	}
	if n.MinArea > n.MaxArea && n.MaxArea > 0 {
		n.MinArea, n.MaxArea = n.MaxArea, n.MinArea
	}

	if len(q.Sources) > 0 {
		seen := make(map[string]struct{}, len(q.Sources))
		sources := make([]string, 0, len(q.Sources))
		for _, s := range q.Sources {
			s = strings.ToLower(strings.TrimSpace(s))
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			sources = append(sources, s)
		}
		sort.Strings(sources)
		n.Sources = sources
	}

	if n.Limit < 0 {
		n.Limit = 0
	}

	return n
}

// CacheKey generates a deterministic cache key for the normalized query.
// Format: search:<city>:<sha256 of sorted field=value parts>
//
// The city stays readable in the key so that pattern invalidation like
// "search:moscow:*" works; the digest keeps the key bounded regardless of
// how many criteria are set.
func (q Query) CacheKey() string {
	n := q.Normalize()

	parts := []string{
		fmt.Sprintf("city=%s", n.City),
		fmt.Sprintf("district=%s", n.District),
		fmt.Sprintf("price=%.2f-%.2f", n.MinPrice, n.MaxPrice),
		fmt.Sprintf("rooms=%d-%d", n.MinRooms, n.MaxRooms),
		fmt.Sprintf("area=%.2f-%.2f", n.MinArea, n.MaxArea),
		fmt.Sprintf("sources=%s", strings.Join(n.Sources, ",")),
		fmt.Sprintf("sort=%s", n.SortBy),
		fmt.Sprintf("limit=%d", n.Limit),
	}
	sort.Strings(parts)

	sum := sha256.Sum256([]byte(strings.Join(parts, ":")))

	city := n.City
	if city == "" {
		city = "any"
	}
	return fmt.Sprintf("search:%s:%s", city, hex.EncodeToString(sum[:16]))
}

// WantsSource reports whether the query's source filter admits the named
// source. An empty filter admits everything.
func (q Query) WantsSource(name string) bool {
	if len(q.Sources) == 0 {
		return true
	}
	name = strings.ToLower(name)
	for _, s := range q.Sources {
		if s == name {
			return true
		}
	}
	return false
}
