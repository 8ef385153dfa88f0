package search

import (
	"strings"

	"github.com/rentscan/search-core/pkg/model"
)

// DedupPolicy decides whether two listings from different sources describe
// the same property. Exact (source, external_id) duplicates are always
// collapsed before the policy runs; the policy only handles the fuzzy
// cross-source case.
type DedupPolicy interface {
	Duplicate(a, b model.Listing) bool
}

// PriceTitlePolicy is the default cross-source heuristic: same city, same
// normalized title, and prices within a relative tolerance.
type PriceTitlePolicy struct {
	// PriceTolerance is the allowed relative price difference; 0.01 = 1%.
	PriceTolerance float64
}

// NewPriceTitlePolicy returns the default policy with 1% price tolerance.
func NewPriceTitlePolicy() *PriceTitlePolicy {
	return &PriceTitlePolicy{PriceTolerance: 0.01}
}

// Duplicate implements DedupPolicy.
func (p *PriceTitlePolicy) Duplicate(a, b model.Listing) bool {
	if !strings.EqualFold(strings.TrimSpace(a.City), strings.TrimSpace(b.City)) {
		return false
	}
	ta := normalizeTitle(a.Title)
	tb := normalizeTitle(b.Title)
	if ta == "" || ta != tb {
		return false
	}

	if a.Price == 0 && b.Price == 0 {
		return true
	}
	max := a.Price
	if b.Price > max {
		max = b.Price
	}
	if max == 0 {
		return false
	}
	diff := a.Price - b.Price
	if diff < 0 {
		diff = -diff
	}
	return diff/max <= p.PriceTolerance
}

// merge collapses per-source result sets into one listing slice. Listings
// with an identical (source, external_id) keep the first occurrence; then
// the policy drops fuzzy cross-source duplicates. A nil policy keeps all
// cross-source entries distinct.
func merge(results []model.SourceResult, policy DedupPolicy) []model.Listing {
	seen := make(map[string]struct{})
	var merged []model.Listing

	for _, res := range results {
		for _, l := range res.Listings {
			id := l.Identity()
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}

			if policy != nil && isDuplicate(merged, l, policy) {
				continue
			}
			merged = append(merged, l)
		}
	}
	return merged
}

func isDuplicate(merged []model.Listing, candidate model.Listing, policy DedupPolicy) bool {
	for _, existing := range merged {
		if existing.Source == candidate.Source {
			continue
		}
		if policy.Duplicate(existing, candidate) {
			return true
		}
	}
	return false
}

func normalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}
