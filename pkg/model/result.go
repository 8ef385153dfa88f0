package model

import "time"

// SourceResult is the outcome of one adapter call within a search.
type SourceResult struct {
	Source    string        `json:"source"`
	Listings  []Listing     `json:"listings,omitempty"`
	Err       error         `json:"-"`
	Duration  time.Duration `json:"duration"`
	FromCache bool          `json:"from_cache"`
}

// SourceStatus is the per-source annotation carried on an aggregated result.
// Unlike SourceResult it is serializable (the error collapses to a string).
type SourceStatus struct {
	Source   string        `json:"source"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
	Count    int           `json:"count"`
	Duration time.Duration `json:"duration"`
}

// AggregatedResult is the merged response across all sources for one query.
// It is ephemeral: built per request, then cached as a value.
type AggregatedResult struct {
	Listings  []Listing      `json:"listings"`
	Sources   []SourceStatus `json:"sources"`
	FromCache bool           `json:"from_cache"`
	Elapsed   time.Duration  `json:"elapsed"`
	RequestID string         `json:"request_id,omitempty"`
}

// Succeeded returns how many sources completed without error.
func (r *AggregatedResult) Succeeded() int {
	n := 0
	for _, s := range r.Sources {
		if s.OK {
			n++
		}
	}
	return n
}

// Failed returns how many sources ended in error.
func (r *AggregatedResult) Failed() int {
	return len(r.Sources) - r.Succeeded()
}
