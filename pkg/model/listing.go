package model

import (
	"fmt"
	"time"
)

// Listing is a normalized property record returned by a source. Identity is
// (Source, ExternalID); the pair is unique per source.
type Listing struct {
	Source     string `json:"source"`
	ExternalID string `json:"external_id"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`

	Price       float64 `json:"price"`
	Currency    string  `json:"currency,omitempty"`
	PricePerSqm float64 `json:"price_per_sqm,omitempty"`

	Rooms int     `json:"rooms,omitempty"`
	Area  float64 `json:"area,omitempty"`
	Floor int     `json:"floor,omitempty"`

	City     string `json:"city,omitempty"`
	District string `json:"district,omitempty"`
	Address  string `json:"address,omitempty"`

	Photos []string `json:"photos,omitempty"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Identity returns the (source, external_id) pair as a single map key.
func (l Listing) Identity() string {
	return l.Source + "/" + l.ExternalID
}

// Validate checks the sanity constraints every normalized listing must hold.
func (l Listing) Validate() error {
	if l.Source == "" {
		return fmt.Errorf("listing has empty source")
	}
	if l.ExternalID == "" {
		return fmt.Errorf("listing %s has empty external id", l.Source)
	}
	if l.Price < 0 {
		return fmt.Errorf("listing %s has negative price %.2f", l.Identity(), l.Price)
	}
	if l.Area < 0 {
		return fmt.Errorf("listing %s has negative area %.2f", l.Identity(), l.Area)
	}
	return nil
}
