package search

import (
	"testing"

	"github.com/rentscan/search-core/pkg/model"
)

func TestPriceTitlePolicy(t *testing.T) {
	policy := NewPriceTitlePolicy()

	base := model.Listing{
		Source: "cityrent", ExternalID: "1",
		City: "Moscow", Title: "2-room apartment on Arbat", Price: 45000,
	}

	tests := []struct {
		name string
		b    model.Listing
		want bool
	}{
		{
			name: "same title and price",
			b:    model.Listing{Source: "domhunt", ExternalID: "9", City: "moscow", Title: "2-Room  Apartment on Arbat", Price: 45000},
			want: true,
		},
		{
			name: "price within one percent",
			b:    model.Listing{Source: "domhunt", ExternalID: "9", City: "moscow", Title: "2-room apartment on arbat", Price: 45400},
			want: true,
		},
		{
			name: "price beyond tolerance",
			b:    model.Listing{Source: "domhunt", ExternalID: "9", City: "moscow", Title: "2-room apartment on arbat", Price: 50000},
			want: false,
		},
		{
			name: "different city",
			b:    model.Listing{Source: "domhunt", ExternalID: "9", City: "kazan", Title: "2-room apartment on arbat", Price: 45000},
			want: false,
		},
		{
			name: "different title",
			b:    model.Listing{Source: "domhunt", ExternalID: "9", City: "moscow", Title: "3-room apartment on arbat", Price: 45000},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.Duplicate(base, tt.b); got != tt.want {
				t.Errorf("Duplicate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMerge_ExactDuplicates(t *testing.T) {
	l := model.Listing{Source: "cityrent", ExternalID: "1", Title: "flat", Price: 45000}

	results := []model.SourceResult{
		{Source: "cityrent", Listings: []model.Listing{l, l}},
		{Source: "cityrent", Listings: []model.Listing{l}},
	}

	merged := merge(results, nil)
	if len(merged) != 1 {
		t.Errorf("len(merged) = %d, want 1", len(merged))
	}
}

func TestMerge_FuzzyCrossSource(t *testing.T) {
	a := model.Listing{Source: "cityrent", ExternalID: "1", City: "moscow", Title: "Flat on Arbat", Price: 45000}
	b := model.Listing{Source: "domhunt", ExternalID: "77", City: "moscow", Title: "flat on arbat", Price: 45200}

	merged := merge([]model.SourceResult{
		{Source: "cityrent", Listings: []model.Listing{a}},
		{Source: "domhunt", Listings: []model.Listing{b}},
	}, NewPriceTitlePolicy())

	if len(merged) != 1 {
		t.Fatalf("len(merged) = %d, want 1", len(merged))
	}
	// First seen wins.
	if merged[0].Source != "cityrent" {
		t.Errorf("kept source = %q, want cityrent", merged[0].Source)
	}
}

func TestMerge_SameSourceNeverFuzzyDeduped(t *testing.T) {
	a := model.Listing{Source: "cityrent", ExternalID: "1", City: "moscow", Title: "flat on arbat", Price: 45000}
	b := model.Listing{Source: "cityrent", ExternalID: "2", City: "moscow", Title: "flat on arbat", Price: 45000}

	merged := merge([]model.SourceResult{
		{Source: "cityrent", Listings: []model.Listing{a, b}},
	}, NewPriceTitlePolicy())

	if len(merged) != 2 {
		t.Errorf("len(merged) = %d, want 2 (distinct ids in one source stay)", len(merged))
	}
}

func TestMerge_NilPolicyKeepsCrossSource(t *testing.T) {
	a := model.Listing{Source: "cityrent", ExternalID: "1", City: "moscow", Title: "flat", Price: 45000}
	b := model.Listing{Source: "domhunt", ExternalID: "77", City: "moscow", Title: "flat", Price: 45000}

	merged := merge([]model.SourceResult{
		{Source: "cityrent", Listings: []model.Listing{a}},
		{Source: "domhunt", Listings: []model.Listing{b}},
	}, nil)

	if len(merged) != 2 {
		t.Errorf("len(merged) = %d, want 2", len(merged))
	}
}
