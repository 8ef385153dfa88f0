package model

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	q := Query{
		City:     "  Moscow ",
		District: "ARBAT",
		MinPrice: 80000,
		MaxPrice: 40000,
		MinRooms: 3,
		MaxRooms: 1,
		Sources:  []string{"CityRent", "domhunt", "cityrent", " "},
		Limit:    -5,
	}

	n := q.Normalize()

	if n.City != "moscow" {
		t.Errorf("City = %q, want %q", n.City, "moscow")
	}
	if n.District != "arbat" {
		t.Errorf("District = %q, want %q", n.District, "arbat")
	}
	if n.MinPrice != 40000 || n.MaxPrice != 80000 {
		t.Errorf("Price range = %.0f-%.0f, want 40000-80000", n.MinPrice, n.MaxPrice)
	}
	if n.MinRooms != 1 || n.MaxRooms != 3 {
		t.Errorf("Rooms range = %d-%d, want 1-3", n.MinRooms, n.MaxRooms)
	}
	if len(n.Sources) != 2 || n.Sources[0] != "cityrent" || n.Sources[1] != "domhunt" {
		t.Errorf("Sources = %v, want [cityrent domhunt]", n.Sources)
	}
	if n.Limit != 0 {
		t.Errorf("Limit = %d, want 0", n.Limit)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	q := Query{
		City:     " Saint Petersburg ",
		MinPrice: 90000,
		MaxPrice: 30000,
		Sources:  []string{"B", "a", "b"},
	}

	once := q.Normalize()
	twice := once.Normalize()

	if once.CacheKey() != twice.CacheKey() {
		t.Errorf("Normalize is not idempotent: %q vs %q", once.CacheKey(), twice.CacheKey())
	}
}

func TestNormalize_OpenRanges(t *testing.T) {
	// A minimum with no maximum must not be swapped away.
	q := Query{City: "moscow", MinPrice: 50000}.Normalize()
	if q.MinPrice != 50000 || q.MaxPrice != 0 {
		t.Errorf("Open price range changed: min=%.0f max=%.0f", q.MinPrice, q.MaxPrice)
	}
}

func TestCacheKey_Deterministic(t *testing.T) {
	a := Query{City: "Moscow", MinPrice: 30000, MaxPrice: 60000, Sources: []string{"x", "y"}}
	b := Query{City: "moscow ", MinPrice: 30000, MaxPrice: 60000, Sources: []string{"y", "x"}}

	if a.CacheKey() != b.CacheKey() {
		t.Errorf("Equivalent queries produced different keys:\n%s\n%s", a.CacheKey(), b.CacheKey())
	}
}

func TestCacheKey_Distinct(t *testing.T) {
	base := Query{City: "moscow", MinPrice: 30000}
	variants := []Query{
		{City: "kazan", MinPrice: 30000},
		{City: "moscow", MinPrice: 35000},
		{City: "moscow", MinPrice: 30000, MaxRooms: 2},
		{City: "moscow", MinPrice: 30000, Sources: []string{"cityrent"}},
	}

	for _, v := range variants {
		if v.CacheKey() == base.CacheKey() {
			t.Errorf("Query %+v collided with base key %s", v, base.CacheKey())
		}
	}
}

func TestCacheKey_Format(t *testing.T) {
	key := Query{City: "Moscow"}.CacheKey()
	if !strings.HasPrefix(key, "search:moscow:") {
		t.Errorf("Key = %q, want search:moscow: prefix", key)
	}

	empty := Query{}.CacheKey()
	if !strings.HasPrefix(empty, "search:any:") {
		t.Errorf("Key = %q, want search:any: prefix", empty)
	}
}

func TestWantsSource(t *testing.T) {
	q := Query{Sources: []string{"cityrent"}}.Normalize()

	if !q.WantsSource("cityrent") {
		t.Error("WantsSource(cityrent) = false, want true")
	}
	if q.WantsSource("domhunt") {
		t.Error("WantsSource(domhunt) = true, want false")
	}

	open := Query{}
	if !open.WantsSource("anything") {
		t.Error("Empty filter should admit every source")
	}
}
