package source

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rentscan/search-core/internal/testutil"
	"github.com/rentscan/search-core/pkg/model"
	"github.com/rentscan/search-core/pkg/resilience"
)

var testSelectors = Selectors{
	Item:           "article.card",
	Title:          ".card-title",
	Price:          ".card-price",
	Rooms:          ".card-rooms",
	Area:           ".card-area",
	Address:        ".card-address",
	ExternalIDAttr: "data-id",
	LinkAttr:       "href",
}

func newTestHTMLAdapter(t *testing.T, mock *testutil.MockSource) *HTMLAdapter {
	t.Helper()
	adapter, err := NewHTMLAdapter(HTMLConfig{
		Name:      "domhunt",
		BaseURL:   mock.URL(),
		Timeout:   5 * time.Second,
		Selectors: testSelectors,
	})
	if err != nil {
		t.Fatalf("NewHTMLAdapter() = %v", err)
	}
	return adapter
}

func serveHTML(mock *testutil.MockSource, body string) {
	mock.SetHandler("/search", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(body))
	})
}

func TestHTMLAdapter_Fetch(t *testing.T) {
	mock := testutil.NewMockSource()
	defer mock.Close()

	serveHTML(mock, testutil.ListingsHTML(
		testutil.ListingFixture{ID: 1001, Title: "2-room apartment", URL: "/flat/1001", Price: 45000, Rooms: 2, Area: 54.5, Address: "Arbat 12"},
		testutil.ListingFixture{ID: 1002, Title: "Studio", URL: "/flat/1002", Price: 30000, Rooms: 1, Area: 28, Address: "Tverskaya 3"},
	))

	adapter := newTestHTMLAdapter(t, mock)
	listings, err := adapter.Fetch(context.Background(), model.Query{City: "moscow"})
	if err != nil {
		t.Fatalf("Fetch() = %v", err)
	}

	if len(listings) != 2 {
		t.Fatalf("len(listings) = %d, want 2", len(listings))
	}
	first := listings[0]
	if first.Source != "domhunt" {
		t.Errorf("Source = %q, want domhunt", first.Source)
	}
	if first.ExternalID != "1001" {
		t.Errorf("ExternalID = %q, want 1001", first.ExternalID)
	}
	if first.Title != "2-room apartment" {
		t.Errorf("Title = %q", first.Title)
	}
	if first.Price != 45000 {
		t.Errorf("Price = %.0f, want 45000", first.Price)
	}
	if first.Rooms != 2 {
		t.Errorf("Rooms = %d, want 2", first.Rooms)
	}
	if first.Area != 54.5 {
		t.Errorf("Area = %.1f, want 54.5", first.Area)
	}
	if !strings.HasPrefix(first.URL, mock.URL()) {
		t.Errorf("URL = %q, want absolute under %s", first.URL, mock.URL())
	}
}

func TestHTMLAdapter_SkipsCardsWithoutID(t *testing.T) {
	mock := testutil.NewMockSource()
	defer mock.Close()

	serveHTML(mock, `<html><body>
		<article class="card" data-id="1"><span class="card-price">45000</span></article>
		<article class="card"><span class="card-price">30000</span></article>
	</body></html>`)

	adapter := newTestHTMLAdapter(t, mock)
	listings, err := adapter.Fetch(context.Background(), model.Query{City: "moscow"})
	if err != nil {
		t.Fatalf("Fetch() = %v", err)
	}
	if len(listings) != 1 {
		t.Errorf("len(listings) = %d, want 1 (card without id skipped)", len(listings))
	}
}

func TestHTMLAdapter_StructureDriftIsParsingError(t *testing.T) {
	mock := testutil.NewMockSource()
	defer mock.Close()

	// Cards match but none has the id attribute: selectors are stale.
	serveHTML(mock, `<html><body>
		<article class="card"><span class="card-price">45000</span></article>
		<article class="card"><span class="card-price">30000</span></article>
	</body></html>`)

	adapter := newTestHTMLAdapter(t, mock)
	_, err := adapter.Fetch(context.Background(), model.Query{City: "moscow"})
	if err == nil {
		t.Fatal("Fetch() = nil, want parsing error")
	}
	if kind := resilience.Classify(err).Kind; kind != resilience.KindParsing {
		t.Errorf("kind = %q, want %q", kind, resilience.KindParsing)
	}
}

func TestHTMLAdapter_EmptyPageIsNotAnError(t *testing.T) {
	mock := testutil.NewMockSource()
	defer mock.Close()

	serveHTML(mock, `<html><body><div class="results"></div></body></html>`)

	adapter := newTestHTMLAdapter(t, mock)
	listings, err := adapter.Fetch(context.Background(), model.Query{City: "nowhere"})
	if err != nil {
		t.Fatalf("Fetch() = %v", err)
	}
	if len(listings) != 0 {
		t.Errorf("len(listings) = %d, want 0", len(listings))
	}
}

func TestHTMLAdapter_StatusMapping(t *testing.T) {
	mock := testutil.NewMockSource()
	defer mock.Close()
	mock.SetResponse("/search", testutil.NewServerErrorResponse())

	adapter := newTestHTMLAdapter(t, mock)
	_, err := adapter.Fetch(context.Background(), model.Query{City: "moscow"})
	if err == nil {
		t.Fatal("Fetch() = nil, want error")
	}
	if kind := resilience.Classify(err).Kind; kind != resilience.KindSourceUnavailable {
		t.Errorf("kind = %q, want %q", kind, resilience.KindSourceUnavailable)
	}
}

func TestHTMLAdapter_CancelledContext(t *testing.T) {
	mock := testutil.NewMockSource()
	defer mock.Close()

	adapter := newTestHTMLAdapter(t, mock)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := adapter.Fetch(ctx, model.Query{City: "moscow"})
	if err == nil {
		t.Fatal("Fetch() = nil, want error for cancelled context")
	}
	if kind := resilience.Classify(err).Kind; kind != resilience.KindTimeout {
		t.Errorf("kind = %q, want %q", kind, resilience.KindTimeout)
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"45 000 ₽", 45000, true},
		{"45 000 ₽", 45000, true},
		{"38,5 м²", 38.5, true},
		{"1.234.567", 1234567, true},
		{"2", 2, true},
		{"от 30000 руб.", 30000, true},
		{"", 0, false},
		{"цена договорная", 0, false},
	}

	for _, tt := range tests {
		got, ok := parseNumber(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseNumber(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
