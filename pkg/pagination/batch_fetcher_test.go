package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rentscan/search-core/pkg/model"
)

// stubFetcher serves a fixed number of pages with one listing each.
type stubFetcher struct {
	totalPages int
	calls      atomic.Int32
	failPages  map[int]bool
}

func (s *stubFetcher) FetchPage(ctx context.Context, q model.Query, page int) ([]model.Listing, int, error) {
	s.calls.Add(1)
	if s.failPages[page] {
		return nil, s.totalPages, errors.New("page unavailable")
	}
	return []model.Listing{{
		Source:     "stub",
		ExternalID: fmt.Sprintf("%d", page),
		Price:      float64(page * 1000),
	}}, s.totalPages, nil
}

func TestFetchAll_SinglePage(t *testing.T) {
	f := &stubFetcher{totalPages: 1}
	bf := NewBatchFetcher(f, DefaultConfig())

	listings, err := bf.FetchAll(context.Background(), model.Query{City: "moscow"})
	if err != nil {
		t.Fatalf("FetchAll() = %v", err)
	}
	if len(listings) != 1 {
		t.Errorf("len(listings) = %d, want 1", len(listings))
	}
	if f.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", f.calls.Load())
	}
}

func TestFetchAll_MultiPageInOrder(t *testing.T) {
	f := &stubFetcher{totalPages: 5}
	bf := NewBatchFetcher(f, Config{MaxConcurrency: 3, Timeout: time.Second})

	listings, err := bf.FetchAll(context.Background(), model.Query{City: "moscow"})
	if err != nil {
		t.Fatalf("FetchAll() = %v", err)
	}

	if len(listings) != 5 {
		t.Fatalf("len(listings) = %d, want 5", len(listings))
	}
	for i, l := range listings {
		if want := fmt.Sprintf("%d", i+1); l.ExternalID != want {
			t.Errorf("listings[%d].ExternalID = %q, want %q", i, l.ExternalID, want)
		}
	}
	if f.calls.Load() != 5 {
		t.Errorf("calls = %d, want 5", f.calls.Load())
	}
}

func TestFetchAll_FirstPageErrorFails(t *testing.T) {
	f := &stubFetcher{totalPages: 3, failPages: map[int]bool{1: true}}
	bf := NewBatchFetcher(f, DefaultConfig())

	if _, err := bf.FetchAll(context.Background(), model.Query{}); err == nil {
		t.Error("FetchAll() = nil, want error when first page fails")
	}
}

func TestFetchAll_FollowUpPageErrorDegrades(t *testing.T) {
	f := &stubFetcher{totalPages: 4, failPages: map[int]bool{3: true}}
	bf := NewBatchFetcher(f, Config{MaxConcurrency: 2, Timeout: time.Second})

	listings, err := bf.FetchAll(context.Background(), model.Query{})
	if err != nil {
		t.Fatalf("FetchAll() = %v, want partial success", err)
	}
	if len(listings) != 3 {
		t.Errorf("len(listings) = %d, want 3 (failed page dropped)", len(listings))
	}
}

func TestFetchAll_ContextCancelStopsWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &stubFetcher{totalPages: 50}
	bf := NewBatchFetcher(f, Config{MaxConcurrency: 2, Timeout: time.Second})

	// First page still runs (caller's context applies there too in real
	// adapters); workers must stop early instead of draining 49 pages.
	_, _ = bf.FetchAll(ctx, model.Query{})
	if f.calls.Load() > 5 {
		t.Errorf("calls = %d, want workers to stop on cancelled context", f.calls.Load())
	}
}
