// Package pagination provides parallel fetching of multi-page source results.
package pagination

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rentscan/search-core/pkg/model"
)

// Config holds batch fetcher configuration.
type Config struct {
	// MaxConcurrency is the maximum number of parallel page fetches.
	MaxConcurrency int

	// Timeout bounds a single page fetch.
	Timeout time.Duration
}

// DefaultConfig returns safe defaults for listing sources.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
	}
}

// PageFetcher fetches a single result page and reports the total page count.
type PageFetcher interface {
	FetchPage(ctx context.Context, q model.Query, page int) (listings []model.Listing, totalPages int, err error)
}

// pageResult carries one fetched page through the worker pool.
type pageResult struct {
	page     int
	listings []model.Listing
}

// BatchFetcher fans a paginated search result out to a worker pool. Page 1
// is always fetched first to learn the total page count; failed follow-up
// pages are dropped so one bad page never sinks the whole result set.
type BatchFetcher struct {
	fetcher PageFetcher
	cfg     Config
}

// NewBatchFetcher creates a batch fetcher over the given page fetcher.
func NewBatchFetcher(fetcher PageFetcher, cfg Config) *BatchFetcher {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &BatchFetcher{fetcher: fetcher, cfg: cfg}
}

// FetchAll returns the listings of every page of the result set, in page
// order. An error is returned only when the first page fails; later pages
// degrade to partial data.
func (bf *BatchFetcher) FetchAll(ctx context.Context, q model.Query) ([]model.Listing, error) {
	start := time.Now()

	first, totalPages, err := bf.fetcher.FetchPage(ctx, q, 1)
	if err != nil {
		return nil, fmt.Errorf("fetch first page: %w", err)
	}
	if totalPages <= 1 {
		return first, nil
	}

	log.Debug().
		Int("total_pages", totalPages).
		Msg("Fetching result pages in parallel")

	pageQueue := make(chan int, totalPages)
	results := make(chan pageResult, totalPages)

	for page := 2; page <= totalPages; page++ {
		pageQueue <- page
	}
	close(pageQueue)

	var wg sync.WaitGroup
	workers := bf.cfg.MaxConcurrency
	if workers > totalPages-1 {
		workers = totalPages - 1
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go bf.worker(ctx, q, pageQueue, results, &wg)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	pages := []pageResult{{page: 1, listings: first}}
	for res := range results {
		pages = append(pages, res)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].page < pages[j].page })

	var listings []model.Listing
	for _, p := range pages {
		listings = append(listings, p.listings...)
	}

	log.Debug().
		Int("pages", len(pages)).
		Int("total", totalPages).
		Int("listings", len(listings)).
		Dur("duration", time.Since(start)).
		Msg("Page fetch complete")

	return listings, nil
}

// worker drains the page queue until it is empty or the context is done.
func (bf *BatchFetcher) worker(ctx context.Context, q model.Query, pageQueue <-chan int, results chan<- pageResult, wg *sync.WaitGroup) {
	defer wg.Done()

	for page := range pageQueue {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pageCtx, cancel := context.WithTimeout(ctx, bf.cfg.Timeout)
		listings, _, err := bf.fetcher.FetchPage(pageCtx, q, page)
		cancel()

		if err != nil {
			log.Warn().Err(err).Int("page", page).Msg("Page fetch failed, dropping page")
			continue
		}

		select {
		case results <- pageResult{page: page, listings: listings}:
		case <-ctx.Done():
			return
		}
	}
}
