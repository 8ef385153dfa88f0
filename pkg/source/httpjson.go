package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rentscan/search-core/pkg/model"
	"github.com/rentscan/search-core/pkg/pagination"
	"github.com/rentscan/search-core/pkg/resilience"
)

// JSONConfig configures an HTTP/JSON API source.
type JSONConfig struct {
	// Name identifies the source in results, metrics, and breaker state.
	Name string

	// BaseURL is the API root, e.g. "https://api.cityrent.example".
	BaseURL string

	// APIKey, when set, is sent as X-Api-Key.
	APIKey string

	// Timeout bounds a single HTTP request.
	Timeout time.Duration

	// MaxConns bounds the adapter's connection pool to the source host.
	MaxConns int
}

// JSONAdapter fetches listings from a JSON search API. The underlying HTTP
// client and its bounded connection pool are shared across all concurrent
// requests to the source.
type JSONAdapter struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
	batch   *pagination.BatchFetcher
}

// jsonListing is the wire shape of one record on the search endpoint.
type jsonListing struct {
	ID          json.Number `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	URL         string      `json:"url"`
	Price       float64     `json:"price"`
	Currency    string      `json:"currency"`
	Rooms       int         `json:"rooms"`
	Area        float64     `json:"area"`
	Floor       int         `json:"floor"`
	City        string      `json:"city"`
	District    string      `json:"district"`
	Address     string      `json:"address"`
	Photos      []string    `json:"photos"`
}

type jsonSearchResponse struct {
	Listings []jsonListing `json:"listings"`

	// Pages is the total page count of the result set; absent means one page.
	Pages int `json:"pages,omitempty"`
}

// NewJSONAdapter creates an adapter for a JSON API source.
func NewJSONAdapter(cfg JSONConfig) *JSONAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 10
	}
	a := &JSONAdapter{
		name:    cfg.Name,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxConnsPerHost:     cfg.MaxConns,
				MaxIdleConnsPerHost: cfg.MaxConns,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	a.batch = pagination.NewBatchFetcher(a, pagination.Config{
		MaxConcurrency: cfg.MaxConns,
		Timeout:        cfg.Timeout,
	})
	return a
}

// Name implements Adapter.
func (a *JSONAdapter) Name() string {
	return a.name
}

// Fetch implements Adapter. Multi-page result sets are fetched through the
// batch fetcher; failures on follow-up pages degrade to partial data.
func (a *JSONAdapter) Fetch(ctx context.Context, q model.Query) ([]model.Listing, error) {
	listings, err := a.batch.FetchAll(ctx, q)
	if err != nil {
		return nil, err
	}
	return normalize(a.name, listings)
}

// FetchPage implements pagination.PageFetcher. Transport failures classify
// as network or timeout errors, non-2xx statuses map through the shared HTTP
// status table, and a malformed body is a parsing error, never retried.
func (a *JSONAdapter) FetchPage(ctx context.Context, q model.Query, page int) ([]model.Listing, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.searchURL(q, page), nil)
	if err != nil {
		return nil, 0, resilience.NewSourceError(resilience.KindValidation, a.name, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if a.apiKey != "" {
		req.Header.Set("X-Api-Key", a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, a.transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, resilience.FromHTTPStatus(a.name, resp.StatusCode)
	}

	var payload jsonSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, 0, resilience.NewSourceError(resilience.KindParsing, a.name, "decode search response", err)
	}

	listings := make([]model.Listing, 0, len(payload.Listings))
	for _, raw := range payload.Listings {
		listings = append(listings, model.Listing{
			ExternalID:  raw.ID.String(),
			Title:       raw.Title,
			Description: raw.Description,
			URL:         raw.URL,
			Price:       raw.Price,
			Currency:    raw.Currency,
			Rooms:       raw.Rooms,
			Area:        raw.Area,
			Floor:       raw.Floor,
			City:        raw.City,
			District:    raw.District,
			Address:     raw.Address,
			Photos:      raw.Photos,
		})
	}

	pages := payload.Pages
	if pages < 1 {
		pages = 1
	}
	return listings, pages, nil
}

// searchURL builds the search endpoint URL from the normalized query.
func (a *JSONAdapter) searchURL(q model.Query, page int) string {
	params := url.Values{}
	if q.City != "" {
		params.Set("city", q.City)
	}
	if q.District != "" {
		params.Set("district", q.District)
	}
	if q.MinPrice > 0 {
		params.Set("min_price", strconv.FormatFloat(q.MinPrice, 'f', -1, 64))
	}
	if q.MaxPrice > 0 {
		params.Set("max_price", strconv.FormatFloat(q.MaxPrice, 'f', -1, 64))
	}
	if q.MinRooms > 0 {
		params.Set("min_rooms", strconv.Itoa(q.MinRooms))
	}
	if q.MaxRooms > 0 {
		params.Set("max_rooms", strconv.Itoa(q.MaxRooms))
	}
	if q.MinArea > 0 {
		params.Set("min_area", strconv.FormatFloat(q.MinArea, 'f', -1, 64))
	}
	if q.MaxArea > 0 {
		params.Set("max_area", strconv.FormatFloat(q.MaxArea, 'f', -1, 64))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if page > 1 {
		params.Set("page", strconv.Itoa(page))
	}
	return fmt.Sprintf("%s/listings?%s", a.baseURL, params.Encode())
}

// transportError maps HTTP client failures onto the error taxonomy.
func (a *JSONAdapter) transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return resilience.NewSourceError(resilience.KindTimeout, a.name, "request deadline exceeded", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return resilience.NewSourceError(resilience.KindTimeout, a.name, "request timed out", err)
	}
	return resilience.NewSourceError(resilience.KindNetwork, a.name, "request failed", err)
}
