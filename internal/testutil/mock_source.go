// Package testutil provides testing utilities for the search core.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock source endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockSource is a configurable mock listing-source server for testing.
type MockSource struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount int
	LastQuery    map[string]string
}

// NewMockSource creates a new mock source server.
func NewMockSource() *MockSource {
	mock := &MockSource{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastQuery = make(map[string]string)
		for key, values := range r.URL.Query() {
			if len(values) > 0 {
				mock.LastQuery[key] = values[0]
			}
		}
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockSource) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockSource) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockSource) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastQuery = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockSource) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockSource) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockSource) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// defaultHandler answers with an empty listings payload.
func (m *MockSource) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"listings": []}`))
}

// ListingFixture is the wire shape of one listing in mock payloads.
type ListingFixture struct {
	ID       int64   `json:"id"`
	Title    string  `json:"title"`
	URL      string  `json:"url"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
	Rooms    int     `json:"rooms"`
	Area     float64 `json:"area"`
	City     string  `json:"city"`
	District string  `json:"district"`
	Address  string  `json:"address"`
}

// ListingsBody encodes fixtures into the JSON search response format.
func ListingsBody(fixtures ...ListingFixture) string {
	payload := struct {
		Listings []ListingFixture `json:"listings"`
	}{Listings: fixtures}

	data, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("encode listings fixture: %v", err))
	}
	return string(data)
}

// SampleListings returns n distinct fixtures for a city.
func SampleListings(city string, n int) []ListingFixture {
	fixtures := make([]ListingFixture, n)
	for i := 0; i < n; i++ {
		fixtures[i] = ListingFixture{
			ID:       int64(1000 + i + 1),
			Title:    fmt.Sprintf("2-room apartment %d", i+1),
			URL:      fmt.Sprintf("https://example.com/%s/%d", city, i+1),
			Price:    45000 + float64(i)*1000,
			Currency: "RUB",
			Rooms:    2,
			Area:     54.5,
			City:     city,
		}
	}
	return fixtures
}

// NewHealthyResponse creates a 200 OK response with a listings payload.
func NewHealthyResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "rate limit exceeded"}`,
		Headers: map[string]string{
			"Retry-After":  "10",
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 503 Service Unavailable response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusServiceUnavailable,
		Body:       `{"error": "source temporarily unavailable"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewAuthErrorResponse creates a 403 Forbidden response.
func NewAuthErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Body:       `{"error": "access denied"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewFlakyHandler fails the first n requests with 503, then succeeds.
func NewFlakyHandler(n int, body string) func(w http.ResponseWriter, r *http.Request) {
	var mu sync.Mutex
	var calls int
	return func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		failing := calls <= n
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if failing {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error": "source temporarily unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	}
}

// ListingsHTML renders fixtures as a minimal listing page for HTML adapter
// tests. Card markup matches the default selector set used in tests.
func ListingsHTML(fixtures ...ListingFixture) string {
	page := "<html><body><div class=\"results\">"
	for _, f := range fixtures {
		page += fmt.Sprintf(
			`<article class="card" data-id="%d">`+
				`<a class="card-link" href="%s"><h3 class="card-title">%s</h3></a>`+
				`<span class="card-price">%.0f ₽</span>`+
				`<span class="card-rooms">%d</span>`+
				`<span class="card-area">%.1f м²</span>`+
				`<span class="card-address">%s</span>`+
				`</article>`,
			f.ID, f.URL, f.Title, f.Price, f.Rooms, f.Area, f.Address)
	}
	page += "</div></body></html>"
	return page
}
