package source

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/rentscan/search-core/pkg/model"
	"github.com/rentscan/search-core/pkg/resilience"
)

// Selectors maps listing-card fields to CSS selectors. ExternalIDAttr and
// LinkAttr name attributes read from the matched card element.
type Selectors struct {
	Item           string
	Title          string
	Price          string
	Rooms          string
	Area           string
	Address        string
	ExternalIDAttr string
	LinkAttr       string
}

// HTMLConfig configures a static-HTML source scraped with colly.
type HTMLConfig struct {
	Name          string
	BaseURL       string
	AllowedDomain string
	UserAgent     string

	// Parallelism and delays feed the per-domain colly limit rule.
	Parallelism int
	Delay       time.Duration
	RandomDelay time.Duration

	Timeout   time.Duration
	Selectors Selectors
}

// HTMLAdapter scrapes listing cards from a search results page. A parent
// collector carries the domain limit rule; each fetch works on a clone so
// handlers never leak between calls.
type HTMLAdapter struct {
	name      string
	baseURL   string
	timeout   time.Duration
	selectors Selectors
	collector *colly.Collector
}

var numberPattern = regexp.MustCompile(`[\d][\d\s\x{00A0}.,]*`)

// NewHTMLAdapter creates a colly-backed adapter for an HTML source.
func NewHTMLAdapter(cfg HTMLConfig) (*HTMLAdapter, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 2
	}

	opts := []colly.CollectorOption{}
	if cfg.AllowedDomain != "" {
		opts = append(opts, colly.AllowedDomains(cfg.AllowedDomain))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}

	c := colly.NewCollector(opts...)
	c.SetRequestTimeout(cfg.Timeout)

	rule := &colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}
	if cfg.AllowedDomain != "" {
		rule.DomainGlob = "*" + cfg.AllowedDomain
	}
	if err := c.Limit(rule); err != nil {
		return nil, fmt.Errorf("%s: set limit rule: %w", cfg.Name, err)
	}

	return &HTMLAdapter{
		name:      cfg.Name,
		baseURL:   cfg.BaseURL,
		timeout:   cfg.Timeout,
		selectors: cfg.Selectors,
		collector: c,
	}, nil
}

// Name implements Adapter.
func (a *HTMLAdapter) Name() string {
	return a.name
}

// Fetch implements Adapter. Each call clones the parent collector: the clone
// inherits the limit rule but gets its own handlers and result slice.
func (a *HTMLAdapter) Fetch(ctx context.Context, q model.Query) ([]model.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, resilience.NewSourceError(resilience.KindTimeout, a.name, "context done before fetch", err)
	}

	collector := a.collector.Clone()

	var (
		listings []model.Listing
		parsed   int
		fetchErr error
	)

	collector.OnHTML(a.selectors.Item, func(e *colly.HTMLElement) {
		parsed++
		listing, ok := a.extract(e)
		if !ok {
			return
		}
		listings = append(listings, listing)
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			fetchErr = resilience.FromHTTPStatus(a.name, r.StatusCode)
			return
		}
		if strings.Contains(err.Error(), "Client.Timeout") || ctx.Err() != nil {
			fetchErr = resilience.NewSourceError(resilience.KindTimeout, a.name, "page fetch timed out", err)
			return
		}
		fetchErr = resilience.NewSourceError(resilience.KindNetwork, a.name, "page fetch failed", err)
	})

	if err := collector.Visit(a.searchURL(q)); err != nil {
		if fetchErr != nil {
			return nil, fetchErr
		}
		return nil, resilience.NewSourceError(resilience.KindNetwork, a.name, "visit search page", err)
	}
	collector.Wait()

	if fetchErr != nil {
		return nil, fetchErr
	}

	// Cards matched but none yielded usable data: the page structure moved
	// under our selectors.
	if parsed > 0 && len(listings) == 0 {
		return nil, resilience.NewSourceError(resilience.KindParsing, a.name,
			fmt.Sprintf("no usable listings in %d matched cards", parsed), nil)
	}

	return normalize(a.name, listings)
}

// extract pulls one listing out of a matched card. Cards without an id or a
// parseable price are skipped.
func (a *HTMLAdapter) extract(e *colly.HTMLElement) (model.Listing, bool) {
	id := e.Attr(a.selectors.ExternalIDAttr)
	if id == "" {
		return model.Listing{}, false
	}

	price, ok := parseNumber(e.ChildText(a.selectors.Price))
	if !ok {
		return model.Listing{}, false
	}

	listing := model.Listing{
		ExternalID: id,
		Title:      strings.TrimSpace(e.ChildText(a.selectors.Title)),
		Price:      price,
		Address:    strings.TrimSpace(e.ChildText(a.selectors.Address)),
	}

	if a.selectors.LinkAttr != "" {
		if href := e.ChildAttr("a", a.selectors.LinkAttr); href != "" {
			listing.URL = e.Request.AbsoluteURL(href)
		}
	}
	if rooms, ok := parseNumber(e.ChildText(a.selectors.Rooms)); ok {
		listing.Rooms = int(rooms)
	}
	if area, ok := parseNumber(e.ChildText(a.selectors.Area)); ok {
		listing.Area = area
	}

	return listing, true
}

// searchURL builds the results-page URL for the query.
func (a *HTMLAdapter) searchURL(q model.Query) string {
	params := url.Values{}
	if q.City != "" {
		params.Set("city", q.City)
	}
	if q.MaxPrice > 0 {
		params.Set("price_max", strconv.FormatFloat(q.MaxPrice, 'f', 0, 64))
	}
	if q.MinPrice > 0 {
		params.Set("price_min", strconv.FormatFloat(q.MinPrice, 'f', 0, 64))
	}
	if q.MinRooms > 0 {
		params.Set("rooms", strconv.Itoa(q.MinRooms))
	}
	if len(params) == 0 {
		return a.baseURL + "/search"
	}
	return a.baseURL + "/search?" + params.Encode()
}

// parseNumber extracts the first number from strings like "45 000 ₽" or
// "38,5 м²".
func parseNumber(s string) (float64, bool) {
	match := numberPattern.FindString(s)
	if match == "" {
		return 0, false
	}
	match = strings.ReplaceAll(match, " ", "")
	match = strings.ReplaceAll(match, " ", "")
	match = strings.ReplaceAll(match, ",", ".")
	// "45.000" style thousand separators keep only the last dot.
	if strings.Count(match, ".") > 1 {
		last := strings.LastIndex(match, ".")
		match = strings.ReplaceAll(match[:last], ".", "") + match[last:]
	}
	value, err := strconv.ParseFloat(strings.TrimSuffix(match, "."), 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
