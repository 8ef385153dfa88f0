// Command searchd runs the listing search service: an HTTP front over the
// retrieval coordinator with cache administration and health endpoints.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/rentscan/search-core/pkg/cache"
	"github.com/rentscan/search-core/pkg/config"
	"github.com/rentscan/search-core/pkg/logging"
	"github.com/rentscan/search-core/pkg/model"
	"github.com/rentscan/search-core/pkg/ratelimit"
	"github.com/rentscan/search-core/pkg/resilience"
	"github.com/rentscan/search-core/pkg/search"
	"github.com/rentscan/search-core/pkg/source"
)

// defaultSelectors matches the card markup most listing pages use. Sites
// with different markup get dedicated selector sets here as they are added.
var defaultSelectors = source.Selectors{
	Item:           "article.card",
	Title:          ".card-title",
	Price:          ".card-price",
	Rooms:          ".card-rooms",
	Area:           ".card-area",
	Address:        ".card-address",
	ExternalIDAttr: "data-id",
	LinkAttr:       "href",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
	})

	ctx := context.Background()

	var redisClient *redis.Client
	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rc.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.RedisAddr).
			Msg("Redis unavailable, running with in-process cache only")
	} else {
		redisClient = rc
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis")
	}

	cacheManager := cache.NewManager(cache.Config{
		Redis:      redisClient,
		L1Capacity: cfg.L1Capacity,
		L1TTL:      cfg.L1TTL,
		DefaultTTL: cfg.CacheTTL,
		Logger:     logger,
	})

	adapters, limiters, err := buildSources(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build source adapters")
	}
	if len(adapters) == 0 {
		logger.Fatal().Msg("No sources configured, set SEARCH_SOURCES")
	}

	names := make([]string, 0, len(adapters))
	for _, a := range adapters {
		names = append(names, a.Name())
	}
	breakers := resilience.NewRegistry(names, resilience.BreakerConfig{
		FailureThreshold: cfg.FailureThreshold,
		RecoveryTimeout:  cfg.RecoveryTimeout,
	}, logger)

	searchCfg := search.DefaultConfig()
	searchCfg.PerSourceTimeout = cfg.PerSourceTimeout
	searchCfg.GlobalTimeout = cfg.GlobalTimeout
	searchCfg.CacheTTL = cfg.CacheTTL

	coordinator := search.New(searchCfg, adapters, limiters, breakers,
		cacheManager, search.NewPriceTitlePolicy(), logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/search", searchHandler(coordinator))
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/health/sources", sourceHealthHandler(coordinator))
	mux.HandleFunc("/cache/stats", cacheStatsHandler(coordinator))
	mux.HandleFunc("/cache/invalidate", invalidateHandler(coordinator))
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.GlobalTimeout + 5*time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Strs("sources", names).
			Msg("Starting search service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Shutdown incomplete")
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
}

// buildSources instantiates adapters and per-source limiters from config.
func buildSources(cfg config.Config) ([]source.Adapter, map[string]*ratelimit.Limiter, error) {
	adapters := make([]source.Adapter, 0, len(cfg.Sources))
	limiters := make(map[string]*ratelimit.Limiter, len(cfg.Sources))

	for _, sc := range cfg.Sources {
		var adapter source.Adapter
		switch sc.Kind {
		case "json":
			adapter = source.NewJSONAdapter(source.JSONConfig{
				Name:     sc.Name,
				BaseURL:  sc.BaseURL,
				APIKey:   sc.APIKey,
				Timeout:  sc.Timeout,
				MaxConns: sc.MaxConnections,
			})
		case "html":
			html, err := source.NewHTMLAdapter(source.HTMLConfig{
				Name:          sc.Name,
				BaseURL:       sc.BaseURL,
				AllowedDomain: sc.AllowedDomain,
				UserAgent:     sc.UserAgent,
				Parallelism:   sc.MaxConnections,
				Timeout:       sc.Timeout,
				Selectors:     defaultSelectors,
			})
			if err != nil {
				return nil, nil, fmt.Errorf("source %q: %w", sc.Name, err)
			}
			adapter = html
		default:
			return nil, nil, fmt.Errorf("source %q: unsupported kind %q", sc.Name, sc.Kind)
		}

		adapters = append(adapters, adapter)
		limiters[sc.Name] = ratelimit.New(sc.Name, ratelimit.Config{
			RequestsPerSecond: sc.RequestsPerSecond,
			Burst:             int(sc.RequestsPerSecond),
			MaxConnections:    sc.MaxConnections,
		})
	}

	return adapters, limiters, nil
}

func searchHandler(c *search.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		q, err := queryFromRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		result, err := c.Search(r.Context(), q)
		switch {
		case errors.Is(err, search.ErrNoSources):
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		case errors.Is(err, search.ErrAllSourcesFailed):
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		case err != nil:
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

// queryFromRequest maps URL parameters onto a search query.
func queryFromRequest(r *http.Request) (model.Query, error) {
	params := r.URL.Query()

	q := model.Query{
		City:     params.Get("city"),
		District: params.Get("district"),
		SortBy:   model.SortOrder(params.Get("sort")),
	}
	if q.City == "" {
		return model.Query{}, errors.New("city parameter is required")
	}

	var err error
	if q.MinPrice, err = floatParam(params.Get("min_price")); err != nil {
		return model.Query{}, fmt.Errorf("min_price: %w", err)
	}
	if q.MaxPrice, err = floatParam(params.Get("max_price")); err != nil {
		return model.Query{}, fmt.Errorf("max_price: %w", err)
	}
	if q.MinArea, err = floatParam(params.Get("min_area")); err != nil {
		return model.Query{}, fmt.Errorf("min_area: %w", err)
	}
	if q.MaxArea, err = floatParam(params.Get("max_area")); err != nil {
		return model.Query{}, fmt.Errorf("max_area: %w", err)
	}
	if q.MinRooms, err = intParam(params.Get("min_rooms")); err != nil {
		return model.Query{}, fmt.Errorf("min_rooms: %w", err)
	}
	if q.MaxRooms, err = intParam(params.Get("max_rooms")); err != nil {
		return model.Query{}, fmt.Errorf("max_rooms: %w", err)
	}
	if q.Limit, err = intParam(params.Get("limit")); err != nil {
		return model.Query{}, fmt.Errorf("limit: %w", err)
	}

	if sources := params.Get("sources"); sources != "" {
		q.Sources = strings.Split(sources, ",")
	}

	return q, nil
}

func floatParam(value string) (float64, error) {
	if value == "" {
		return 0, nil
	}
	return strconv.ParseFloat(value, 64)
}

func intParam(value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	return strconv.Atoi(value)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func sourceHealthHandler(c *search.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, c.HealthAll())
	}
}

func cacheStatsHandler(c *search.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, c.CacheStats())
	}
}

// invalidateHandler drops cached results by key pattern or tag.
// POST /cache/invalidate?pattern=search:moscow:*
// POST /cache/invalidate?tag=source:cityrent
func invalidateHandler(c *search.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		pattern := r.URL.Query().Get("pattern")
		tag := r.URL.Query().Get("tag")

		var removed int
		var err error
		switch {
		case pattern != "" && tag != "":
			http.Error(w, "pass either pattern or tag, not both", http.StatusBadRequest)
			return
		case pattern != "":
			removed, err = c.InvalidatePattern(r.Context(), pattern)
		case tag != "":
			removed, err = c.InvalidateTag(r.Context(), tag)
		default:
			http.Error(w, "pattern or tag parameter is required", http.StatusBadRequest)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
