package integration

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rentscan/search-core/internal/testutil"
	"github.com/rentscan/search-core/pkg/cache"
	"github.com/rentscan/search-core/pkg/model"
	"github.com/rentscan/search-core/pkg/ratelimit"
	"github.com/rentscan/search-core/pkg/resilience"
	"github.com/rentscan/search-core/pkg/search"
	"github.com/rentscan/search-core/pkg/source"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// newStack wires a coordinator over one JSON source and a Redis-backed cache.
func newStack(t *testing.T, redisClient *redis.Client, mock *testutil.MockSource) (*search.Coordinator, *cache.Manager) {
	t.Helper()

	manager := cache.NewManager(cache.Config{
		Redis:      redisClient,
		L1Capacity: 32,
		L1TTL:      time.Minute,
		DefaultTTL: time.Minute,
		Logger:     zerolog.Nop(),
	})

	adapter := source.NewJSONAdapter(source.JSONConfig{
		Name:    "cityrent",
		BaseURL: mock.URL(),
		Timeout: 5 * time.Second,
	})

	limiters := map[string]*ratelimit.Limiter{
		"cityrent": ratelimit.New("cityrent", ratelimit.Config{
			RequestsPerSecond: 100,
			Burst:             10,
			MaxConnections:    4,
		}),
	}
	breakers := resilience.NewRegistry([]string{"cityrent"}, resilience.DefaultBreakerConfig(), zerolog.Nop())

	cfg := search.DefaultConfig()
	cfg.Retry = resilience.RetryConfig{BackoffFactor: 2, MaxDelay: 50 * time.Millisecond}

	coordinator := search.New(cfg, []source.Adapter{adapter}, limiters, breakers,
		manager, search.NewPriceTitlePolicy(), zerolog.Nop())

	return coordinator, manager
}

// TestSearchFlow covers the full path: cache miss → fetch → write-through →
// cache hit, surviving an L1 wipe via the Redis tier.
func TestSearchFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockSource()
	defer mock.Close()
	mock.SetResponse("/listings", testutil.NewHealthyResponse(
		testutil.ListingsBody(testutil.SampleListings("moscow", 3)...)))

	coordinator, manager := newStack(t, redisClient, mock)
	ctx := context.Background()

	result1, err := coordinator.Search(ctx, model.Query{City: "moscow"})
	if err != nil {
		t.Fatalf("first Search() failed: %v", err)
	}
	if len(result1.Listings) != 3 {
		t.Errorf("listings = %d, want 3", len(result1.Listings))
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("source requests = %d, want 1", mock.GetRequestCount())
	}

	// Second search: served from L1, source untouched.
	result2, err := coordinator.Search(ctx, model.Query{City: "Moscow"})
	if err != nil {
		t.Fatalf("second Search() failed: %v", err)
	}
	if !result2.FromCache {
		t.Error("second search not served from cache")
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("source requests = %d, want 1 (cache hit)", mock.GetRequestCount())
	}

	// Drop L1: the entry must come back from Redis, still without a fetch.
	manager.Clear()

	result3, err := coordinator.Search(ctx, model.Query{City: "moscow"})
	if err != nil {
		t.Fatalf("third Search() failed: %v", err)
	}
	if !result3.FromCache {
		t.Error("third search not served from cache after L1 clear")
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("source requests = %d, want 1 (L2 hit)", mock.GetRequestCount())
	}

	stats := manager.Stats()
	if stats.L2.Hits == 0 {
		t.Errorf("L2 hits = 0, want at least 1; stats: %+v", stats)
	}
}

// TestPatternInvalidationAcrossTiers verifies pattern invalidation reaches
// keys held only in Redis.
func TestPatternInvalidationAcrossTiers(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockSource()
	defer mock.Close()
	mock.SetResponse("/listings", testutil.NewHealthyResponse(
		testutil.ListingsBody(testutil.SampleListings("moscow", 1)...)))

	coordinator, manager := newStack(t, redisClient, mock)
	ctx := context.Background()

	if _, err := coordinator.Search(ctx, model.Query{City: "moscow"}); err != nil {
		t.Fatalf("Search() failed: %v", err)
	}

	// Simulate another process: this one's L1 never saw the entry.
	manager.Clear()

	removed, err := coordinator.InvalidatePattern(ctx, "search:moscow:*")
	if err != nil {
		t.Fatalf("InvalidatePattern() failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1 from Redis", removed)
	}

	// Next search must go back to the source.
	if _, err := coordinator.Search(ctx, model.Query{City: "moscow"}); err != nil {
		t.Fatalf("Search() after invalidation failed: %v", err)
	}
	if mock.GetRequestCount() != 2 {
		t.Errorf("source requests = %d, want 2", mock.GetRequestCount())
	}
}

// TestTagInvalidation verifies tag sets written alongside entries remove the
// tagged keys from Redis.
func TestTagInvalidation(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockSource()
	defer mock.Close()
	mock.SetResponse("/listings", testutil.NewHealthyResponse(
		testutil.ListingsBody(testutil.SampleListings("moscow", 1)...)))

	coordinator, manager := newStack(t, redisClient, mock)
	ctx := context.Background()

	if _, err := coordinator.Search(ctx, model.Query{City: "moscow"}); err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if _, err := coordinator.Search(ctx, model.Query{City: "kazan"}); err != nil {
		t.Fatalf("Search() failed: %v", err)
	}

	manager.Clear()

	removed, err := coordinator.InvalidateTag(ctx, "city:moscow")
	if err != nil {
		t.Fatalf("InvalidateTag() failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	// The kazan entry must still be served from Redis.
	result, err := coordinator.Search(ctx, model.Query{City: "kazan"})
	if err != nil {
		t.Fatalf("Search(kazan) failed: %v", err)
	}
	if !result.FromCache {
		t.Error("untagged entry lost during tag invalidation")
	}
}

// TestRetryAgainstFlakySource verifies transient 503s are retried through to
// success against a real Redis-backed stack.
func TestRetryAgainstFlakySource(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockSource()
	defer mock.Close()
	mock.SetHandler("/listings", testutil.NewFlakyHandler(2,
		testutil.ListingsBody(testutil.SampleListings("moscow", 2)...)))

	coordinator, _ := newStack(t, redisClient, mock)

	result, err := coordinator.Search(context.Background(), model.Query{City: "moscow"})
	if err != nil {
		t.Fatalf("Search() failed after retries: %v", err)
	}
	if len(result.Listings) != 2 {
		t.Errorf("listings = %d, want 2", len(result.Listings))
	}
	if mock.GetRequestCount() != 3 {
		t.Errorf("source requests = %d, want 3 (2 failures + 1 success)", mock.GetRequestCount())
	}
}
