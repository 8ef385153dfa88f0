// Package config loads the engine configuration from the environment at
// startup. Nothing here is mutated at runtime.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// SourceConfig describes one configured listing source.
type SourceConfig struct {
	Name          string
	Kind          string // "json" or "html"
	BaseURL       string
	APIKey        string
	AllowedDomain string
	UserAgent     string

	Timeout           time.Duration
	RequestsPerSecond float64
	MaxConnections    int
}

// Config is the full startup configuration.
type Config struct {
	ListenAddr string
	RedisAddr  string

	LogLevel  string
	LogPretty bool

	L1Capacity int
	L1TTL      time.Duration
	CacheTTL   time.Duration

	PerSourceTimeout time.Duration
	GlobalTimeout    time.Duration

	FailureThreshold int
	RecoveryTimeout  time.Duration

	Sources []SourceConfig
}

// Load reads configuration from the environment. A .env file in the working
// directory is honored when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		ListenAddr: getEnv("SEARCH_LISTEN_ADDR", ":8080"),
		RedisAddr:  getEnv("SEARCH_REDIS_ADDR", "localhost:6379"),

		LogLevel:  getEnv("SEARCH_LOG_LEVEL", "info"),
		LogPretty: getBool("SEARCH_LOG_PRETTY", false),

		L1Capacity: getInt("SEARCH_CACHE_L1_CAPACITY", 1000),
		L1TTL:      getDuration("SEARCH_CACHE_L1_TTL", 5*time.Minute),
		CacheTTL:   getDuration("SEARCH_CACHE_TTL", 10*time.Minute),

		PerSourceTimeout: getDuration("SEARCH_SOURCE_TIMEOUT", 15*time.Second),
		GlobalTimeout:    getDuration("SEARCH_GLOBAL_TIMEOUT", 45*time.Second),

		FailureThreshold: getInt("SEARCH_BREAKER_THRESHOLD", 5),
		RecoveryTimeout:  getDuration("SEARCH_BREAKER_RECOVERY", 60*time.Second),
	}

	names := strings.Split(getEnv("SEARCH_SOURCES", ""), ",")
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		src, err := loadSource(name)
		if err != nil {
			return Config{}, err
		}
		cfg.Sources = append(cfg.Sources, src)
	}

	return cfg, nil
}

// loadSource reads one source's settings from SEARCH_SOURCE_<NAME>_* vars.
func loadSource(name string) (SourceConfig, error) {
	prefix := "SEARCH_SOURCE_" + strings.ToUpper(name) + "_"

	baseURL := os.Getenv(prefix + "URL")
	if baseURL == "" {
		return SourceConfig{}, fmt.Errorf("source %q: %sURL is required", name, prefix)
	}

	kind := getEnv(prefix+"KIND", "json")
	if kind != "json" && kind != "html" {
		return SourceConfig{}, fmt.Errorf("source %q: unsupported kind %q", name, kind)
	}

	return SourceConfig{
		Name:          strings.ToLower(name),
		Kind:          kind,
		BaseURL:       baseURL,
		APIKey:        os.Getenv(prefix + "API_KEY"),
		AllowedDomain: os.Getenv(prefix + "DOMAIN"),
		UserAgent:     getEnv(prefix+"USER_AGENT", "rentscan-search/1.0"),

		Timeout:           getDuration(prefix+"TIMEOUT", 15*time.Second),
		RequestsPerSecond: getFloat(prefix+"RPS", 5),
		MaxConnections:    getInt(prefix+"MAX_CONNS", 10),
	}, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
