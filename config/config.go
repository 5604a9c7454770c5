// Package config loads qerrors-go's environment-variable configuration.
// File-based configuration is out of scope; every option is an
// environment-variable override of a built-in default.
package config

import (
	"os"
	"strconv"
	"time"
)

// safeUpperBound mirrors gate.safeUpperBound; duplicated here rather than
// imported to keep this package free of a dependency on gate for a single
// constant used only for clamp defaults.
const safeUpperBound = 10_000

const (
	maxCacheEntries  = 1000
	maxCacheTTL      = 24 * time.Hour
	minMetricInterval = time.Second
)

// Config is the flat option set recognized by the orchestrator.
type Config struct {
	Concurrency   int
	QueueLimit    int
	SafeThreshold int

	CacheLimit int
	CacheTTL   time.Duration

	RetryAttempts int // reserved: not used by the orchestrator
	RetryBaseMS   int // reserved: not used by the orchestrator
	RetryMaxMS    int // reserved: not used by the orchestrator

	Timeout   time.Duration
	MaxTokens int

	OpenAIURL        string
	OpenAIAPIVersion string

	MaxSockets     int
	MaxFreeSockets int

	MetricInterval time.Duration
	Verbose        bool
	UseSecureCacheKeys bool
}

// Option customizes Load; see WithClampWarning.
type Option func(*loadState)

type loadState struct {
	onClamp func(field string, requested, clamped int)
}

// WithClampWarning registers a callback invoked whenever a configured
// bound is clamped by SafeThreshold.
func WithClampWarning(fn func(field string, requested, clamped int)) Option {
	return func(s *loadState) { s.onClamp = fn }
}

// Load reads the recognized environment variables, applying defaults
// and clamp semantics to each.
func Load(opts ...Option) Config {
	state := &loadState{}
	for _, o := range opts {
		o(state)
	}

	cfg := Config{
		Concurrency:   envInt("CONCURRENCY", 4),
		QueueLimit:    envInt("QUEUE_LIMIT", 16),
		SafeThreshold: envInt("SAFE_THRESHOLD", safeUpperBound),

		CacheLimit: clampInt(envInt("CACHE_LIMIT", 200), 0, maxCacheEntries),
		CacheTTL:   clampDuration(envSeconds("CACHE_TTL", 300), 0, maxCacheTTL),

		RetryAttempts: envInt("RETRY_ATTEMPTS", 0),
		RetryBaseMS:   envInt("RETRY_BASE_MS", 0),
		RetryMaxMS:    envInt("RETRY_MAX_MS", 0),

		Timeout:   envMillis("TIMEOUT", 30_000),
		MaxTokens: envInt("MAX_TOKENS", 512),

		OpenAIURL:        envString("OPENAI_URL", ""),
		OpenAIAPIVersion: envString("OPENAI_API_VERSION", ""),

		MaxSockets:     envInt("MAX_SOCKETS", 50),
		MaxFreeSockets: envInt("MAX_FREE_SOCKETS", 10),

		MetricInterval: clampDurationMin(envMillis("METRIC_INTERVAL_MS", 10_000), minMetricInterval),
		Verbose:            envBool("VERBOSE", false),
		UseSecureCacheKeys: envBool("USE_SECURE_CACHE_KEYS", false),
	}

	if cfg.SafeThreshold > 0 {
		cfg.Concurrency = clampUpper(cfg.Concurrency, cfg.SafeThreshold, "CONCURRENCY", state)
		cfg.QueueLimit = clampUpper(cfg.QueueLimit, cfg.SafeThreshold, "QUEUE_LIMIT", state)
		cfg.MaxSockets = clampUpper(cfg.MaxSockets, cfg.SafeThreshold, "MAX_SOCKETS", state)
		cfg.MaxFreeSockets = clampUpper(cfg.MaxFreeSockets, cfg.SafeThreshold, "MAX_FREE_SOCKETS", state)
	}

	return cfg
}

func clampUpper(value, threshold int, field string, state *loadState) int {
	if value <= threshold {
		return value
	}
	if state.onClamp != nil {
		state.onClamp(field, value, threshold)
	}
	return threshold
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDurationMin(v, lo time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	return v
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envSeconds(key string, defSeconds int) time.Duration {
	return time.Duration(envInt(key, defSeconds)) * time.Second
}

func envMillis(key string, defMillis int) time.Duration {
	return time.Duration(envInt(key, defMillis)) * time.Millisecond
}
