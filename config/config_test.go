package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t, "CONCURRENCY", "QUEUE_LIMIT", "SAFE_THRESHOLD", "CACHE_LIMIT", "CACHE_TTL", "TIMEOUT", "MAX_TOKENS")
	cfg := Load()
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 16, cfg.QueueLimit)
	assert.Equal(t, 200, cfg.CacheLimit)
	assert.Equal(t, 300*time.Second, cfg.CacheTTL)
	assert.Equal(t, 30_000*time.Millisecond, cfg.Timeout)
}

func TestLoad_CacheLimitClampedToCeiling(t *testing.T) {
	os.Setenv("CACHE_LIMIT", "5000")
	t.Cleanup(func() { os.Unsetenv("CACHE_LIMIT") })
	cfg := Load()
	assert.Equal(t, maxCacheEntries, cfg.CacheLimit)
}

func TestLoad_CacheTTLClampedTo24h(t *testing.T) {
	os.Setenv("CACHE_TTL", "999999")
	t.Cleanup(func() { os.Unsetenv("CACHE_TTL") })
	cfg := Load()
	assert.Equal(t, maxCacheTTL, cfg.CacheTTL)
}

func TestLoad_SafeThresholdClampsConcurrencyAndQueue(t *testing.T) {
	os.Setenv("SAFE_THRESHOLD", "10")
	os.Setenv("CONCURRENCY", "50")
	os.Setenv("QUEUE_LIMIT", "50")
	t.Cleanup(func() {
		os.Unsetenv("SAFE_THRESHOLD")
		os.Unsetenv("CONCURRENCY")
		os.Unsetenv("QUEUE_LIMIT")
	})

	var clamped []string
	cfg := Load(WithClampWarning(func(field string, requested, c int) { clamped = append(clamped, field) }))

	assert.Equal(t, 10, cfg.Concurrency)
	assert.Equal(t, 10, cfg.QueueLimit)
	// MAX_SOCKETS keeps its default of 50, which is also above the threshold.
	assert.ElementsMatch(t, []string{"CONCURRENCY", "QUEUE_LIMIT", "MAX_SOCKETS"}, clamped)
}

func TestLoad_VerboseBoolParsing(t *testing.T) {
	os.Setenv("VERBOSE", "true")
	t.Cleanup(func() { os.Unsetenv("VERBOSE") })
	cfg := Load()
	assert.True(t, cfg.Verbose)
}

func TestLoad_InvalidIntFallsBackToDefault(t *testing.T) {
	os.Setenv("CONCURRENCY", "not-a-number")
	t.Cleanup(func() { os.Unsetenv("CONCURRENCY") })
	cfg := Load()
	assert.Equal(t, 4, cfg.Concurrency)
}

func TestLoad_MetricIntervalClampedToMinimum(t *testing.T) {
	os.Setenv("METRIC_INTERVAL_MS", "10")
	t.Cleanup(func() { os.Unsetenv("METRIC_INTERVAL_MS") })
	cfg := Load()
	assert.Equal(t, minMetricInterval, cfg.MetricInterval)
}
