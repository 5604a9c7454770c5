// Package cache implements a bounded, TTL-evicting advice cache: a
// doubly-linked-list LRU store keyed by error fingerprint, with a
// background reaper for time-based eviction.
package cache

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MaxEntriesCeiling and MaxTTL are the clamps construction applies to
// caller-supplied bounds.
const (
	MaxEntriesCeiling = 1000
	MaxTTL            = 24 * time.Hour
	minReapInterval   = 60 * time.Second
)

// Advice is the opaque, immutable remediation payload returned by a
// provider and held by the cache. Callers must not mutate a value
// obtained from Get.
type Advice = any

// Config configures a Cache. MaxEntries and TTL are clamped on
// construction; a value of 0 for either disables caching entirely: Get
// always reports a miss and Put is a no-op.
type Config struct {
	MaxEntries int
	TTL        time.Duration
	Namespace  string // metrics label, e.g. provider id
}

type entry struct {
	key           string
	value         Advice
	insertedAt    time.Time
	lastAccessAt  time.Time
	prev, next    *entry
}

// Cache is a single-writer LRU with per-entry TTL and a lazily-started
// background reaper. It is safe for concurrent readers and a single
// concurrent writer per instance.
type Cache struct {
	mu         sync.Mutex
	maxEntries int
	ttl        time.Duration
	disabled   bool

	items      map[string]*entry
	head, tail *entry // head = most recently used

	reapStop   chan struct{}
	reapActive bool

	hits, misses int64

	sizeGauge   prometheus.Gauge
	hitCounter  prometheus.Counter
	missCounter prometheus.Counter
}

// New constructs a Cache, clamping MaxEntries to [0, MaxEntriesCeiling]
// and TTL to [0, MaxTTL].
func New(cfg Config) *Cache {
	maxEntries := cfg.MaxEntries
	if maxEntries < 0 {
		maxEntries = 0
	}
	if maxEntries > MaxEntriesCeiling {
		maxEntries = MaxEntriesCeiling
	}
	ttl := cfg.TTL
	if ttl < 0 {
		ttl = 0
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}

	ns := cfg.Namespace
	if ns == "" {
		ns = "default"
	}

	return &Cache{
		maxEntries: maxEntries,
		ttl:        ttl,
		disabled:   maxEntries == 0 || ttl == 0,
		items:      make(map[string]*entry),
		sizeGauge:  adviceCacheSize.WithLabelValues(ns),
		hitCounter: adviceCacheHits.WithLabelValues(ns),
		missCounter: adviceCacheMisses.WithLabelValues(ns),
	}
}

// Get returns the cached advice for key if present and not expired,
// updating lastAccessAt and moving the entry to the front of the LRU
// list. An expired entry found on read is removed before reporting a
// miss.
func (c *Cache) Get(key string) (Advice, bool) {
	if c.disabled {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		c.missCounter.Inc()
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.missCounter.Inc()
		c.misses++
		return nil, false
	}
	if time.Since(e.insertedAt) > c.ttl {
		c.removeLocked(e)
		c.missCounter.Inc()
		c.misses++
		return nil, false
	}

	e.lastAccessAt = time.Now()
	c.moveToFrontLocked(e)
	c.hitCounter.Inc()
	c.hits++
	return e.value, true
}

// Put inserts or overwrites the entry for key. If inserting would exceed
// maxEntries, the least-recently-accessed entries are evicted until the
// invariant holds. Put is a no-op when caching is disabled.
func (c *Cache) Put(key string, advice Advice) {
	if c.disabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if e, ok := c.items[key]; ok {
		e.value = advice
		e.insertedAt = now
		e.lastAccessAt = now
		c.moveToFrontLocked(e)
		return
	}

	for len(c.items) >= c.maxEntries {
		if c.tail == nil {
			break
		}
		c.removeLocked(c.tail)
	}

	e := &entry{key: key, value: advice, insertedAt: now, lastAccessAt: now}
	c.items[key] = e
	c.addToFrontLocked(e)
	c.sizeGauge.Set(float64(len(c.items)))

	c.ensureReaperLocked()
}

// PurgeExpired removes all entries whose age exceeds TTL. Safe to call on
// demand as well as from the background reaper.
func (c *Cache) PurgeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeExpiredLocked()
}

func (c *Cache) purgeExpiredLocked() {
	now := time.Now()
	e := c.tail
	for e != nil {
		prev := e.prev
		if now.Sub(e.insertedAt) > c.ttl {
			c.removeLocked(e)
		}
		e = prev
	}
	if len(c.items) == 0 {
		c.stopReaperLocked()
	}
}

// Clear removes all entries and stops the reaper.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*entry)
	c.head, c.tail = nil, nil
	c.sizeGauge.Set(0)
	c.stopReaperLocked()
}

// Len reports the current number of live entries (may include entries
// not yet reaped past their TTL but still counted as live until the next
// Get/reap observes the expiry).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats is a point-in-time snapshot of cache occupancy, mirroring the
// gauge/counter pair already published to Prometheus.
type Stats struct {
	Entries int
	Hits    int64
	Misses  int64
}

// Stats returns a snapshot of the cache's current size and cumulative
// hit/miss counts.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: len(c.items), Hits: c.hits, Misses: c.misses}
}

// StartReaper starts the background purge timer if it is not already
// running, caching is enabled, and the cache holds at least one entry.
// Called automatically by Put; exposed for administration.
func (c *Cache) StartReaper() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureReaperLocked()
}

// StopReaper stops the background purge timer. Safe to call repeatedly.
func (c *Cache) StopReaper() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopReaperLocked()
}

func (c *Cache) ensureReaperLocked() {
	if c.disabled || c.reapActive || len(c.items) == 0 {
		return
	}
	interval := c.ttl / 4
	if interval < minReapInterval {
		interval = minReapInterval
	}

	c.reapActive = true
	c.reapStop = make(chan struct{})
	stop := c.reapStop
	go c.reapLoop(interval, stop)
}

func (c *Cache) stopReaperLocked() {
	if !c.reapActive {
		return
	}
	close(c.reapStop)
	c.reapActive = false
}

func (c *Cache) reapLoop(interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.PurgeExpired()
		}
	}
}

// --- doubly linked list helpers (caller must hold c.mu) ---

func (c *Cache) addToFrontLocked(e *entry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *Cache) removeLocked(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	delete(c.items, e.key)
	c.sizeGauge.Set(float64(len(c.items)))
}

func (c *Cache) moveToFrontLocked(e *entry) {
	if e == c.head {
		return
	}
	// detach
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if e == c.tail {
		c.tail = e.prev
	}
	c.addToFrontLocked(e)
}
