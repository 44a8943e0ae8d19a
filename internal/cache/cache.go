// Package cache provides a TTL- and capacity-bounded cache of read-query
// results, keyed by a canonical hash of the query parameters. Eviction under
// capacity pressure removes the entry with the oldest insertion timestamp;
// expiry is lazy, on read.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dskow/datagate-core/internal/metrics"
)

// Params are the raw read-query parameters a caller supplies. The cache
// derives the canonical key itself so semantically identical queries always
// collide, regardless of filter key order.
type Params struct {
	Vector []float32
	TopK   int
	Filter map[string]any
}

// Key returns the canonical cache key: SHA-256 over the JSON-serialized
// vector and filter (JSON object keys are emitted sorted, so filter maps in
// different insertion orders produce the same key), joined with TopK. Values
// JSON cannot encode (NaN, Inf, non-JSON filter types) fall back to their
// fmt representation, which is also deterministic (fmt prints map keys
// sorted), so such queries still hash to their own key instead of aliasing
// an unfiltered one.
func (p Params) Key() string {
	qb, err := json.Marshal(p.Vector)
	if err != nil {
		qb = []byte(fmt.Sprint(p.Vector))
	}
	qh := sha256.Sum256(qb)

	filterPart := "nofilter"
	if len(p.Filter) > 0 {
		fb, err := json.Marshal(p.Filter)
		if err != nil {
			fb = []byte(fmt.Sprint(p.Filter))
		}
		fh := sha256.Sum256(fb)
		filterPart = hex.EncodeToString(fh[:])
	}

	return hex.EncodeToString(qh[:]) + "_" + filterPart + "_" + strconv.Itoa(p.TopK)
}

type entry struct {
	value      any
	insertedAt time.Time
}

// Cache is a bounded result cache for one backend. Safe for concurrent use.
type Cache struct {
	mu sync.Mutex

	backend string
	maxSize int
	ttl     time.Duration

	entries map[string]entry
	hits    uint64
	misses  uint64
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// New creates a Cache for the given backend with the given capacity and TTL.
func New(backend string, maxSize int, ttl time.Duration) *Cache {
	return &Cache{
		backend: backend,
		maxSize: maxSize,
		ttl:     ttl,
		entries: make(map[string]entry),
	}
}

// Get returns the cached value for params if present and younger than the
// TTL. A stale entry is removed on the way out. Every call counts as a hit
// or a miss.
func (c *Cache) Get(params Params) (any, bool) {
	key := params.Key()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		metrics.CacheMisses.WithLabelValues(c.backend).Inc()
		return nil, false
	}
	if time.Since(e.insertedAt) >= c.ttl {
		delete(c.entries, key)
		metrics.CacheSize.WithLabelValues(c.backend).Set(float64(len(c.entries)))
		c.misses++
		metrics.CacheMisses.WithLabelValues(c.backend).Inc()
		return nil, false
	}

	c.hits++
	metrics.CacheHits.WithLabelValues(c.backend).Inc()
	return e.value, true
}

// Set stores value under the canonical key for params. When inserting a new
// key into a cache already at capacity, the entry with the oldest insertion
// timestamp is evicted first, so the size never exceeds the configured
// maximum. Overwriting an existing key does not evict.
func (c *Cache) Set(params Params, value any) {
	key := params.Key()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}

	c.entries[key] = entry{value: value, insertedAt: time.Now()}
	metrics.CacheSize.WithLabelValues(c.backend).Set(float64(len(c.entries)))
}

// evictOldestLocked removes the entry with the smallest insertion timestamp.
// Must be called with c.mu held.
func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.insertedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.insertedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		metrics.CacheEvictions.WithLabelValues(c.backend).Inc()
	}
}

// Invalidate removes any entry for params. A no-op if absent.
func (c *Cache) Invalidate(params Params) {
	key := params.Key()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		metrics.CacheSize.WithLabelValues(c.backend).Set(float64(len(c.entries)))
	}
}

// Clear removes all entries. Hit and miss counters are preserved.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
	metrics.CacheSize.WithLabelValues(c.backend).Set(0)
}

// Stats returns a snapshot of the cache counters. HitRate is 0 before any
// access has been recorded.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Size:    len(c.entries),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
