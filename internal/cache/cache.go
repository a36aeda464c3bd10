// Package cache provides a caller-owned result cache for detection runs.
//
// The engine itself is pure and holds no hidden model or score state;
// whoever invokes it decides whether repeated runs over identical input are
// worth caching, owns this component, and passes results through it. Entries
// expire by TTL and are evicted LRU-first once the cache is full.
package cache

import (
	"container/list"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/farmsight/farmsight-analytics/internal/detection"
)

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Entries   int    `json:"entries"`
}

// ResultCache is a TTL + LRU cache of detection results keyed by input hash.
// Safe for concurrent use.
type ResultCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]*list.Element
	order      *list.List // front = most recently used

	hits      uint64
	misses    uint64
	evictions uint64

	// now is replaceable in tests.
	now func() time.Time
}

type cacheEntry struct {
	key       string
	result    *detection.DetectionResult
	expiresAt time.Time
}

// New creates a result cache. maxEntries must be positive; ttl bounds entry
// lifetime.
func New(maxEntries int, ttl time.Duration) *ResultCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &ResultCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		now:        time.Now,
	}
}

// Key derives the cache key for a detection request. Encoding is
// deterministic (JSON sorts map keys), so identical datasets and configs
// always collide — which is the point.
func Key(rows []detection.Row, cfg detection.Config) (string, error) {
	h := fnv.New64a()
	enc := json.NewEncoder(h)
	if err := enc.Encode(cfg); err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Encode(rows); err != nil {
		return "", fmt.Errorf("encode rows: %w", err)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h.Sum64())
	return fmt.Sprintf("%x", buf), nil
}

// Get returns the cached result for key, or nil when absent or expired.
func (c *ResultCache) Get(key string) (*detection.DetectionResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	entry := elem.Value.(*cacheEntry)
	if c.now().After(entry.expiresAt) {
		c.removeLocked(elem)
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(elem)
	c.hits++
	return entry.result, true
}

// Set stores a result under key, evicting the least recently used entry when
// the cache is full.
func (c *ResultCache) Set(key string, result *detection.DetectionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.result = result
		entry.expiresAt = c.now().Add(c.ttl)
		c.order.MoveToFront(elem)
		return
	}

	for len(c.entries) >= c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
		c.evictions++
	}

	elem := c.order.PushFront(&cacheEntry{
		key:       key,
		result:    result,
		expiresAt: c.now().Add(c.ttl),
	})
	c.entries[key] = elem
}

// Delete removes a key if present.
func (c *ResultCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem)
	}
}

// Purge removes every entry.
func (c *ResultCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// GetStats returns cache statistics.
func (c *ResultCache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   len(c.entries),
	}
}

func (c *ResultCache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	delete(c.entries, entry.key)
	c.order.Remove(elem)
}
