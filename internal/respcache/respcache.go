// Package respcache holds rendered query responses between refreshes. The
// cache key embeds the window version, so one InvalidateAll strands every key
// generated before it; entries are evicted FIFO when the cache fills.
package respcache

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
)

// DefaultMaxEntries bounds the cache when no size is configured.
const DefaultMaxEntries = 256

// Stats is the counter snapshot exposed on /health.
type Stats struct {
	Hits          uint64  `json:"hits"`
	Misses        uint64  `json:"misses"`
	Evictions     uint64  `json:"evictions"`
	Invalidations uint64  `json:"invalidations"`
	CurrentSize   int     `json:"current_size"`
	WindowVersion uint64  `json:"window_version"`
	HitRate       float64 `json:"hit_rate"`
}

// Cache is a FIFO response cache. All operations are safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	max     int
	entries map[string][]byte
	order   []string
	version uint64

	hits          uint64
	misses        uint64
	evictions     uint64
	invalidations uint64
}

func New(maxEntries int) *Cache {
	if maxEntries < 1 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		max:     maxEntries,
		entries: make(map[string][]byte, maxEntries),
	}
}

// Key builds the cache key for a handler invocation. The current window
// version is baked in, so keys minted before an invalidation can never hit
// afterwards. Params are hashed in sorted order so map iteration order does
// not split the cache.
func (c *Cache) Key(handler string, params map[string]string) string {
	c.mu.Lock()
	version := c.version
	c.mu.Unlock()

	h := fnv.New64a()
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s;", k, params[k])
	}
	return fmt.Sprintf("%s:%d:%016x", handler, version, h.Sum64())
}

// Get returns the cached value for key, recording a hit or miss.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	val, ok := c.entries[key]
	if ok {
		c.hits++
		return val, true
	}
	c.misses++
	return nil, false
}

// Set stores value under key, evicting the oldest entry when full. Storing
// under an existing key overwrites in place without touching FIFO order.
func (c *Cache) Set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		c.entries[key] = value
		return
	}
	if len(c.entries) >= c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
		c.evictions++
	}
	c.entries[key] = value
	c.order = append(c.order, key)
}

// InvalidateAll drops every entry and bumps the embedded window version.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]byte, c.max)
	c.order = c.order[:0]
	c.version++
	c.invalidations++
}

// Version returns the version currently baked into new keys.
func (c *Cache) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Snapshot returns the counter state.
func (c *Cache) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Stats{
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
		Invalidations: c.invalidations,
		CurrentSize:   len(c.entries),
		WindowVersion: c.version,
	}
	if total := c.hits + c.misses; total > 0 {
		st.HitRate = float64(c.hits) / float64(total)
	}
	return st
}
