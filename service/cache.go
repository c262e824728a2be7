package service

import (
	"encoding/hex"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/PedroNhamirre/jusmoz/models"

	"golang.org/x/crypto/blake2b"
)

// cacheEntry is owned exclusively by ResponseCache; callers only ever see
// copies of the stored answer.
type cacheEntry struct {
	answer       models.Answer
	expiry       time.Time
	lastAccessed time.Time
	accessCount  int64
}

// ResponseCache is a bounded in-process store for vetted answers, keyed by an
// opaque hash of the question. Entries expire by TTL and are batch-evicted by
// least-recent access when the store is full.
type ResponseCache struct {
	mu       sync.Mutex
	entries  map[string]*cacheEntry
	ttl      time.Duration
	capacity int

	sweepInterval time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
}

// ResponseCacheOption is a functional option for ResponseCache.
type ResponseCacheOption func(*ResponseCache)

// CacheWithTTL sets the per-entry time to live.
func CacheWithTTL(ttl time.Duration) ResponseCacheOption {
	return func(c *ResponseCache) {
		c.ttl = ttl
	}
}

// CacheWithCapacity sets the maximum number of entries.
func CacheWithCapacity(capacity int) ResponseCacheOption {
	return func(c *ResponseCache) {
		c.capacity = capacity
	}
}

// CacheWithSweepInterval sets how often the background sweep removes expired
// entries.
func CacheWithSweepInterval(interval time.Duration) ResponseCacheOption {
	return func(c *ResponseCache) {
		c.sweepInterval = interval
	}
}

// NewResponseCache creates a cache and starts its background sweeper.
func NewResponseCache(opts ...ResponseCacheOption) *ResponseCache {
	c := &ResponseCache{
		entries:       make(map[string]*cacheEntry),
		ttl:           5 * time.Minute,
		capacity:      1000,
		sweepInterval: 60 * time.Second,
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.sweepLoop()
	return c
}

// CacheKey derives the opaque cache key for a question. The raw question is
// never stored or logged; the digest is salted and truncated so it cannot be
// reversed to recover the text.
func CacheKey(salt, normalizedQuestion string, limit int) string {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 with a nil key cannot fail; keep the cache usable anyway.
		log.Printf("Warning: cache key digest init failed: %v", err)
		return fmt.Sprintf("raw:%d:%d", len(normalizedQuestion), limit)
	}
	fmt.Fprintf(h, "%s\x00%s\x00%d", salt, normalizedQuestion, limit)
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// Get returns the cached answer for key if present and unexpired. An expired
// entry is removed on access.
func (c *ResponseCache) Get(key string) (models.Answer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return models.Answer{}, false
	}

	now := time.Now()
	if now.After(entry.expiry) {
		delete(c.entries, key)
		return models.Answer{}, false
	}

	entry.lastAccessed = now
	entry.accessCount++
	return entry.answer, true
}

// Set stores an answer under key. When the cache is at capacity the oldest
// 20% of entries by last access are evicted first.
func (c *ResponseCache) Set(key string, answer models.Answer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}

	c.entries[key] = &cacheEntry{
		answer:       answer,
		expiry:       now.Add(c.ttl),
		lastAccessed: now,
	}
}

// Size returns the current number of entries.
func (c *ResponseCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stop halts the background sweeper. Safe to call more than once.
func (c *ResponseCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// evictOldestLocked removes the least-recently-accessed 20% of entries.
// Batch eviction keeps insertion O(n log n) amortized instead of maintaining
// a strict LRU list. Caller must hold c.mu.
func (c *ResponseCache) evictOldestLocked() {
	n := len(c.entries) / 5
	if n < 1 {
		n = 1
	}

	type keyed struct {
		key          string
		lastAccessed time.Time
	}
	all := make([]keyed, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, keyed{k, e.lastAccessed})
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].lastAccessed.Before(all[j].lastAccessed)
	})
	for i := 0; i < n && i < len(all); i++ {
		delete(c.entries, all[i].key)
	}
	log.Printf("Response cache evicted %d entries (capacity %d)", n, c.capacity)
}

// EvictExpired removes every entry whose TTL has passed, independent of
// access pattern.
func (c *ResponseCache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for k, e := range c.entries {
		if now.After(e.expiry) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

func (c *ResponseCache) sweepLoop() {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := c.EvictExpired(); removed > 0 {
				log.Printf("Response cache sweep removed %d expired entries", removed)
			}
		case <-c.stop:
			return
		}
	}
}
