package genai

import (
	"hash/fnv"
	"sync"
	"time"
)

// maxCacheEntries bounds the result cache; beyond it the oldest entry is
// evicted on insert.
const maxCacheEntries = 200

// sweepInterval is how often the janitor drops expired entries.
const sweepInterval = time.Minute

type cacheEntry struct {
	value   string
	expires time.Time
	added   time.Time
}

// resultCache is a TTL cache keyed by an FNV hash of the caller's cache key.
type resultCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[uint64]cacheEntry
	done    chan struct{}

	// now is swappable in tests.
	now func() time.Time
}

func newResultCache(ttl time.Duration) *resultCache {
	c := &resultCache{
		ttl:     ttl,
		entries: make(map[uint64]cacheEntry),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go c.janitor()
	return c
}

func hashKey(key string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return h.Sum64()
}

func (c *resultCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[hashKey(key)]
	if !ok || c.now().After(e.expires) {
		return "", false
	}
	return e.value, true
}

func (c *resultCache) put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if len(c.entries) >= maxCacheEntries {
		c.evictLocked(now)
	}
	c.entries[hashKey(key)] = cacheEntry{value: value, expires: now.Add(c.ttl), added: now}
}

// evictLocked drops expired entries, then the oldest if still at capacity.
func (c *resultCache) evictLocked(now time.Time) {
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) < maxCacheEntries {
		return
	}
	var oldestKey uint64
	var oldest time.Time
	first := true
	for k, e := range c.entries {
		if first || e.added.Before(oldest) {
			oldestKey, oldest = k, e.added
			first = false
		}
	}
	delete(c.entries, oldestKey)
}

func (c *resultCache) janitor() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := c.now()
			for k, e := range c.entries {
				if now.After(e.expires) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}

func (c *resultCache) stop() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
