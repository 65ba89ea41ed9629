package reporting

import (
	"sync"
	"time"
)

// reportCache is a TTL cache over computed reports. Summaries may be served
// slightly stale (the session store stays the source of truth); single-session
// reads and mutations never pass through here.
type reportCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
	nowFn   func() time.Time
}

type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

func newReportCache(ttl time.Duration) *reportCache {
	return &reportCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		nowFn:   time.Now,
	}
}

func (c *reportCache) get(key string) (interface{}, bool) {
	if c.ttl <= 0 {
		return nil, false
	}

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.nowFn().After(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

func (c *reportCache) set(key string, value interface{}) {
	if c.ttl <= 0 {
		return
	}

	now := c.nowFn()

	c.mu.Lock()
	// Expired entries are purged on every insert so the map stays bounded
	// by the number of distinct live keys.
	for k, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cacheEntry{
		value:     value,
		expiresAt: now.Add(c.ttl),
	}
	c.mu.Unlock()
}
