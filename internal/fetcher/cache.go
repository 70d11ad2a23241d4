package fetcher

import (
	"sync"
	"time"
)

// PageCountCache memoizes the discovered total-page count for a TTL. It is
// owned by a single fetcher instance and safe for concurrent workers; the
// orchestrator forces a refresh when it needs an authoritative value.
type PageCountCache struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       func() time.Time
	value     int
	fetchedAt time.Time
}

// NewPageCountCache builds a cache with the given TTL. A zero TTL disables
// caching entirely.
func NewPageCountCache(ttl time.Duration) *PageCountCache {
	return &PageCountCache{ttl: ttl, now: time.Now}
}

// Get returns the cached count and whether it is still fresh. force always
// reports a miss.
func (c *PageCountCache) Get(force bool) (int, bool) {
	if c == nil || force {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value <= 0 || c.ttl <= 0 {
		return 0, false
	}
	if c.now().Sub(c.fetchedAt) >= c.ttl {
		return 0, false
	}
	return c.value, true
}

// Set records a freshly discovered count.
func (c *PageCountCache) Set(count int) {
	if c == nil || count <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = count
	c.fetchedAt = c.now()
}
