// Package cache provides a small TTL cache for derived read-side data
// such as risk reports and last-known quotes. Eviction policy is an
// explicit value, not hidden global state.
package cache

import (
	"sync"
	"time"
)

// Policy controls entry lifetime. A zero TTL means entries never expire
// until invalidated.
type Policy struct {
	TTL time.Duration
}

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// Cache is a mutex-guarded key/value cache with TTL expiry.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	policy  Policy
	now     func() time.Time
}

// New creates an empty cache with the given policy.
func New(policy Policy) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		policy:  policy,
		now:     time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns the cached value for key, or false when absent or
// expired. Expired entries are removed on access.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with the policy's TTL.
func (c *Cache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.policy.TTL > 0 {
		expiresAt = c.now().Add(c.policy.TTL)
	}
	c.entries[key] = entry{value: value, expiresAt: expiresAt}
}

// Invalidate removes key from the cache.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Len reports the number of stored entries, including any not yet
// evicted expired ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
