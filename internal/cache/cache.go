// Package cache provides a TTL'd in-process LRU used for verification
// results. The original deployment fronted this with Redis; the port is the
// same get/set/delete-with-TTL surface.
package cache

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSize bounds the number of live entries.
const DefaultSize = 4096

type entry struct {
	value     any
	expiresAt time.Time
}

// TTLCache is a size-bounded cache whose entries expire after a per-entry
// TTL. Expired entries are evicted lazily on read.
type TTLCache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, entry]
	// now is swappable for tests.
	now func() time.Time
}

// New creates a TTLCache holding at most size entries.
func New(size int) (*TTLCache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	inner, err := lru.New[string, entry](size)
	if err != nil {
		return nil, fmt.Errorf("create ttl cache: %w", err)
	}
	return &TTLCache{lru: inner, now: time.Now}, nil
}

// Get returns the live value for key, if any.
func (c *TTLCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		c.lru.Remove(key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key. A non-positive ttl means no expiry.
func (c *TTLCache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}
	c.lru.Add(key, entry{value: value, expiresAt: expires})
}

// Delete removes key.
func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Len reports the number of entries, including any not yet lazily expired.
func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
