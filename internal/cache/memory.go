package cache

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache keeps responses in process with per-item expiry. With a limit
// set, the entry closest to expiry is evicted to make room.
type MemoryCache struct {
	items *gocache.Cache

	mu        sync.Mutex
	maxItems  int
	evictions int
}

// NewMemoryCache creates an unbounded memory cache
func NewMemoryCache(defaultTTL time.Duration, cleanupInterval time.Duration) *MemoryCache {
	return &MemoryCache{
		items: gocache.New(defaultTTL, cleanupInterval),
	}
}

// SetLimit bounds the number of entries; n <= 0 removes the bound
func (c *MemoryCache) SetLimit(n int) {
	c.mu.Lock()
	c.maxItems = n
	c.mu.Unlock()
}

func (c *MemoryCache) Get(key string) ([]byte, bool) {
	val, found := c.items.Get(key)
	if !found {
		return nil, false
	}
	data, ok := val.([]byte)
	return data, ok
}

// Set stores value; ttl 0 uses the default expiration
func (c *MemoryCache) Set(key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxItems > 0 {
		if _, exists := c.items.Get(key); !exists {
			c.makeRoom()
		}
	}
	c.items.Set(key, value, ttl)
	return nil
}

// makeRoom drops expired entries, then evicts by earliest expiry until a new
// entry fits. Caller holds mu.
func (c *MemoryCache) makeRoom() {
	if c.items.ItemCount() < c.maxItems {
		return
	}
	c.items.DeleteExpired()

	for c.items.ItemCount() >= c.maxItems {
		var (
			victim   string
			earliest int64
		)
		for k, item := range c.items.Items() {
			// Expiration 0 means the entry never expires
			exp := item.Expiration
			if exp == 0 {
				exp = 1<<63 - 1
			}
			if victim == "" || exp < earliest {
				victim, earliest = k, exp
			}
		}
		if victim == "" {
			return
		}
		c.items.Delete(victim)
		c.evictions++
	}
}

func (c *MemoryCache) Delete(key string) error {
	c.items.Delete(key)
	return nil
}

func (c *MemoryCache) Clear() error {
	c.items.Flush()
	return nil
}

// Len returns the number of cached items, including expired ones not yet cleaned up
func (c *MemoryCache) Len() int {
	return c.items.ItemCount()
}

// Evictions returns how many live entries were dropped to honour the limit
func (c *MemoryCache) Evictions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictions
}
