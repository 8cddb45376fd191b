package cache

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Stats counts lookups by the layer that answered them
type Stats struct {
	MemoryHits int64 `json:"memory_hits"`
	DiskHits   int64 `json:"disk_hits"`
	Misses     int64 `json:"misses"`
	Evictions  int64 `json:"evictions"`
}

// Hits returns lookups answered by either layer
func (s Stats) Hits() int64 {
	return s.MemoryHits + s.DiskHits
}

// LayeredCache keeps recent model responses in process and every response on
// disk. Disk hits are promoted to memory.
type LayeredCache struct {
	memory *MemoryCache
	disk   *DiskCache

	memoryHits atomic.Int64
	diskHits   atomic.Int64
	misses     atomic.Int64
}

// NewLayeredCache creates a memory cache over a disk cache rooted at diskDir
func NewLayeredCache(memoryTTL time.Duration, diskDir string, diskTTL time.Duration) *LayeredCache {
	return &LayeredCache{
		memory: NewMemoryCache(memoryTTL, 10*time.Minute),
		disk:   NewDiskCache(diskDir, diskTTL),
	}
}

// WithMemoryLimit bounds the in-process layer to n entries
func (c *LayeredCache) WithMemoryLimit(n int) *LayeredCache {
	c.memory.SetLimit(n)
	return c
}

// Get checks memory, then disk
func (c *LayeredCache) Get(key string) ([]byte, bool) {
	if val, found := c.memory.Get(key); found {
		c.memoryHits.Add(1)
		return val, true
	}

	if val, found := c.disk.Get(key); found {
		c.diskHits.Add(1)
		_ = c.memory.Set(key, val, 0)
		return val, true
	}

	c.misses.Add(1)
	return nil, false
}

// Set stores value in both layers. ttl applies to the disk copy; the memory
// copy always uses the memory TTL. A disk failure leaves the memory copy in place.
func (c *LayeredCache) Set(key string, value []byte, ttl time.Duration) error {
	if err := c.memory.Set(key, value, 0); err != nil {
		return err
	}

	if err := c.disk.Set(key, value, ttl); err != nil {
		zap.L().Warn("cache: disk write failed", zap.String("key", key), zap.Error(err))
		return err
	}

	return nil
}

// Delete removes key from both layers
func (c *LayeredCache) Delete(key string) error {
	_ = c.memory.Delete(key)
	return c.disk.Delete(key)
}

// Clear empties both layers
func (c *LayeredCache) Clear() error {
	_ = c.memory.Clear()
	return c.disk.Clear()
}

// Prune removes expired disk entries and returns how many were removed
func (c *LayeredCache) Prune() (int, error) {
	return c.disk.Prune()
}

// Stats returns the lookup counters since creation
func (c *LayeredCache) Stats() Stats {
	return Stats{
		MemoryHits: c.memoryHits.Load(),
		DiskHits:   c.diskHits.Load(),
		Misses:     c.misses.Load(),
		Evictions:  int64(c.memory.Evictions()),
	}
}
