package cache

import (
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	// NoExpiration stores an entry until it is deleted explicitly.
	NoExpiration time.Duration = gocache.NoExpiration
	// DefaultExpiration uses the cache's configured DefaultTTL.
	DefaultExpiration time.Duration = gocache.DefaultExpiration

	defaultMaxSize = 1000
	defaultTTL     = time.Minute
)

// LocalConfig configures a LocalCache.
type LocalConfig struct {
	// MaxSize bounds the number of entries, expired ones included.
	MaxSize int
	// DefaultTTL applies when Set is called with DefaultExpiration.
	DefaultTTL time.Duration
	// CleanupInterval runs a background sweep of expired entries; zero disables it.
	CleanupInterval time.Duration
}

// LocalCache is a bounded in-process key/value table with per-entry expiry.
//
// All operations take the same lock, so a Set that has to make room is atomic
// with respect to every other call. When a new key arrives at capacity, Set
// first drops expired entries and then, if still full, evicts one arbitrary
// live entry. Callers must not rely on which entry survives.
type LocalCache struct {
	mu      sync.Mutex
	items   *gocache.Cache
	maxSize int
}

// NewLocalCache creates a LocalCache, applying defaults for zero values.
func NewLocalCache(config LocalConfig) *LocalCache {
	if config.MaxSize <= 0 {
		config.MaxSize = defaultMaxSize
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = defaultTTL
	}
	if config.CleanupInterval < 0 {
		config.CleanupInterval = 0
	}

	return &LocalCache{
		items:   gocache.New(config.DefaultTTL, config.CleanupInterval),
		maxSize: config.MaxSize,
	}
}

// Get returns the value stored under key. Expired entries are reported as
// absent and removed. Expiry is checked with go-cache's strict comparison,
// so an entry is still visible at exactly its expiry instant and gone one
// nanosecond later.
func (c *LocalCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, found := c.items.Get(key)
	if !found {
		// go-cache hides expired items from Get but keeps them until a sweep.
		c.items.Delete(key)
		return nil, false
	}
	return value, true
}

// Set stores value under key. ttl is NoExpiration, DefaultExpiration, or a
// positive lifetime.
func (c *LocalCache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items.Get(key); !exists && c.items.ItemCount() >= c.maxSize {
		c.makeRoom()
	}
	c.items.Set(key, value, ttl)
}

// makeRoom must be called with c.mu held.
func (c *LocalCache) makeRoom() {
	c.items.DeleteExpired()
	if c.items.ItemCount() < c.maxSize {
		return
	}

	for key := range c.items.Items() {
		c.items.Delete(key)
		if c.items.ItemCount() < c.maxSize {
			return
		}
	}
}

func (c *LocalCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Delete(key)
}

// Clear removes every entry.
func (c *LocalCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Flush()
}

// InvalidatePrefix removes every live entry whose key starts with prefix and
// returns how many were removed.
func (c *LocalCache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.items.Items() {
		if strings.HasPrefix(key, prefix) {
			c.items.Delete(key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, including expired entries that
// have not been swept yet.
func (c *LocalCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.ItemCount()
}

// MaxSize returns the configured capacity.
func (c *LocalCache) MaxSize() int {
	return c.maxSize
}
