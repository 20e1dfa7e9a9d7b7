package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocalCache_Defaults(t *testing.T) {
	c := NewLocalCache(LocalConfig{})

	assert.Equal(t, defaultMaxSize, c.MaxSize())
	assert.Zero(t, c.Len())
}

func TestLocalCache_SetGet(t *testing.T) {
	c := NewLocalCache(LocalConfig{MaxSize: 10})

	c.Set("problem:id:1", "two sum", DefaultExpiration)
	c.Set("all_tags", []string{"dp", "graph"}, NoExpiration)

	v, ok := c.Get("problem:id:1")
	require.True(t, ok)
	assert.Equal(t, "two sum", v)

	v, ok = c.Get("all_tags")
	require.True(t, ok)
	assert.Equal(t, []string{"dp", "graph"}, v)

	_, ok = c.Get("absent")
	assert.False(t, ok)
}

func TestLocalCache_Expiry(t *testing.T) {
	c := NewLocalCache(LocalConfig{MaxSize: 10, DefaultTTL: time.Hour})

	c.Set("short", 1, 30*time.Millisecond)
	c.Set("forever", 2, NoExpiration)

	_, ok := c.Get("short")
	require.True(t, ok)

	time.Sleep(60 * time.Millisecond)

	_, ok = c.Get("short")
	assert.False(t, ok, "expired entry must not be visible")
	assert.Equal(t, 1, c.Len(), "expired entry is removed on access")

	_, ok = c.Get("forever")
	assert.True(t, ok)
}

func TestLocalCache_CapacityBound(t *testing.T) {
	c := NewLocalCache(LocalConfig{MaxSize: 3})

	for i := 0; i < 20; i++ {
		c.Set(fmt.Sprintf("k%d", i), i, NoExpiration)
		assert.LessOrEqual(t, c.Len(), 3)
	}

	_, ok := c.Get("k19")
	assert.True(t, ok, "most recent write is always present")
}

func TestLocalCache_OverwriteAtCapacityKeepsOthers(t *testing.T) {
	c := NewLocalCache(LocalConfig{MaxSize: 2})
	c.Set("a", 1, NoExpiration)
	c.Set("b", 2, NoExpiration)

	c.Set("a", 10, NoExpiration)

	assert.Equal(t, 2, c.Len())
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, v)
	_, ok = c.Get("b")
	assert.True(t, ok)
}

func TestLocalCache_PurgesExpiredBeforeEvicting(t *testing.T) {
	c := NewLocalCache(LocalConfig{MaxSize: 2})
	c.Set("stale", 1, 20*time.Millisecond)
	c.Set("live", 2, NoExpiration)

	time.Sleep(40 * time.Millisecond)
	c.Set("fresh", 3, NoExpiration)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("live")
	assert.True(t, ok)
	_, ok = c.Get("fresh")
	assert.True(t, ok)
}

func TestLocalCache_DeleteAndClear(t *testing.T) {
	c := NewLocalCache(LocalConfig{MaxSize: 10})
	c.Set("a", 1, NoExpiration)
	c.Set("b", 2, NoExpiration)

	c.Delete("a")
	c.Delete("missing")
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Zero(t, c.Len())
}

func TestLocalCache_InvalidatePrefix(t *testing.T) {
	c := NewLocalCache(LocalConfig{MaxSize: 10})
	c.Set("search:q=a", 1, NoExpiration)
	c.Set("search:q=b", 2, NoExpiration)
	c.Set("problem:id:1", 3, NoExpiration)
	c.Set("problem_count", 4, NoExpiration)

	removed := c.InvalidatePrefix("search:")

	assert.Equal(t, 2, removed)
	_, ok := c.Get("search:q=a")
	assert.False(t, ok)
	_, ok = c.Get("problem:id:1")
	assert.True(t, ok)
	_, ok = c.Get("problem_count")
	assert.True(t, ok)

	assert.Zero(t, c.InvalidatePrefix("search:"))
}

func TestLocalCache_Concurrent(t *testing.T) {
	c := NewLocalCache(LocalConfig{MaxSize: 50})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("search:%d:%d", w, i)
				c.Set(key, i, time.Second)
				c.Get(key)
				if i%25 == 0 {
					c.InvalidatePrefix(fmt.Sprintf("search:%d:", w))
				}
			}
		}(w)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 50)
}
