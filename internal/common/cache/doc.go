// Package cache provides the two storage tiers used by read-through caches.
//
// LocalCache is the process-private tier: a bounded, TTL-aware table built on
// github.com/patrickmn/go-cache and guarded by a single mutex. It is created
// explicitly and handed to whoever needs it; there is no package-level
// instance.
//
// RemoteCache is the shared tier. RedisRemote implements it over
// internal/redis, JSON-encoding structured values, bounding every call with a
// timeout and routing it through a circuit breaker. Read failures of any kind
// are reported as misses.
//
// Broadcaster relays local invalidations to peer processes over Redis pub/sub
// so a stale local entry on another instance does not outlive a write.
//
// Usage:
//
//	local := cache.NewLocalCache(cache.LocalConfig{MaxSize: 1000, DefaultTTL: time.Minute})
//	local.Set("all_tags", tags, cache.NoExpiration)
//
//	remote := cache.NewRedisRemote(redisClient, cache.RemoteConfig{Timeout: 500 * time.Millisecond}, logger)
//	var tags []string
//	if remote.GetObject(ctx, "all_tags", &tags) {
//		// hit
//	}
package cache
