package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"codearena/internal/circuitbreaker"
	"codearena/internal/common/errors"
	"codearena/internal/common/logging"
	"codearena/internal/redis"
)

const (
	defaultRemoteTimeout = 500 * time.Millisecond
	defaultScanTimeout   = 30 * time.Second
)

// RemoteCache is the shared tier. Reads report failures as misses; writes and
// deletes return errors so callers can log them.
type RemoteCache interface {
	// GetObject decodes the JSON value under key into dest.
	GetObject(ctx context.Context, key string, dest interface{}) bool
	// SetObject stores value as JSON. ttl is rounded up to whole seconds;
	// zero or negative stores without expiry.
	SetObject(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// GetRawValue returns the plain text under key, used for scalar counters.
	GetRawValue(ctx context.Context, key string) (string, bool)
	Delete(ctx context.Context, key string) error
	// DeleteByPattern removes every key matching a glob pattern.
	DeleteByPattern(ctx context.Context, pattern string) (int, error)
}

// RemoteConfig configures a RedisRemote.
type RemoteConfig struct {
	// Timeout bounds each individual Redis call.
	Timeout time.Duration
	// ScanTimeout bounds a whole DeleteByPattern walk, which touches the
	// entire keyspace and cannot finish within Timeout on a large server.
	ScanTimeout time.Duration
	Breaker     circuitbreaker.Config
}

// RedisRemote implements RemoteCache over internal/redis.
type RedisRemote struct {
	client      *redis.Client
	breaker     *circuitbreaker.Breaker
	timeout     time.Duration
	scanTimeout time.Duration
	logger      logging.Logger
}

var _ RemoteCache = (*RedisRemote)(nil)

func NewRedisRemote(client *redis.Client, config RemoteConfig, logger logging.Logger) *RedisRemote {
	logger = logging.OrGlobal(logger).WithFields(logging.String("component", "remote_cache"))

	if config.Timeout <= 0 {
		config.Timeout = defaultRemoteTimeout
	}
	if config.ScanTimeout <= 0 {
		config.ScanTimeout = defaultScanTimeout
	}
	if config.Breaker == (circuitbreaker.Config{}) {
		config.Breaker = circuitbreaker.CacheConfig
	}

	return &RedisRemote{
		client:      client,
		breaker:     circuitbreaker.New("remote-cache", config.Breaker, logger),
		timeout:     config.Timeout,
		scanTimeout: config.ScanTimeout,
		logger:      logger,
	}
}

func (r *RedisRemote) GetObject(ctx context.Context, key string, dest interface{}) bool {
	raw, ok := r.GetRawValue(ctx, key)
	if !ok {
		return false
	}

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		r.logger.Warn("Discarding undecodable remote cache value",
			logging.String("key", key),
			logging.Err(err),
		)
		return false
	}
	return true
}

func (r *RedisRemote) GetRawValue(ctx context.Context, key string) (string, bool) {
	var (
		value string
		found bool
	)

	err := r.call(ctx, func(callCtx context.Context) error {
		v, err := r.client.Get(callCtx, key)
		if redis.IsNil(err) {
			return nil
		}
		if err != nil {
			return err
		}
		value, found = v, true
		return nil
	})
	if err != nil {
		r.logger.Warn("Remote cache read failed, treating as miss",
			logging.String("key", key),
			logging.Err(err),
		)
		return "", false
	}
	return value, found
}

func (r *RedisRemote) SetObject(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.CacheError("encode", fmt.Errorf("key %s: %w", key, err))
	}

	err = r.call(ctx, func(callCtx context.Context) error {
		return r.client.Set(callCtx, key, data, wholeSeconds(ttl))
	})
	if err != nil {
		return errors.CacheError("set", fmt.Errorf("key %s: %w", key, err))
	}
	return nil
}

func (r *RedisRemote) Delete(ctx context.Context, key string) error {
	err := r.call(ctx, func(callCtx context.Context) error {
		return r.client.Delete(callCtx, key)
	})
	if err != nil {
		return errors.CacheError("delete", fmt.Errorf("key %s: %w", key, err))
	}
	return nil
}

func (r *RedisRemote) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	if strings.TrimSpace(pattern) == "" {
		return 0, errors.ValidationError("pattern must not be empty")
	}

	var deleted int
	err := r.callWithin(ctx, r.scanTimeout, func(callCtx context.Context) error {
		n, err := r.client.ScanDelete(callCtx, pattern)
		deleted = n
		return err
	})
	if err != nil {
		return deleted, errors.CacheError("delete by pattern", fmt.Errorf("pattern %s: %w", pattern, err))
	}
	return deleted, nil
}

// Breaker exposes the breaker state for health reporting.
func (r *RedisRemote) Breaker() *circuitbreaker.Breaker {
	return r.breaker
}

func (r *RedisRemote) call(ctx context.Context, fn func(context.Context) error) error {
	return r.callWithin(ctx, r.timeout, fn)
}

func (r *RedisRemote) callWithin(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	return r.breaker.Execute(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(callCtx)
	})
}

// wholeSeconds rounds ttl up to the one-second resolution the remote tier
// promises. Non-positive values mean no expiry.
func wholeSeconds(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	return ((ttl + time.Second - 1) / time.Second) * time.Second
}
