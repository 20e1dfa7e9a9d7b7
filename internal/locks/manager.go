// Package locks provides distributed mutual exclusion using the Redlock
// algorithm implementation from go-redsync/redsync/v4.
//
// A lock serializes a short critical section across every process sharing
// the Redis instance. Locks are not renewed: the critical section must finish
// within the lock's expiry, after which another holder may enter.
//
// Example usage:
//
//	manager, err := locks.NewManager(redisClient, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	err = manager.WithLock(ctx, "quota:42", 5*time.Second, func(ctx context.Context) error {
//		// read, decide and write the user's quota state
//		return nil
//	})
package locks

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"

	"codearena/internal/common/errors"
	"codearena/internal/common/logging"
	"codearena/internal/redis"
)

const (
	keyPrefix      = "lock:"
	defaultTries   = 32
	defaultTimeout = 5 * time.Second
)

// ErrLockLost is returned by Release when the lock could not be confirmed
// released, usually because it had already expired.
var ErrLockLost = stderrors.New("lock expired before release")

// Option customizes a Manager.
type Option func(*Manager)

// WithTries sets how many acquisition attempts are made before giving up.
func WithTries(tries int) Option {
	return func(m *Manager) {
		if tries > 0 {
			m.tries = tries
		}
	}
}

// WithRetryDelay sets the pause between acquisition attempts.
func WithRetryDelay(delay time.Duration) Option {
	return func(m *Manager) {
		if delay > 0 {
			m.retryDelay = delay
		}
	}
}

// Manager hands out distributed locks. It is safe for concurrent use.
type Manager struct {
	redsync    *redsync.Redsync
	tries      int
	retryDelay time.Duration
	logger     logging.Logger
}

// Lock is an acquired distributed lock.
type Lock struct {
	mutex    *redsync.Mutex
	key      string
	acquired time.Time
}

// NewManager creates a lock manager over the given Redis client.
func NewManager(redisClient *redis.Client, logger logging.Logger, opts ...Option) (*Manager, error) {
	if redisClient == nil {
		return nil, errors.ConfigError("redis client is required")
	}

	pool := goredis.NewPool(redisClient.GetGoRedisClient())
	m := &Manager{
		redsync: redsync.New(pool),
		tries:   defaultTries,
		logger:  logging.OrGlobal(logger).WithFields(logging.String("component", "locks")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Acquire blocks until the lock for key is held, the attempts are exhausted,
// or ctx is done. The lock expires after ttl unless released first.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	if ttl <= 0 {
		ttl = defaultTimeout
	}

	options := []redsync.Option{
		redsync.WithExpiry(ttl),
		redsync.WithTries(m.tries),
	}
	if m.retryDelay > 0 {
		options = append(options, redsync.WithRetryDelay(m.retryDelay))
	}

	mutex := m.redsync.NewMutex(keyPrefix+key, options...)
	if err := mutex.LockContext(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.TimeoutError(fmt.Sprintf("acquiring lock %s", key))
		}
		return nil, errors.InternalError("failed to acquire distributed lock", err).
			WithContext("key", key)
	}

	return &Lock{mutex: mutex, key: key, acquired: time.Now()}, nil
}

// WithLock runs fn while holding the lock for key. fn's error is returned
// unchanged; a failed release is logged.
func (m *Manager) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	lock, err := m.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}

	defer func() {
		// Release even when ctx was cancelled during fn.
		releaseCtx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			m.logger.Warn("Failed to release lock",
				logging.String("key", key),
				logging.Duration("held", time.Since(lock.acquired)),
				logging.Err(err),
			)
		}
	}()

	return fn(ctx)
}

// Key returns the caller-supplied key, without the storage prefix.
func (l *Lock) Key() string {
	return l.key
}

// Release frees the lock. ErrLockLost means another holder may have run
// concurrently with this one.
func (l *Lock) Release(ctx context.Context) error {
	ok, err := l.mutex.UnlockContext(ctx)
	if ok {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLockLost, err)
	}
	return ErrLockLost
}
