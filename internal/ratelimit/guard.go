package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"codearena/internal/common/errors"
	"codearena/internal/common/logging"
	"codearena/internal/metrics"
)

// UpdateFunc receives the user's current state and returns the state to
// write and whether to write it at all.
type UpdateFunc func(current State) (next State, write bool, err error)

// Store persists bucket state per user. Update must run read, fn and the
// conditional write as one atomic unit with respect to other Update calls
// for the same user, across every process sharing the store.
type Store interface {
	Update(ctx context.Context, userID int64, fn UpdateFunc) error
	Get(ctx context.Context, userID int64) (State, error)
	Reset(ctx context.Context, userID int64) error
}

// Locker serializes work per key across processes. Guard takes it around
// Store.Update when the store cannot lock rows itself.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

type GuardOption func(*Guard)

// WithLocker wraps every quota update in a distributed lock held for at
// most ttl.
func WithLocker(locker Locker, ttl time.Duration) GuardOption {
	return func(g *Guard) {
		g.locker = locker
		g.lockTTL = ttl
	}
}

func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

func WithMetrics(m *metrics.Metrics) GuardOption {
	return func(g *Guard) { g.metrics = m }
}

// Guard admits or denies quota-consuming actions for users.
type Guard struct {
	store   Store
	limit   Limit
	locker  Locker
	lockTTL time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
	logger  logging.Logger
}

func NewGuard(store Store, limit Limit, logger logging.Logger, opts ...GuardOption) (*Guard, error) {
	if store == nil {
		return nil, errors.ConfigError("quota store is required")
	}
	if err := limit.Validate(); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid quota limit: %v", err))
	}

	g := &Guard{
		store:  store,
		limit:  limit,
		now:    time.Now,
		logger: logging.OrGlobal(logger).WithFields(logging.String("component", "quota_guard")),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Limit returns the bucket shape the guard enforces.
func (g *Guard) Limit() Limit {
	return g.limit
}

// Acquire consumes one unit of userID's quota. When it returns without error
// the new state has been persisted. A denial is a rate_limit error carrying
// the retry instant; denied attempts leave the stored state untouched.
func (g *Guard) Acquire(ctx context.Context, userID int64) (Decision, error) {
	var decision Decision

	update := func(ctx context.Context) error {
		return g.store.Update(ctx, userID, func(current State) (State, bool, error) {
			decision = Check(current, g.limit, g.now())
			if !decision.Allowed {
				return current, false, nil
			}
			return *decision.Next, true, nil
		})
	}

	var err error
	if g.locker != nil {
		err = g.locker.WithLock(ctx, lockKey(userID), g.lockTTL, update)
	} else {
		err = update(ctx)
	}
	if err != nil {
		g.metrics.QuotaDecision(metrics.ResultError)
		return Decision{}, err
	}

	if !decision.Allowed {
		g.metrics.QuotaDecision(metrics.ResultDenied)
		g.logger.Info("Chat quota exhausted",
			logging.Int64("user_id", userID),
			logging.String("retry_after", decision.RetryAfter.UTC().Format(time.RFC3339)),
		)
		return decision, errors.RateLimitError("chat quota", decision.RetryAfter).
			WithContext("user_id", userID).
			WithContext("wait", HumanizeRetry(decision.RetryAfter, g.now()))
	}

	g.metrics.QuotaDecision(metrics.ResultAllowed)
	return decision, nil
}

// Peek reports the decision Acquire would make now, without consuming quota.
func (g *Guard) Peek(ctx context.Context, userID int64) (Decision, int, error) {
	state, err := g.store.Get(ctx, userID)
	if err != nil {
		return Decision{}, 0, err
	}
	now := g.now()
	return Check(state, g.limit, now), Remaining(state, g.limit, now), nil
}

// Reset clears userID's debt.
func (g *Guard) Reset(ctx context.Context, userID int64) error {
	return g.store.Reset(ctx, userID)
}

func lockKey(userID int64) string {
	return fmt.Sprintf("quota:%d", userID)
}

// MemoryStore keeps state in process memory. It is atomic only within one
// process and is meant for tests and single-instance setups.
type MemoryStore struct {
	mu     sync.Mutex
	states map[int64]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[int64]State)}
}

func (m *MemoryStore) Update(ctx context.Context, userID int64, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next, write, err := fn(m.states[userID])
	if err != nil {
		return err
	}
	if write {
		m.states[userID] = next
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, userID int64) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[userID], nil
}

func (m *MemoryStore) Reset(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, userID)
	return nil
}
