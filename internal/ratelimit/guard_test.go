package ratelimit

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codearena/internal/common/errors"
	"codearena/internal/common/logging"
	"codearena/internal/locks"
	"codearena/internal/metrics"
	"codearena/internal/redis"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newGuard(t *testing.T, store Store, limit Limit, opts ...GuardOption) (*Guard, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: start}
	opts = append([]GuardOption{WithClock(clock.Now)}, opts...)
	g, err := NewGuard(store, limit, logging.NewNopLogger(), opts...)
	require.NoError(t, err)
	return g, clock
}

func TestNewGuard_Validation(t *testing.T) {
	_, err := NewGuard(nil, Limit{MaxRequests: 1, Period: time.Hour}, nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))

	_, err = NewGuard(NewMemoryStore(), Limit{}, nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestGuard_Acquire(t *testing.T) {
	store := NewMemoryStore()
	m := metrics.New()
	g, clock := newGuard(t, store, Limit{MaxRequests: 2, Period: week}, WithMetrics(m))
	ctx := context.Background()

	_, err := g.Acquire(ctx, 1)
	require.NoError(t, err)
	_, err = g.Acquire(ctx, 1)
	require.NoError(t, err)

	stored, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, State{Debt: 2, LastReset: start}, stored)

	clock.Advance(time.Hour)
	d, err := g.Acquire(ctx, 1)
	require.Error(t, err)
	assert.False(t, d.Allowed)
	assert.True(t, errors.IsType(err, errors.ErrTypeRateLimit))

	retryAfter, ok := errors.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, d.RetryAfter, retryAfter)
	assert.WithinDuration(t, start.Add(week/2), retryAfter, time.Second)
	assert.Contains(t, err.Error(), "days from now")

	after, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, stored, after, "denied attempts are not recorded")

	_, err = g.Acquire(ctx, 2)
	assert.NoError(t, err, "quotas are per user")

	assert.Equal(t, 3.0, testutil.ToFloat64(m.QuotaDecisions.WithLabelValues(metrics.ResultAllowed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QuotaDecisions.WithLabelValues(metrics.ResultDenied)))
}

func TestGuard_RefillAdmitsAgain(t *testing.T) {
	g, clock := newGuard(t, NewMemoryStore(), Limit{MaxRequests: 2, Period: 100 * time.Second})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := g.Acquire(ctx, 1)
		require.NoError(t, err)
	}
	_, err := g.Acquire(ctx, 1)
	require.Error(t, err)

	clock.Advance(100 * time.Second)
	_, err = g.Acquire(ctx, 1)
	assert.NoError(t, err)
}

func TestGuard_PeekAndReset(t *testing.T) {
	g, _ := newGuard(t, NewMemoryStore(), Limit{MaxRequests: 2, Period: week})
	ctx := context.Background()

	_, err := g.Acquire(ctx, 5)
	require.NoError(t, err)

	d, remaining, err := g.Peek(ctx, 5)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, remaining)

	_, remaining, err = g.Peek(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining, "peeking does not consume")

	require.NoError(t, g.Reset(ctx, 5))
	_, remaining, err = g.Peek(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)
}

type failingStore struct{ MemoryStore }

func (f *failingStore) Update(ctx context.Context, userID int64, fn UpdateFunc) error {
	return errors.ConnectionError("database unavailable", stderrors.New("dial tcp: refused"))
}

func TestGuard_StoreErrorIsReturned(t *testing.T) {
	g, _ := newGuard(t, &failingStore{}, Limit{MaxRequests: 2, Period: week})

	_, err := g.Acquire(context.Background(), 1)
	assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
}

func TestGuard_ConcurrentCallersNeverOverAdmit(t *testing.T) {
	const limit = 5
	g, _ := newGuard(t, NewMemoryStore(), Limit{MaxRequests: limit, Period: week})

	var admitted int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Acquire(context.Background(), 9); err == nil {
				atomic.AddInt32(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(limit), admitted)
}

// racyStore reads and writes without any synchronization of its own, like a
// store that cannot lock rows.
type racyStore struct {
	mu     sync.Mutex
	states map[int64]State
}

func (r *racyStore) load(userID int64) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[userID]
}

func (r *racyStore) Update(ctx context.Context, userID int64, fn UpdateFunc) error {
	current := r.load(userID)
	time.Sleep(2 * time.Millisecond)
	next, write, err := fn(current)
	if err != nil || !write {
		return err
	}
	r.mu.Lock()
	r.states[userID] = next
	r.mu.Unlock()
	return nil
}

func (r *racyStore) Get(ctx context.Context, userID int64) (State, error) {
	return r.load(userID), nil
}

func (r *racyStore) Reset(ctx context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, userID)
	return nil
}

func TestGuard_DistributedLockSerializesRacyStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	lockManager, err := locks.NewManager(client, logging.NewNopLogger(),
		locks.WithTries(1000), locks.WithRetryDelay(time.Millisecond))
	require.NoError(t, err)

	const limit = 3
	g, _ := newGuard(t, &racyStore{states: map[int64]State{}}, Limit{MaxRequests: limit, Period: week},
		WithLocker(lockManager, 5*time.Second))

	var admitted int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Acquire(context.Background(), 3); err == nil {
				atomic.AddInt32(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(limit), admitted)
	assert.False(t, mr.Exists("lock:quota:3"))
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Update(ctx, 1, func(State) (State, bool, error) {
		t.Fatal("fn must not run")
		return State{}, false, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
