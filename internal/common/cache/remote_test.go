package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codearena/internal/circuitbreaker"
	"codearena/internal/common/errors"
	"codearena/internal/common/logging"
	"codearena/internal/redis"
)

type problemDoc struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

func setupRemote(t *testing.T) (*RedisRemote, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	remote := NewRedisRemote(client, RemoteConfig{
		Timeout: time.Second,
		Breaker: circuitbreaker.Config{MaxFailures: 2, Timeout: time.Minute, MaxConcurrentRequests: 1},
	}, logging.NewNopLogger())
	return remote, mr
}

func TestRedisRemote_ObjectRoundTrip(t *testing.T) {
	remote, mr := setupRemote(t)
	ctx := context.Background()

	require.NoError(t, remote.SetObject(ctx, "problem:id:7", problemDoc{ID: 7, Title: "Two Sum"}, time.Hour))

	var got problemDoc
	require.True(t, remote.GetObject(ctx, "problem:id:7", &got))
	assert.Equal(t, problemDoc{ID: 7, Title: "Two Sum"}, got)
	assert.Equal(t, time.Hour, mr.TTL("problem:id:7"))
}

func TestRedisRemote_TTLRoundsUpToSeconds(t *testing.T) {
	remote, mr := setupRemote(t)
	ctx := context.Background()

	require.NoError(t, remote.SetObject(ctx, "a", 1, 1500*time.Millisecond))
	require.NoError(t, remote.SetObject(ctx, "b", 1, time.Millisecond))
	require.NoError(t, remote.SetObject(ctx, "c", 1, 0))

	assert.Equal(t, 2*time.Second, mr.TTL("a"))
	assert.Equal(t, time.Second, mr.TTL("b"))
	assert.Zero(t, mr.TTL("c"))
}

func TestRedisRemote_Misses(t *testing.T) {
	remote, mr := setupRemote(t)
	ctx := context.Background()

	t.Run("absent key", func(t *testing.T) {
		var got problemDoc
		assert.False(t, remote.GetObject(ctx, "problem:id:404", &got))
		_, ok := remote.GetRawValue(ctx, "problem_count")
		assert.False(t, ok)
	})

	t.Run("undecodable value", func(t *testing.T) {
		mr.Set("problem:id:1", "{not json")
		var got problemDoc
		assert.False(t, remote.GetObject(ctx, "problem:id:1", &got))
	})
}

func TestRedisRemote_RawValue(t *testing.T) {
	remote, mr := setupRemote(t)
	ctx := context.Background()

	require.NoError(t, remote.SetObject(ctx, "problem_count", int64(42), 30*time.Minute))

	raw, err := mr.Get("problem_count")
	require.NoError(t, err)
	assert.Equal(t, "42", raw)

	got, ok := remote.GetRawValue(ctx, "problem_count")
	require.True(t, ok)
	assert.Equal(t, "42", got)
}

func TestRedisRemote_Delete(t *testing.T) {
	remote, mr := setupRemote(t)
	ctx := context.Background()

	mr.Set("problem:id:1", "{}")
	mr.Set("search:q=a", "{}")
	mr.Set("search:q=b", "{}")
	mr.Set("all_tags", "[]")

	require.NoError(t, remote.Delete(ctx, "problem:id:1"))
	assert.False(t, mr.Exists("problem:id:1"))

	n, err := remote.DeleteByPattern(ctx, "search:*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"all_tags"}, mr.Keys())

	_, err = remote.DeleteByPattern(ctx, " ")
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestRedisRemote_DeleteByPatternUsesScanTimeout(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	remote := NewRedisRemote(client, RemoteConfig{Timeout: time.Nanosecond}, logging.NewNopLogger())
	assert.Equal(t, time.Nanosecond, remote.timeout)
	assert.Equal(t, defaultScanTimeout, remote.scanTimeout)

	for i := 0; i < 50; i++ {
		mr.Set(fmt.Sprintf("search:q=%d", i), "{}")
	}
	mr.Set("problem_count", "2")

	n, err := remote.DeleteByPattern(context.Background(), "search:*")
	require.NoError(t, err)
	assert.Equal(t, 50, n)
	assert.Equal(t, []string{"problem_count"}, mr.Keys())
	assert.False(t, remote.Breaker().IsOpen())
}

func TestRedisRemote_UnavailableIsMiss(t *testing.T) {
	remote, mr := setupRemote(t)
	ctx := context.Background()

	mr.Set("all_tags", `["dp"]`)
	mr.Close()

	var tags []string
	for i := 0; i < 3; i++ {
		assert.False(t, remote.GetObject(ctx, "all_tags", &tags))
	}
	assert.True(t, remote.Breaker().IsOpen())

	err := remote.SetObject(ctx, "all_tags", []string{"dp"}, time.Hour)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeCache))
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
}
