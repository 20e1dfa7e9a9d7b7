package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	client, err := NewClient(&Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		mr := miniredis.RunT(t)
		config := &Config{Address: mr.Addr()}

		client, err := NewClient(config)
		require.NoError(t, err)
		defer client.Close()

		assert.Equal(t, 10, config.PoolSize)
	})

	t.Run("nil config", func(t *testing.T) {
		client, err := NewClient(nil)
		assert.Nil(t, client)
		assert.EqualError(t, err, "redis config is required")
	})

	t.Run("connection failure", func(t *testing.T) {
		client, err := NewClient(&Config{Address: "127.0.0.1:1"})
		assert.Nil(t, client)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to Redis")
	})
}

func TestClient_Health(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	assert.NoError(t, client.Health(ctx))

	mr.Close()
	assert.Error(t, client.Health(ctx))
}

func TestClient_SetGet(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	t.Run("string is stored verbatim", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "problem_count", "42", time.Minute))

		got, err := client.Get(ctx, "problem_count")
		require.NoError(t, err)
		assert.Equal(t, "42", got)
		assert.Equal(t, time.Minute, mr.TTL("problem_count"))
	})

	t.Run("structs are JSON encoded", func(t *testing.T) {
		type tagList struct {
			Tags []string `json:"tags"`
		}
		require.NoError(t, client.Set(ctx, "all_tags", tagList{Tags: []string{"dp"}}, 0))

		raw, err := mr.Get("all_tags")
		require.NoError(t, err)
		assert.JSONEq(t, `{"tags":["dp"]}`, raw)
	})

	t.Run("missing key is nil", func(t *testing.T) {
		_, err := client.Get(ctx, "absent")
		assert.True(t, IsNil(err))
	})
}

func TestClient_Delete(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	mr.Set("a", "1")
	mr.Set("b", "2")

	require.NoError(t, client.Delete(ctx, "a", "b"))
	require.NoError(t, client.Delete(ctx))

	assert.False(t, mr.Exists("a"))
	assert.False(t, mr.Exists("b"))
}

func TestClient_ScanDelete(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 450; i++ {
		mr.Set(fmt.Sprintf("search:q=%d", i), "{}")
	}
	mr.Set("problem:id:1", "{}")
	mr.Set("all_tags", "[]")

	deleted, err := client.ScanDelete(ctx, "search:*")
	require.NoError(t, err)

	assert.Equal(t, 450, deleted)
	assert.ElementsMatch(t, []string{"all_tags", "problem:id:1"}, mr.Keys())

	deleted, err = client.ScanDelete(ctx, "search:*")
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestClient_PublishSubscribe(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := client.Subscribe(ctx, "events")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, client.Publish(ctx, "events", map[string]int{"n": 1}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, msg.Payload)
}
