package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codearena/internal/catalog"
	"codearena/internal/chat"
	"codearena/internal/common/errors"
	"codearena/internal/ratelimit"
	"codearena/internal/storage"
)

// RunStorageSuite exercises a backend against the behavior the catalog,
// quota guard and chat service rely on. newStore must return an empty,
// migrated store for each call.
func RunStorageSuite(t *testing.T, newStore func(t *testing.T) storage.Storage) {
	t.Run("catalog", func(t *testing.T) { testCatalog(t, newStore(t)) })
	t.Run("search", func(t *testing.T) { testSearch(t, newStore(t)) })
	t.Run("quota", func(t *testing.T) { testQuota(t, newStore(t)) })
	t.Run("concurrent quota updates", func(t *testing.T) { testConcurrentQuota(t, newStore(t)) })
	t.Run("chat history", func(t *testing.T) { testHistory(t, newStore(t)) })
}

func seed(t *testing.T, store storage.Storage) []*catalog.Problem {
	t.Helper()
	var created []*catalog.Problem
	for _, p := range CatalogFixtures() {
		c, err := store.Create(context.Background(), p)
		require.NoError(t, err)
		require.Positive(t, c.ID)
		created = append(created, c)
	}
	return created
}

func testCatalog(t *testing.T, store storage.Storage) {
	ctx := context.Background()

	missing, err := store.LoadByID(ctx, 12345)
	require.NoError(t, err)
	assert.Nil(t, missing)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	tags, err := store.ListDistinctTags(ctx)
	require.NoError(t, err)
	assert.NotNil(t, tags)
	assert.Empty(t, tags)

	created := seed(t, store)

	got, err := store.LoadByID(ctx, created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, created[0], got)
	assert.True(t, got.Complete())

	n, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len(created)), n)

	tags, err = store.ListDistinctTags(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"array", "dp", "graph", "hash-table", "stack", "string"}, tags)

	t.Run("update", func(t *testing.T) {
		changed := created[1].Clone()
		changed.Title = "Longest Path in a DAG"
		changed.Tags = []string{"graph", "topological-sort"}
		require.NoError(t, store.Update(ctx, changed))

		got, err := store.LoadByID(ctx, changed.ID)
		require.NoError(t, err)
		assert.Equal(t, changed, got)

		ghost := changed.Clone()
		ghost.ID = 99999
		err = store.Update(ctx, ghost)
		assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
	})

	t.Run("empty tags stay non-nil", func(t *testing.T) {
		p, err := store.Create(ctx, NewProblemBuilder().WithTags().Build())
		require.NoError(t, err)

		got, err := store.LoadByID(ctx, p.ID)
		require.NoError(t, err)
		assert.NotNil(t, got.Tags)
		assert.Empty(t, got.Tags)
	})

	t.Run("delete", func(t *testing.T) {
		deleted, err := store.Delete(ctx, created[3].ID)
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = store.Delete(ctx, created[3].ID)
		require.NoError(t, err)
		assert.False(t, deleted)

		got, err := store.LoadByID(ctx, created[3].ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func ids(summaries []catalog.Summary) []int64 {
	out := make([]int64, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, s.ID)
	}
	return out
}

func testSearch(t *testing.T, store storage.Storage) {
	ctx := context.Background()
	created := seed(t, store)

	tests := []struct {
		name  string
		query catalog.SearchQuery
		want  []int64
		total int64
	}{
		{
			name:  "no filter",
			query: catalog.SearchQuery{},
			want:  []int64{created[0].ID, created[1].ID, created[2].ID, created[3].ID},
			total: 4,
		},
		{
			name:  "term",
			query: catalog.SearchQuery{Term: "graph"},
			want:  []int64{created[1].ID},
			total: 1,
		},
		{
			name:  "difficulty ignores case",
			query: catalog.SearchQuery{Difficulty: "MEDIUM"},
			want:  []int64{created[1].ID},
			total: 1,
		},
		{
			name:  "any tag matches",
			query: catalog.SearchQuery{Tags: []string{"stack", "dp"}},
			want:  []int64{created[1].ID, created[2].ID, created[3].ID},
			total: 3,
		},
		{
			name:  "filters combine",
			query: catalog.SearchQuery{Difficulty: "easy", Tags: []string{"string"}},
			want:  []int64{created[3].ID},
			total: 1,
		},
		{
			name:  "second page",
			query: catalog.SearchQuery{Page: 1, Size: 3},
			want:  []int64{created[3].ID},
			total: 4,
		},
		{
			name:  "nothing matches",
			query: catalog.SearchQuery{Tags: []string{"geometry"}},
			want:  []int64{},
			total: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := tt.query.Normalize()

			content, err := store.Search(ctx, q)
			require.NoError(t, err)
			assert.NotNil(t, content)
			assert.Equal(t, tt.want, ids(content))
			for _, s := range content {
				assert.NotNil(t, s.Tags)
			}

			total, err := store.CountSearch(ctx, q)
			require.NoError(t, err)
			assert.Equal(t, tt.total, total)
		})
	}
}

func testQuota(t *testing.T, store storage.Storage) {
	ctx := context.Background()
	quotas := store.Quotas()
	now := time.Now().UTC().Truncate(time.Second)

	state, err := quotas.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, ratelimit.State{}, state)

	err = quotas.Update(ctx, 7, func(current ratelimit.State) (ratelimit.State, bool, error) {
		assert.Equal(t, ratelimit.State{}, current)
		return ratelimit.State{Debt: 1.5, LastReset: now}, true, nil
	})
	require.NoError(t, err)

	state, err = quotas.Get(ctx, 7)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, state.Debt, 1e-9)
	assert.True(t, now.Equal(state.LastReset), "got %v", state.LastReset)

	t.Run("no write leaves state untouched", func(t *testing.T) {
		err := quotas.Update(ctx, 7, func(current ratelimit.State) (ratelimit.State, bool, error) {
			return ratelimit.State{Debt: 99}, false, nil
		})
		require.NoError(t, err)

		state, err := quotas.Get(ctx, 7)
		require.NoError(t, err)
		assert.InDelta(t, 1.5, state.Debt, 1e-9)
	})

	t.Run("callback error aborts", func(t *testing.T) {
		err := quotas.Update(ctx, 7, func(current ratelimit.State) (ratelimit.State, bool, error) {
			return ratelimit.State{Debt: 99}, true, ErrTestFailure
		})
		assert.ErrorIs(t, err, ErrTestFailure)

		state, err := quotas.Get(ctx, 7)
		require.NoError(t, err)
		assert.InDelta(t, 1.5, state.Debt, 1e-9)
	})

	t.Run("reset", func(t *testing.T) {
		require.NoError(t, quotas.Reset(ctx, 7))
		state, err := quotas.Get(ctx, 7)
		require.NoError(t, err)
		assert.Zero(t, state.Debt)
		assert.True(t, state.LastReset.IsZero())

		require.NoError(t, quotas.Reset(ctx, 404))
	})
}

func testConcurrentQuota(t *testing.T, store storage.Storage) {
	ctx := context.Background()
	quotas := store.Quotas()

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := quotas.Update(ctx, 42, func(current ratelimit.State) (ratelimit.State, bool, error) {
				return ratelimit.State{Debt: current.Debt + 1, LastReset: time.Now()}, true, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	state, err := quotas.Get(ctx, 42)
	require.NoError(t, err)
	assert.InDelta(t, float64(workers), state.Debt, 1e-9)
}

func testHistory(t *testing.T, store storage.Storage) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	turns := []chat.Message{
		{UserID: 1, Role: chat.RoleUser, Content: "why does this time out?", CreatedAt: base},
		{UserID: 1, Role: chat.RoleAssistant, Content: "your loop is quadratic", CreatedAt: base.Add(time.Second)},
		{UserID: 2, Role: chat.RoleUser, Content: "someone else", CreatedAt: base.Add(2 * time.Second)},
		{UserID: 1, Role: chat.RoleUser, Content: "how do I fix it?", CreatedAt: base.Add(3 * time.Second)},
	}
	for _, m := range turns {
		require.NoError(t, store.SaveMessage(ctx, m))
	}

	recent, err := store.RecentMessages(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "your loop is quadratic", recent[0].Content)
	assert.Equal(t, chat.RoleAssistant, recent[0].Role)
	assert.Equal(t, "how do I fix it?", recent[1].Content)
	assert.True(t, base.Add(3*time.Second).Equal(recent[1].CreatedAt))

	none, err := store.RecentMessages(ctx, 3, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
