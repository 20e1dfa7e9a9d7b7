package storage_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"codearena/internal/common/errors"
	"codearena/internal/config"
	"codearena/internal/storage"
	_ "codearena/internal/storage/postgres"
	_ "codearena/internal/storage/sqlite"
)

type mockFactory struct {
	mock.Mock
}

func (m *mockFactory) Create(ctx context.Context, config storage.StorageConfig) (storage.Storage, error) {
	args := m.Called(ctx, config)
	store, _ := args.Get(0).(storage.Storage)
	return store, args.Error(1)
}

func (m *mockFactory) GetType() string {
	return "mock"
}

func TestRegistry(t *testing.T) {
	registry := storage.NewRegistry()
	factory := &mockFactory{}
	cfg := storage.DSNConfig{Type: "mock", DSN: "mock://"}
	factory.On("Create", mock.Anything, cfg).Return(nil, assert.AnError).Once()

	registry.Register("mock", factory)
	assert.True(t, registry.IsRegistered("mock"))
	assert.Equal(t, []string{"mock"}, registry.GetAvailableTypes())

	_, err := registry.Create(context.Background(), "mock", cfg)
	assert.ErrorIs(t, err, assert.AnError)
	factory.AssertExpectations(t)

	_, err = registry.Create(context.Background(), "oracle", cfg)
	assert.Error(t, err)
}

func TestDefaultRegistry(t *testing.T) {
	assert.Equal(t, []string{"postgres", "sqlite"}, storage.GetAvailableTypes())
}

func TestConfigFrom(t *testing.T) {
	cfg, err := storage.ConfigFrom(&config.Config{DatabaseType: "postgresql", DatabaseURL: "postgres://db"})
	require.NoError(t, err)
	assert.Equal(t, storage.DSNConfig{Type: "postgres", DSN: "postgres://db"}, cfg)

	cfg, err = storage.ConfigFrom(&config.Config{DatabaseType: "sqlite", DatabasePath: "./a.db"})
	require.NoError(t, err)
	assert.Equal(t, storage.DSNConfig{Type: "sqlite", DSN: "./a.db"}, cfg)

	_, err = storage.ConfigFrom(&config.Config{DatabaseType: "mysql"})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestNewStorage_SQLite(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewStorage(ctx, &config.Config{
		DatabaseType: "sqlite",
		DatabasePath: filepath.Join(t.TempDir(), "codearena.db"),
	})
	require.NoError(t, err)
	defer store.Close()

	assert.NoError(t, store.Health(ctx))
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNewStorage_MissingDSN(t *testing.T) {
	_, err := storage.NewStorage(context.Background(), &config.Config{DatabaseType: "postgres"})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}
