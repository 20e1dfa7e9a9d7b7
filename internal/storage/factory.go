package storage

import (
	"context"
	"fmt"

	"codearena/internal/common/errors"
	"codearena/internal/config"
)

// DSNConfig is a StorageConfig made of a backend type and its connection
// string: a PostgreSQL URL or an SQLite file path.
type DSNConfig struct {
	Type string
	DSN  string
}

func (c DSNConfig) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("%s connection string is required", c.Type)
	}
	return nil
}

func (c DSNConfig) GetType() string {
	return c.Type
}

// ConfigFrom maps application configuration to a backend config.
func ConfigFrom(cfg *config.Config) (StorageConfig, error) {
	switch {
	case cfg.UsesPostgres():
		return DSNConfig{Type: "postgres", DSN: cfg.DatabaseURL}, nil
	case cfg.DatabaseType == "sqlite":
		return DSNConfig{Type: "sqlite", DSN: cfg.DatabasePath}, nil
	default:
		return nil, errors.ConfigError(fmt.Sprintf("unsupported database type: %s", cfg.DatabaseType))
	}
}

// NewStorage creates, connects and migrates the configured backend. The
// backend's package must be linked in (blank import) so it has registered.
func NewStorage(ctx context.Context, cfg *config.Config) (Storage, error) {
	storageConfig, err := ConfigFrom(cfg)
	if err != nil {
		return nil, err
	}
	if err := storageConfig.Validate(); err != nil {
		return nil, errors.ConfigError(err.Error())
	}

	store, err := Create(ctx, storageConfig.GetType(), storageConfig)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}
