package sqlite

import (
	"context"
	"fmt"

	"codearena/internal/storage"
)

type Factory struct{}

func (f *Factory) Create(ctx context.Context, config storage.StorageConfig) (storage.Storage, error) {
	dsnConfig, ok := config.(storage.DSNConfig)
	if !ok {
		return nil, fmt.Errorf("invalid config type for SQLite storage")
	}
	if err := dsnConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SQLite config: %w", err)
	}

	return NewAdapter(ctx, dsnConfig.DSN)
}

func (f *Factory) GetType() string {
	return "sqlite"
}

func init() {
	storage.Register("sqlite", &Factory{})
}
