// Package storage is the authoritative data layer behind the catalog cache,
// the chat quota and the chat history. Backends register themselves by type
// ("postgres", "sqlite") and are created from configuration:
//
//	store, err := storage.NewStorage(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
// Every backend implements catalog.Source and chat.History, and exposes its
// users table as a ratelimit.Store through Quotas.
// Quota updates are atomic per user: PostgreSQL locks the user's row inside
// a transaction, SQLite takes the database write lock up front.
package storage

import (
	"context"

	"codearena/internal/catalog"
	"codearena/internal/chat"
	"codearena/internal/ratelimit"
)

type Storage interface {
	catalog.Source
	chat.History

	Quotas() ratelimit.Store

	// Migrate creates any missing tables. It is idempotent.
	Migrate(ctx context.Context) error
	Health(ctx context.Context) error
	Close() error
}

// StorageConfig is backend-specific configuration.
type StorageConfig interface {
	Validate() error
	GetType() string
}

type StorageFactory interface {
	Create(ctx context.Context, config StorageConfig) (Storage, error)
	GetType() string
}
