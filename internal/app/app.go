// Package app wires configuration, storage, caches, the quota guard and the
// chat service into a running process.
package app

import (
	"context"
	"sync"

	"codearena/internal/catalog"
	"codearena/internal/chat"
	"codearena/internal/common/cache"
	"codearena/internal/common/logging"
	"codearena/internal/config"
	"codearena/internal/locks"
	"codearena/internal/metrics"
	"codearena/internal/ratelimit"
	"codearena/internal/redis"
	"codearena/internal/storage"
)

// App holds all the application dependencies
type App struct {
	Config  *config.Config
	Logger  logging.Logger
	Metrics *metrics.Metrics

	Storage     storage.Storage
	RedisClient *redis.Client
	LocalCache  *cache.LocalCache
	RemoteCache *cache.RedisRemote
	Broadcaster *cache.Broadcaster
	Locks       *locks.Manager

	Catalog *catalog.Service
	Quota   *ratelimit.Guard
	// Chat is nil when no assistant is configured.
	Chat *chat.Service

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new application instance with all dependencies
func New(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	app := &App{
		Config:  cfg,
		Logger:  logging.OrGlobal(logger).WithFields(logging.String("component", "app")),
		Metrics: metrics.New(),
	}

	if err := app.initializeStorage(ctx); err != nil {
		return nil, err
	}

	if err := app.initializeRedis(); err != nil {
		// Redis is optional, just log the error
		app.Logger.Warn("Redis initialization failed, continuing without Redis", logging.Err(err))
	}

	app.initializeCatalog()

	if err := app.initializeQuota(); err != nil {
		app.Cleanup()
		return nil, err
	}

	if err := app.initializeChat(); err != nil {
		app.Cleanup()
		return nil, err
	}

	return app, nil
}

// Start launches background workers. They stop on Shutdown.
func (app *App) Start(ctx context.Context) {
	ctx, app.cancel = context.WithCancel(ctx)

	if app.Broadcaster != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			if err := app.Broadcaster.Listen(ctx); err != nil {
				app.Logger.Error("Invalidation listener stopped", err)
			}
		}()
	}
}

// Shutdown stops background workers and waits for them.
func (app *App) Shutdown(ctx context.Context) error {
	if app.cancel != nil {
		app.cancel()
	}

	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.Storage != nil {
		app.Storage.Close()
	}
	if app.RedisClient != nil {
		app.RedisClient.Close()
	}
}
