package app

import (
	"codearena/internal/catalog"
	"codearena/internal/common/cache"
	"codearena/internal/common/logging"
)

func (app *App) initializeCatalog() {
	app.LocalCache = cache.NewLocalCache(cache.LocalConfig{
		MaxSize:         app.Config.LocalCacheMaxSize,
		DefaultTTL:      app.Config.LocalCacheTTL,
		CleanupInterval: app.Config.LocalCacheCleanup,
	})

	catalogConfig := catalog.DefaultConfig()
	catalogConfig.LocalTTL = app.Config.LocalCacheTTL

	opts := []catalog.Option{
		catalog.WithConfig(catalogConfig),
		catalog.WithMetrics(app.Metrics),
	}

	// A nil *RedisRemote must not become a non-nil RemoteCache.
	var remote cache.RemoteCache
	if app.RedisClient != nil {
		app.RemoteCache = cache.NewRedisRemote(app.RedisClient, cache.RemoteConfig{
			Timeout: app.Config.RemoteCacheTimeout,
		}, app.Logger)
		remote = app.RemoteCache

		if app.Config.InvalidationChannel != "" {
			app.Broadcaster = cache.NewBroadcaster(app.RedisClient, app.Config.InvalidationChannel, app.LocalCache, app.Logger)
			opts = append(opts, catalog.WithInvalidator(app.Broadcaster))
		}
	}

	app.Catalog = catalog.NewService(app.Storage, app.LocalCache, remote, app.Logger, opts...)

	app.Logger.Info("Catalog cache: Enabled",
		logging.Int("local_max_size", app.LocalCache.MaxSize()),
		logging.Duration("local_ttl", app.Config.LocalCacheTTL),
		logging.String("remote", remoteState(remote != nil)),
	)
}

func remoteState(enabled bool) string {
	if enabled {
		return "redis"
	}
	return "disabled"
}
