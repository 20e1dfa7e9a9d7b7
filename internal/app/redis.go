package app

import (
	"codearena/internal/common/logging"
	"codearena/internal/locks"
	"codearena/internal/redis"
)

func (app *App) initializeRedis() error {
	if app.Config.RedisAddress == "" {
		app.Logger.Info("Redis: Not configured (remote cache, invalidation and distributed locks disabled)")
		return nil
	}

	redisClient, err := redis.NewClient(&redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       app.Config.RedisDB,
		PoolSize: app.Config.RedisPoolSize,
		TLS:      app.Config.RedisTLS,
	})
	if err != nil {
		return err
	}
	app.RedisClient = redisClient
	app.Logger.Info("Redis: Connected", logging.String("address", app.Config.RedisAddress))

	lockManager, err := locks.NewManager(redisClient, app.Logger)
	if err != nil {
		return err
	}
	app.Locks = lockManager
	app.Logger.Info("Distributed Locks: Enabled")

	return nil
}
