package app

import (
	"context"
	"time"

	"codearena/internal/common/errors"
	"codearena/internal/common/logging"
	"codearena/internal/common/utils"
	"codearena/internal/storage"
	_ "codearena/internal/storage/postgres"
	_ "codearena/internal/storage/sqlite"
)

// initializeStorage retries connection failures so the service can start
// alongside a database that is still booting.
func (app *App) initializeStorage(ctx context.Context) error {
	if app.Config.UsesPostgres() {
		app.Logger.Info("Database: PostgreSQL")
	} else {
		app.Logger.Info("Database: SQLite", logging.String("path", app.Config.DatabasePath))
	}

	retry := utils.DefaultRetryConfig()
	retry.RetryableErrors = func(err error) bool {
		return errors.IsType(err, errors.ErrTypeConnection)
	}
	retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		app.Logger.Warn("Database not reachable, retrying",
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Err(err),
		)
	}

	return utils.RetryWithBackoff(ctx, retry, func(ctx context.Context) error {
		store, err := storage.NewStorage(ctx, app.Config)
		if err != nil {
			return err
		}
		app.Storage = store
		return nil
	})
}
