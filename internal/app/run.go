package app

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"codearena/internal/common/logging"
	"codearena/internal/config"
	"codearena/internal/server"
)

// Run is the main entry point for the application
func Run() error {
	// Load environment variables
	_ = godotenv.Load()

	cfg := config.Load()

	logger, err := logging.NewZapLogger(logging.LogConfig{
		Level:      logging.ParseLevel(cfg.LogLevel),
		TimeFormat: time.RFC3339,
		Name:       "codearena",
	})
	if err != nil {
		return err
	}
	logging.SetGlobalLogger(logger)
	defer logging.Sync()

	logger.Info("Starting codearena", logging.Int("cpus", runtime.NumCPU()))

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", err)
		return err
	}

	ctx := context.Background()

	app, err := New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	app.Start(ctx)

	srv := server.New(app.Router(), cfg.MetricsAddr, logger)
	if err := srv.Start(); err != nil {
		logger.Error("Server failed to start", err)
		return err
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", err)
	}
	if err := app.Shutdown(ctx); err != nil {
		logger.Warn("Error during app shutdown", logging.Err(err))
	}

	logger.Info("Server exited")
	return nil
}
