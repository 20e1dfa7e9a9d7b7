// Package config provides configuration management for the codearena catalog
// and chat-quota services. Values come from environment variables (optionally
// seeded from a .env file by the entry point) with defaults suitable for local
// development.
//
// Environment Variables:
//
// Application Settings:
//   - LOG_LEVEL: Logging level (default: info)
//   - METRICS_ADDR: Listen address for /healthz and /metrics (default: :9090)
//
// Database Configuration:
//   - DATABASE_TYPE: "postgres" or "sqlite" (default: postgres)
//   - DATABASE_URL: PostgreSQL connection string (required for postgres)
//   - DATABASE_PATH: SQLite database file path (default: ./codearena.db)
//
// Redis Configuration:
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//   - REDIS_TLS: Connect with TLS (default: false)
//
// Cache Configuration:
//   - LOCAL_CACHE_MAX_SIZE: Local cache capacity in entries (default: 1000)
//   - LOCAL_CACHE_TTL: Default local entry lifetime (default: 60s)
//   - LOCAL_CACHE_CLEANUP: Background sweep interval, 0 disables (default: 0s)
//   - CACHE_REMOTE_TIMEOUT: Upper bound on a single Redis cache call (default: 500ms)
//   - CACHE_INVALIDATION_CHANNEL: Pub/sub channel for peer invalidation, empty disables
//     (default: catalog:invalidate)
//
// Chat Quota:
//   - CHAT_MAX_REQUESTS: Bucket capacity (default: 2)
//   - CHAT_PERIOD: Time to refill the whole bucket (default: 168h)
//   - CHAT_LOCK_TTL: Expiry of the per-user distributed lock, 0 disables (default: 5s)
//   - OPENAI_API_KEY: API key for the assistant
//   - OPENAI_MODEL: Chat model (default: gpt-3.5-turbo)
//   - OPENAI_BASE_URL: Alternative OpenAI-compatible endpoint
//   - CHAT_HISTORY_TURNS: Stored turns replayed to the assistant, 0 disables (default: 6)
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values. Load fills it from the environment;
// call Validate before use.
type Config struct {
	LogLevel    string
	MetricsAddr string

	DatabaseType string
	DatabaseURL  string
	DatabasePath string

	RedisAddress  string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
	RedisTLS      bool

	LocalCacheMaxSize   int
	LocalCacheTTL       time.Duration
	LocalCacheCleanup   time.Duration
	RemoteCacheTimeout  time.Duration
	InvalidationChannel string

	ChatMaxRequests int
	ChatPeriod      time.Duration
	ChatLockTTL     time.Duration
	OpenAIAPIKey    string
	OpenAIModel     string
	OpenAIBaseURL   string
	ChatHistory     int
}

// Load creates a Config from environment variables, falling back to defaults.
// It does not validate.
func Load() *Config {
	return &Config{
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		DatabaseType: strings.ToLower(getEnv("DATABASE_TYPE", "postgres")),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		DatabasePath: getEnv("DATABASE_PATH", "./codearena.db"),

		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		RedisPoolSize: getIntEnv("REDIS_POOL_SIZE", 10),
		RedisTLS:      getBoolEnv("REDIS_TLS", false),

		LocalCacheMaxSize:   getIntEnv("LOCAL_CACHE_MAX_SIZE", 1000),
		LocalCacheTTL:       getDurationEnv("LOCAL_CACHE_TTL", time.Minute),
		LocalCacheCleanup:   getDurationEnv("LOCAL_CACHE_CLEANUP", 0),
		RemoteCacheTimeout:  getDurationEnv("CACHE_REMOTE_TIMEOUT", 500*time.Millisecond),
		InvalidationChannel: getEnvAllowEmpty("CACHE_INVALIDATION_CHANNEL", "catalog:invalidate"),

		ChatMaxRequests: getIntEnv("CHAT_MAX_REQUESTS", 2),
		ChatPeriod:      getDurationEnv("CHAT_PERIOD", 7*24*time.Hour),
		ChatLockTTL:     getDurationEnv("CHAT_LOCK_TTL", 5*time.Second),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-3.5-turbo"),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
		ChatHistory:     getIntEnv("CHAT_HISTORY_TURNS", 6),
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	switch c.DatabaseType {
	case "postgres", "postgresql":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when using PostgreSQL")
		}
	case "sqlite":
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required when using SQLite")
		}
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'postgres' or 'sqlite'")
	}

	if c.RedisAddress != "" {
		if c.RedisDB < 0 || c.RedisDB > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if c.RedisPoolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	}

	if c.LocalCacheMaxSize < 1 {
		return fmt.Errorf("LOCAL_CACHE_MAX_SIZE must be a positive number")
	}
	if c.LocalCacheTTL <= 0 {
		return fmt.Errorf("LOCAL_CACHE_TTL must be a positive duration")
	}
	if c.LocalCacheCleanup < 0 {
		return fmt.Errorf("LOCAL_CACHE_CLEANUP must not be negative")
	}
	if c.RemoteCacheTimeout <= 0 {
		return fmt.Errorf("CACHE_REMOTE_TIMEOUT must be a positive duration")
	}

	if c.ChatMaxRequests < 1 {
		return fmt.Errorf("CHAT_MAX_REQUESTS must be a positive number")
	}
	if c.ChatPeriod < time.Second {
		return fmt.Errorf("CHAT_PERIOD must be at least one second")
	}
	if c.ChatLockTTL < 0 {
		return fmt.Errorf("CHAT_LOCK_TTL must not be negative")
	}
	if c.ChatHistory < 0 {
		return fmt.Errorf("CHAT_HISTORY_TURNS must not be negative")
	}

	return nil
}

// UsesPostgres reports whether the configured database is PostgreSQL.
func (c *Config) UsesPostgres() bool {
	return c.DatabaseType == "postgres" || c.DatabaseType == "postgresql"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAllowEmpty distinguishes an unset variable from one explicitly set
// to the empty string.
func getEnvAllowEmpty(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

// getIntEnv returns defaultValue when the variable is unset or unparsable;
// Validate then reports out-of-range values.
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
