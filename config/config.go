// Package config provides configuration management for the cache engine.
// It handles loading configuration from environment variables with sensible
// defaults and validates the configuration so the engine starts safely.
//
// Environment Variables:
//
// L1 (in-process tier):
//   - L1_MAX_SIZE: Maximum number of entries held in L1 (default: 1000)
//   - L1_DEFAULT_TTL_SECONDS: Default L1 entry TTL (default: 300)
//   - L1_SWEEP_INTERVAL_SECONDS: Expiry sweep interval (default: 60)
//
// L2 (distributed tier):
//   - L2_DEFAULT_TTL_SECONDS: Default L2 entry TTL (default: 1800)
//   - L2_KEY_PREFIX: Prefix applied to every L2 key (default: "cache:")
//   - L2_MAX_RETRIES: Retries per failed L2 call (default: 2)
//   - L2_RETRY_DELAY_MS: Delay between retries (default: 50)
//   - L2_TIMEOUT_MS: Per-call L2 timeout (default: 500)
//
// Metrics:
//   - METRICS_INTERVAL_SECONDS: Collection interval (default: 60)
//
// Redis connection:
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Logging:
//   - LOG_LEVEL: Logging level (default: info)
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the cache engine.
// All fields correspond to environment variables that can be set to
// override the default values.
//
// The configuration is loaded using the Load() function and should be
// validated using the Validate() method before use.
type Config struct {
	// L1 tier settings
	L1MaxSize              int // Maximum entry count before LRU eviction
	L1DefaultTTLSeconds    int // Default TTL for L1 entries and backfills
	L1SweepIntervalSeconds int // Interval of the background expiry sweep

	// L2 tier settings
	L2DefaultTTLSeconds int    // Default TTL for L2 entries
	L2KeyPrefix         string // Namespace prefix for all L2 keys
	L2MaxRetries        int    // Retries per failed L2 call
	L2RetryDelayMs      int    // Delay between L2 retries
	L2TimeoutMs         int    // Per-call timeout for L2 operations

	// Metrics settings
	MetricsIntervalSeconds int // Interval of the metrics collection cycle

	// Redis connection settings
	RedisAddress  string // Redis server address (host:port)
	RedisPassword string // Redis authentication password
	RedisDB       int    // Redis database number (0-15)
	RedisPoolSize int    // Redis connection pool size

	// Logging
	LogLevel string // Logging level (debug, info, warn, error)
}

// Load creates a new Config instance with values loaded from environment
// variables. A .env file in the working directory is read first if present.
//
// This function does not validate the configuration - call Validate() on the
// returned Config to ensure all values are properly set and valid.
func Load() *Config {
	// Best-effort; absence of a .env file is the normal case in production.
	_ = godotenv.Load()

	return &Config{
		L1MaxSize:              getIntEnv("L1_MAX_SIZE", 1000),
		L1DefaultTTLSeconds:    getIntEnv("L1_DEFAULT_TTL_SECONDS", 300),
		L1SweepIntervalSeconds: getIntEnv("L1_SWEEP_INTERVAL_SECONDS", 60),

		L2DefaultTTLSeconds: getIntEnv("L2_DEFAULT_TTL_SECONDS", 1800),
		L2KeyPrefix:         getEnv("L2_KEY_PREFIX", "cache:"),
		L2MaxRetries:        getIntEnv("L2_MAX_RETRIES", 2),
		L2RetryDelayMs:      getIntEnv("L2_RETRY_DELAY_MS", 50),
		L2TimeoutMs:         getIntEnv("L2_TIMEOUT_MS", 500),

		MetricsIntervalSeconds: getIntEnv("METRICS_INTERVAL_SECONDS", 60),

		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		RedisPoolSize: getIntEnv("REDIS_POOL_SIZE", 10),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv retrieves an integer environment variable value or returns a
// default value if the variable is not set or cannot be parsed.
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate performs validation on the configuration to ensure all values
// are present and valid. The engine should call this after loading
// configuration and before constructing stores.
func (c *Config) Validate() error {
	if c.L1MaxSize < 1 {
		return fmt.Errorf("L1_MAX_SIZE must be a positive number")
	}
	if c.L1DefaultTTLSeconds < 1 {
		return fmt.Errorf("L1_DEFAULT_TTL_SECONDS must be a positive number")
	}
	if c.L1SweepIntervalSeconds < 1 {
		return fmt.Errorf("L1_SWEEP_INTERVAL_SECONDS must be a positive number")
	}
	if c.L2DefaultTTLSeconds < 1 {
		return fmt.Errorf("L2_DEFAULT_TTL_SECONDS must be a positive number")
	}
	if c.L2MaxRetries < 0 {
		return fmt.Errorf("L2_MAX_RETRIES must not be negative")
	}
	if c.L2RetryDelayMs < 0 {
		return fmt.Errorf("L2_RETRY_DELAY_MS must not be negative")
	}
	if c.L2TimeoutMs < 1 {
		return fmt.Errorf("L2_TIMEOUT_MS must be a positive number")
	}
	if c.MetricsIntervalSeconds < 1 {
		return fmt.Errorf("METRICS_INTERVAL_SECONDS must be a positive number")
	}

	if c.RedisAddress == "" {
		return fmt.Errorf("REDIS_ADDRESS is required")
	}
	if c.RedisDB < 0 || c.RedisDB > 15 {
		return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
	}
	if c.RedisPoolSize < 1 {
		return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
	}

	return nil
}
