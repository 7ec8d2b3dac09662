package config

import (
	"os"
	"strconv"
	"time"

	"callsplit/internal/errors"
)

// Config represents the complete service configuration
type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Runner    RunnerConfig
	RateLimit RateLimitConfig
}

// DatabaseConfig holds database connection settings. An empty URL switches
// the service to in-memory repositories.
type DatabaseConfig struct {
	URL     string
	SSLMode string
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port    string
	GinMode string
}

// RunnerConfig holds execution-loop settings
type RunnerConfig struct {
	TickInterval time.Duration
	BatchSize    int
	MaxInFlight  int
}

// RateLimitConfig sizes the multi-level throttle
type RateLimitConfig struct {
	GlobalBurst     int
	GlobalRate      float64
	CLIBurst        int
	CLIRate         float64
	TestBurst       int
	TestRate        float64
	DownshiftFactor float64
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		Database: DatabaseConfig{
			URL:     getEnvOrDefault("DATABASE_URL", ""),
			SSLMode: getEnvOrDefault("SSL_MODE", "disable"),
		},
		Server: ServerConfig{
			Port:    getEnvOrDefault("PORT", "8080"),
			GinMode: getEnvOrDefault("GIN_MODE", "debug"),
		},
		Runner: RunnerConfig{
			TickInterval: getEnvDurationOrDefault("RUNNER_TICK_INTERVAL", time.Second),
			BatchSize:    getEnvIntOrDefault("RUNNER_BATCH_SIZE", 10),
			MaxInFlight:  getEnvIntOrDefault("RUNNER_MAX_IN_FLIGHT", 8),
		},
		RateLimit: RateLimitConfig{
			GlobalBurst:     getEnvIntOrDefault("RATE_GLOBAL_BURST", 50),
			GlobalRate:      getEnvFloatOrDefault("RATE_GLOBAL_RATE", 10),
			CLIBurst:        getEnvIntOrDefault("RATE_CLI_BURST", 5),
			CLIRate:         getEnvFloatOrDefault("RATE_CLI_RATE", 1),
			TestBurst:       getEnvIntOrDefault("RATE_TEST_BURST", 20),
			TestRate:        getEnvFloatOrDefault("RATE_TEST_RATE", 5),
			DownshiftFactor: getEnvFloatOrDefault("RATE_DOWNSHIFT_FACTOR", 0.5),
		},
	}

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func validateConfig(config *Config) error {
	if config.Runner.TickInterval <= 0 {
		return errors.ConfigInvalid("RUNNER_TICK_INTERVAL must be positive")
	}
	if config.Runner.BatchSize < 1 {
		return errors.ConfigInvalid("RUNNER_BATCH_SIZE must be >= 1")
	}
	if config.Runner.MaxInFlight < 1 {
		return errors.ConfigInvalid("RUNNER_MAX_IN_FLIGHT must be >= 1")
	}
	if config.RateLimit.DownshiftFactor <= 0 || config.RateLimit.DownshiftFactor >= 1 {
		return errors.ConfigInvalid("RATE_DOWNSHIFT_FACTOR must be in (0, 1)")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
