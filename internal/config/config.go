/**
 * Process configuration for the workbench.
 *
 * Loaded from environment variables; the settings document (backend modes and
 * credentials) is a separate YAML file pointed at by WORKBENCH_SETTINGS.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds workbench process configuration.
type Config struct {
	// Root directory for project storage and the project index document.
	DataDir string

	// Path to the settings document (backend modes, credentials).
	SettingsPath string

	// Maximum concurrent backend calls per stage.
	StageConcurrency int

	// Log level: debug, info, warn, error.
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:          getEnvOrDefault("WORKBENCH_DATA_DIR", "./projects"),
		SettingsPath:     getEnvOrDefault("WORKBENCH_SETTINGS", "./settings.yaml"),
		StageConcurrency: getEnvAsIntOrDefault("WORKBENCH_STAGE_CONCURRENCY", 4),
		LogLevel:         getEnvOrDefault("WORKBENCH_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks if configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("WORKBENCH_DATA_DIR is required")
	}
	if c.SettingsPath == "" {
		return fmt.Errorf("WORKBENCH_SETTINGS is required")
	}
	if c.StageConcurrency < 1 || c.StageConcurrency > 64 {
		return fmt.Errorf("WORKBENCH_STAGE_CONCURRENCY must be between 1 and 64, got %d", c.StageConcurrency)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
