package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Port         string
	DatabasePath string
	Environment  string

	// Upstream session source (crash parser / playtest AI). Optional:
	// without it the engine only accepts pushed sessions over HTTP.
	SessionSourceURL string
	PollInterval     time.Duration

	// Redis alert fan-out. Optional.
	RedisURL     string
	AlertChannel string
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:         getEnv("PORT", "3001"),
		DatabasePath: getEnv("DATABASE_PATH", "playtrack.db"),
		Environment:  getEnv("ENVIRONMENT", "development"),

		SessionSourceURL: getEnv("SESSION_SOURCE_URL", ""),
		PollInterval:     time.Duration(getEnvInt("POLL_INTERVAL_MINUTES", 5)) * time.Minute,

		RedisURL:     getEnv("REDIS_URL", ""),
		AlertChannel: getEnv("ALERT_CHANNEL", "playtrack:alerts"),
	}
}

// getEnv gets an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a default fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
