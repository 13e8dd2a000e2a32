// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
	LogFormat   string // json, text

	// Model backend
	ModelBaseURL     string
	ModelAPIKey      string
	ModelName        string
	ModelTimeout     time.Duration
	ModelMaxAttempts int
	MaxPromptTokens  int

	// Database (optional; in-memory store is used when empty)
	DatabaseURL string

	// Signals feed (optional; static source is used when empty)
	SignalsURL string

	// Observability
	OTLPEndpoint string

	// Rate limiting
	RateLimitPerMinute int
}

// Load reads configuration from environment variables.
// A .env file is loaded first if present (development convenience).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),

		ModelBaseURL:     getEnv("MODEL_BASE_URL", ""),
		ModelAPIKey:      getEnv("MODEL_API_KEY", ""),
		ModelName:        getEnv("MODEL_NAME", "gpt-4o-mini"),
		ModelTimeout:     getEnvDuration("MODEL_TIMEOUT", 8*time.Second),
		ModelMaxAttempts: getEnvInt("MODEL_MAX_ATTEMPTS", 2),
		MaxPromptTokens:  getEnvInt("MAX_PROMPT_TOKENS", 6000),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		SignalsURL:  getEnv("SIGNALS_URL", ""),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and sane.
func (c *Config) Validate() error {
	if c.ModelBaseURL == "" {
		return fmt.Errorf("MODEL_BASE_URL is required")
	}
	if c.ModelAPIKey == "" && c.Environment == "production" {
		return fmt.Errorf("MODEL_API_KEY is required in production")
	}
	if c.ModelTimeout <= 0 {
		return fmt.Errorf("MODEL_TIMEOUT must be positive, got %s", c.ModelTimeout)
	}
	if c.ModelMaxAttempts < 1 {
		return fmt.Errorf("MODEL_MAX_ATTEMPTS must be at least 1, got %d", c.ModelMaxAttempts)
	}
	if c.MaxPromptTokens < 1 {
		return fmt.Errorf("MAX_PROMPT_TOKENS must be positive, got %d", c.MaxPromptTokens)
	}
	if c.RateLimitPerMinute < 1 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive, got %d", c.RateLimitPerMinute)
	}
	return nil
}

// IsProduction returns true when running in the production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
