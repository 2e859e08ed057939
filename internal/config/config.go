// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port string

	// AgentBaseURL is where dispatch requests go; AgentAPIKey is sent as
	// a bearer token on those requests.
	AgentBaseURL string
	AgentAPIKey  string

	// WebhookAPIKey protects the inbound progress webhook. Empty
	// disables the check, which is only sensible in development.
	WebhookAPIKey string

	// DatabaseURL selects PostgreSQL when set; otherwise DBPath selects
	// the SQLite file.
	DatabaseURL string
	DBPath      string

	// RedisAddr enables the Redis cache when set; empty runs the
	// in-process cache.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ServicePrefix string

	RateLimitRequests int
	RateLimitWindow   time.Duration

	RetentionDays     int
	StrictTransitions bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		AgentBaseURL:      getEnv("AGENT_BASE_URL", "http://localhost:8001"),
		AgentAPIKey:       getEnv("AGENT_API_KEY", ""),
		WebhookAPIKey:     getEnv("WEBHOOK_API_KEY", ""),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		DBPath:            getEnv("DB_PATH", "./data/promoflow.db"),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		ServicePrefix:     getEnv("SERVICE_PREFIX", "promoflow"),
		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 10),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		RetentionDays:     getEnvInt("RETENTION_DAYS", 30),
		StrictTransitions: getEnvBool("STRICT_TRANSITIONS", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.AgentBaseURL == "" {
		return fmt.Errorf("AGENT_BASE_URL cannot be empty")
	}
	if c.DatabaseURL == "" && c.DBPath == "" {
		return fmt.Errorf("one of DATABASE_URL or DB_PATH must be set")
	}
	if c.ServicePrefix == "" {
		return fmt.Errorf("SERVICE_PREFIX cannot be empty")
	}
	if c.RateLimitRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("RETENTION_DAYS must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
