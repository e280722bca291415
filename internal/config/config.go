// Package config loads and validates application configuration from
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database settings.
	DatabaseURL    string
	PoolMaxConns   int
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration

	// Auth settings.
	ServiceAPIKey   string
	TimestampWindow time.Duration // Agent-signature replay window.

	// Rate limiting.
	RateLimitMax    int
	RateLimitWindow time.Duration

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Host:                envStr("HOST", "0.0.0.0"),
		Port:                envInt("PORT", 8080),
		ReadTimeout:         envDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("WRITE_TIMEOUT", 30*time.Second),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		PoolMaxConns:        envInt("DATABASE_POOL_MAX", 10),
		IdleTimeout:         envDuration("DATABASE_IDLE_TIMEOUT", 5*time.Minute),
		ConnectTimeout:      envDuration("DATABASE_CONNECT_TIMEOUT", 10*time.Second),
		ServiceAPIKey:       envStr("SERVICE_API_KEY", ""),
		TimestampWindow:     time.Duration(envInt("SIGNATURE_TIMESTAMP_WINDOW", 300)) * time.Second,
		RateLimitMax:        envInt("RATE_LIMIT_MAX", 300),
		RateLimitWindow:     envDuration("RATE_LIMIT_WINDOW", time.Minute),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "trustd"),
		LogLevel:            envStr("LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(envInt("MAX_REQUEST_BODY_BYTES", 1*1024*1024)),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	if c.ServiceAPIKey == "" {
		return fmt.Errorf("config: SERVICE_API_KEY is required")
	}
	if c.TimestampWindow <= 0 {
		return fmt.Errorf("config: SIGNATURE_TIMESTAMP_WINDOW must be positive")
	}
	if c.PoolMaxConns <= 0 {
		return fmt.Errorf("config: DATABASE_POOL_MAX must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: MAX_REQUEST_BODY_BYTES must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
