// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration.
type Config struct {
	DatabasePath    string
	LogLevel        string
	RefreshInterval time.Duration
	RefreshTimeout  time.Duration
	RefreshWorkers  int
	HTTPTimeout     time.Duration
	MaxBodyBytes    int64
	UserAgent       string
}

// Load reads configuration from environment variables, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath:    envOr("DATABASE_PATH", "./data/ingest.db"),
		LogLevel:        envOr("LOG_LEVEL", "info"),
		RefreshInterval: time.Hour,
		RefreshTimeout:  2 * time.Minute,
		RefreshWorkers:  4,
		HTTPTimeout:     30 * time.Second,
		MaxBodyBytes:    5 * 1024 * 1024,
		UserAgent:       envOr("USER_AGENT", ""),
	}

	if v, err := envInt("REFRESH_INTERVAL_MINUTES"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.RefreshInterval = time.Duration(v) * time.Minute
	}
	if v, err := envInt("REFRESH_TIMEOUT_SECONDS"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.RefreshTimeout = time.Duration(v) * time.Second
	}
	if v, err := envInt("REFRESH_WORKERS"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.RefreshWorkers = int(v)
	}
	if v, err := envInt("HTTP_TIMEOUT_SECONDS"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.HTTPTimeout = time.Duration(v) * time.Second
	}
	if v, err := envInt("MAX_BODY_BYTES"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.MaxBodyBytes = v
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, v)
	}
	return v, nil
}
