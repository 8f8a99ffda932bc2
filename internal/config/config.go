// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the server configuration. DatabaseURL empty selects the
// in-memory store; RedisURL is only used together with a database.
type Config struct {
	Port        string        `env:"PORT" envDefault:"8080"`
	DatabaseURL string        `env:"DATABASE_URL"`
	RedisURL    string        `env:"REDIS_URL"`
	CacheTTL    time.Duration `env:"CACHE_TTL" envDefault:"30s"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"info"`

	APIRatePerSec float64 `env:"API_RATE_PER_SEC" envDefault:"10"`
	APIRateBurst  int     `env:"API_RATE_BURST" envDefault:"5"`

	TxMaxRetries    int           `env:"TX_MAX_RETRIES" envDefault:"5"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// Load reads a local .env file if present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env is optional

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.TxMaxRetries < 0 {
		return nil, fmt.Errorf("config: TX_MAX_RETRIES must be >= 0, got %d", cfg.TxMaxRetries)
	}
	if cfg.APIRatePerSec <= 0 {
		return nil, fmt.Errorf("config: API_RATE_PER_SEC must be positive, got %v", cfg.APIRatePerSec)
	}
	return &cfg, nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
