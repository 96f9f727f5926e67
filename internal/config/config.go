package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	Environment  string
	DatabaseURL  string
	RedisURL     string
	PoolPath     string
	KeyStorePath string
	AuthorityKey string // hex-encoded ed25519 seed
	Treasury     string
	ListenAddr   string
	MetricsAddr  string

	MarketFeeBps  uint16
	MaxWindow     time.Duration
	FlushInterval time.Duration

	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables with flexible validation.
// For development/testing, it allows plain DATABASE_URL values.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:  os.Getenv("APP_ENV"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		PoolPath:     getDefault("GHOST_POOL_PATH", "ghostpool.db"),
		KeyStorePath: getDefault("KEY_STORE_PATH", "keys"),
		AuthorityKey: os.Getenv("AUTHORITY_KEY"),
		Treasury:     getDefault("TREASURY_WALLET", "treasury"),
		ListenAddr:   getDefault("LISTEN_ADDR", ":7450"),
		MetricsAddr:  getDefault("METRICS_ADDR", ":9090"),
		LogLevel:     getDefault("LOG_LEVEL", "info"),
		LogFormat:    getDefault("LOG_FORMAT", "json"),
	}

	if v := os.Getenv("MARKET_FEE_BPS"); v != "" {
		bps, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return nil, errors.New("MARKET_FEE_BPS must be an integer in basis points")
		}
		cfg.MarketFeeBps = uint16(bps)
	}
	if v := os.Getenv("MAX_BATCH_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, errors.New("MAX_BATCH_WINDOW must be a duration, e.g. 2s")
		}
		cfg.MaxWindow = d
	}
	if v := os.Getenv("FLUSH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, errors.New("FLUSH_INTERVAL must be a duration, e.g. 50ms")
		}
		cfg.FlushInterval = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var missing []string

	if c.Environment == "" {
		missing = append(missing, "APP_ENV")
	}
	if c.AuthorityKey == "" {
		missing = append(missing, "AUTHORITY_KEY")
	}

	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}

	// Development runs tolerate in-memory stores; production and staging
	// require the durable backends.
	if c.Environment == "production" || c.Environment == "staging" {
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
		if c.RedisURL == "" {
			missing = append(missing, "REDIS_URL")
		}

		if len(missing) > 0 {
			return errors.New("missing required environment variables for " + c.Environment + ": " + strings.Join(missing, ", "))
		}
	}

	return nil
}

func getDefault(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
