// Package config loads the infrastructure knobs from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every tunable of the infrastructure layer. Defaults are chosen
// so a bare environment yields a working local setup.
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPPort string `env:"HTTP_PORT" envDefault:":8080"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Caching.
	CacheDefaultTTL    time.Duration `env:"CACHE_DEFAULT_TTL" envDefault:"5m"`
	StalenessThreshold time.Duration `env:"CACHE_STALENESS_THRESHOLD" envDefault:"2m"`
	BackgroundRefresh  bool          `env:"CACHE_BACKGROUND_REFRESH" envDefault:"true"`
	StampedeProtection bool          `env:"CACHE_STAMPEDE_PROTECTION" envDefault:"true"`
	LockTTL            time.Duration `env:"CACHE_LOCK_TTL" envDefault:"10s"`
	LockRetries        int           `env:"CACHE_LOCK_RETRIES" envDefault:"3"`
	LockRetryDelay     time.Duration `env:"CACHE_LOCK_RETRY_DELAY" envDefault:"50ms"`

	// Rate limiting.
	RateLimitWindow  time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`
	RateLimitCeiling int           `env:"RATE_LIMIT_CEILING" envDefault:"100"`

	// Event channels.
	ProductChannel  string `env:"EVENT_CHANNEL_PRODUCT" envDefault:"product"`
	ActivityChannel string `env:"EVENT_CHANNEL_ACTIVITY" envDefault:"product-activity"`
}

// Load parses the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the infrastructure cannot run with.
func (c *Config) Validate() error {
	if c.CacheDefaultTTL <= 0 {
		return fmt.Errorf("cache default TTL must be positive, got %s", c.CacheDefaultTTL)
	}
	if c.StalenessThreshold <= 0 {
		return fmt.Errorf("staleness threshold must be positive, got %s", c.StalenessThreshold)
	}
	if c.StalenessThreshold >= c.CacheDefaultTTL {
		return fmt.Errorf("staleness threshold %s must be shorter than the cache TTL %s", c.StalenessThreshold, c.CacheDefaultTTL)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("lock TTL must be positive, got %s", c.LockTTL)
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %s", c.RateLimitWindow)
	}
	if c.RateLimitCeiling <= 0 {
		return fmt.Errorf("rate limit ceiling must be positive, got %d", c.RateLimitCeiling)
	}
	if c.ProductChannel == "" || c.ActivityChannel == "" {
		return fmt.Errorf("event channel names cannot be empty")
	}
	return nil
}
