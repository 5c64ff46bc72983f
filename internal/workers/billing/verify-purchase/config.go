// internal/workers/billing/verify-purchase/config.go
package verifypurchase

import (
	"fmt"
	"time"

	"play-entitlements/internal/common/config"
)

type Config struct {
	Timeout            time.Duration
	RateLimitPerSecond float64
	RateLimitBurst     int
}

func DefaultConfig() *Config {
	return &Config{
		Timeout:            10 * time.Second,
		RateLimitPerSecond: 20,
		RateLimitBurst:     10,
	}
}

// ConfigFrom reads the billing section of the application config.
func ConfigFrom(cfg config.BillingConfig) *Config {
	c := DefaultConfig()
	if cfg.RequestTimeout > 0 {
		c.Timeout = config.GetDuration(cfg.RequestTimeout)
	}
	if cfg.RateLimitPerSecond > 0 {
		c.RateLimitPerSecond = cfg.RateLimitPerSecond
	}
	if cfg.RateLimitBurst > 0 {
		c.RateLimitBurst = cfg.RateLimitBurst
	}
	return c
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.RateLimitPerSecond <= 0 {
		return fmt.Errorf("rate_limit_per_second must be positive")
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate_limit_burst must be positive")
	}
	return nil
}
