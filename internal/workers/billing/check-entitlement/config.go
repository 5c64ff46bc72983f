// internal/workers/billing/check-entitlement/config.go
package checkentitlement

import (
	"fmt"
	"time"
)

type Config struct {
	Timeout  time.Duration
	CacheTTL time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Timeout:  5 * time.Second,
		CacheTTL: 5 * time.Minute,
	}
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache ttl must not be negative")
	}
	return nil
}
