// internal/workers/billing/ingest-notification/config.go
package ingestnotification

import (
	"fmt"
	"time"

	"play-entitlements/internal/common/config"
)

type Config struct {
	Timeout time.Duration
	// UnmappedGracePeriod makes an unmapped token retryable while its
	// message is younger than this. Zero acknowledges immediately.
	UnmappedGracePeriod time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Timeout: 30 * time.Second,
	}
}

func ConfigFrom(cfg config.IngestConfig) *Config {
	c := DefaultConfig()
	if cfg.Timeout > 0 {
		c.Timeout = config.GetDuration(cfg.Timeout)
	}
	c.UnmappedGracePeriod = config.GetDuration(cfg.UnmappedGracePeriod)
	return c
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.UnmappedGracePeriod < 0 {
		return fmt.Errorf("unmapped grace period must not be negative")
	}
	return nil
}
