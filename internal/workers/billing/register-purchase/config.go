// internal/workers/billing/register-purchase/config.go
package registerpurchase

import (
	"fmt"
	"time"

	"play-entitlements/internal/common/config"
)

type Config struct {
	Timeout              time.Duration
	DefaultPackageName   string
	StrictCatalog        bool
	AcknowledgePurchases bool
}

func DefaultConfig() *Config {
	return &Config{
		Timeout:              30 * time.Second,
		AcknowledgePurchases: true,
	}
}

// ConfigFrom reads the billing section of the application config. The
// handler timeout covers one verification plus two store writes.
func ConfigFrom(cfg config.BillingConfig) *Config {
	c := DefaultConfig()
	if cfg.RequestTimeout > 0 {
		c.Timeout = 3 * config.GetDuration(cfg.RequestTimeout)
	}
	c.DefaultPackageName = cfg.PackageName
	c.StrictCatalog = cfg.StrictCatalog
	c.AcknowledgePurchases = cfg.AcknowledgePurchases
	return c
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}
