package config

import (
	"fmt"
	"strings"
	"time"
)

// PollingConfig bounds background order status polling.
type PollingConfig struct {
	InitialDelay time.Duration `koanf:"initialdelay"`
	Interval     time.Duration `koanf:"interval"`
	MaxAttempts  int           `koanf:"maxattempts"`
}

const (
	defaultPollInitialDelay = 3 * time.Second
	defaultPollInterval     = 5 * time.Second
	defaultPollMaxAttempts  = 24
)

// String returns a string representation of the PollingConfig.
func (c *PollingConfig) String() string {
	var b strings.Builder
	b.WriteString("\n--- Polling ---\n")
	b.WriteString(fmt.Sprintf("  initialdelay: %s\n", c.InitialDelay))
	b.WriteString(fmt.Sprintf("  interval: %s\n", c.Interval))
	b.WriteString(fmt.Sprintf("  maxattempts: %d\n", c.MaxAttempts))
	return b.String()
}

// Validate fills in defaults for unset values and rejects negative ones.
func (c *PollingConfig) Validate() error {
	if c.InitialDelay < 0 || c.Interval < 0 || c.MaxAttempts < 0 {
		return fmt.Errorf("polling values must not be negative")
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = defaultPollInitialDelay
	}
	if c.Interval == 0 {
		c.Interval = defaultPollInterval
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaultPollMaxAttempts
	}
	return nil
}
