package config

import (
	"fmt"
	"strings"
	"time"
)

// SessionsConfig bounds how long an unused storefront session is kept in memory.
type SessionsConfig struct {
	IdleTimeout   time.Duration `koanf:"idletimeout"`
	SweepInterval time.Duration `koanf:"sweepinterval"`
}

// String returns a string representation of the SessionsConfig.
func (c *SessionsConfig) String() string {
	var b strings.Builder
	b.WriteString("\n--- Sessions ---\n")
	b.WriteString(fmt.Sprintf("  idletimeout: %s\n", c.IdleTimeout))
	b.WriteString(fmt.Sprintf("  sweepinterval: %s\n", c.SweepInterval))
	return b.String()
}

func (c *SessionsConfig) Validate() error {
	if c.IdleTimeout < 0 || c.SweepInterval < 0 {
		return fmt.Errorf("sessions values must not be negative")
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 30 * time.Minute
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Minute
	}
	return nil
}
