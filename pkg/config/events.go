package config

import (
	"fmt"
	"strings"
)

// EventsConfig toggles publishing of storefront events to NATS.
type EventsConfig struct {
	Enabled bool `koanf:"enabled"`
}

// String returns a string representation of the EventsConfig.
func (c *EventsConfig) String() string {
	var b strings.Builder
	b.WriteString("\n--- Events ---\n")
	b.WriteString(fmt.Sprintf("  enabled: %t\n", c.Enabled))
	return b.String()
}

func (c *EventsConfig) Validate() error {
	return nil
}
