package config

import (
	"fmt"
	"strings"

	"github.com/abgdnv/storefront/pkg/config"
	"github.com/abgdnv/storefront/pkg/config/configloader"
)

var _ configloader.Validator = (*Config)(nil)

type Config struct {
	HTTPServer config.HTTPConfig       `koanf:"server"`
	Log        config.LogConfig        `koanf:"log"`
	PProf      config.PProfConfig      `koanf:"pprof"`
	GRPC       config.GrpcServerConfig `koanf:"grpc"`
	Shutdown   config.ShutdownConfig   `koanf:"shutdown"`
	Telemetry  config.TelemetryConfig  `koanf:"telemetry"`
	Backend    config.BackendConfig    `koanf:"backend"`
	Polling    config.PollingConfig    `koanf:"polling"`
	Sessions   config.SessionsConfig   `koanf:"sessions"`
	Storage    config.StorageConfig    `koanf:"storage"`
	NATS       config.NATSConfig       `koanf:"nats"`
	Subscriber config.SubscriberConfig `koanf:"subscriber"`
	Events     config.EventsConfig     `koanf:"events"`
	IdP        config.IdP              `koanf:"idp"`
	Checkout   config.CheckoutConfig   `koanf:"checkout"`
}

func (c *Config) String() string {
	var b strings.Builder
	b.WriteString(c.HTTPServer.String())
	b.WriteString(c.GRPC.String())
	b.WriteString(c.Log.String())
	b.WriteString(c.PProf.String())
	b.WriteString(c.Shutdown.String())
	b.WriteString(c.Telemetry.String())
	b.WriteString(c.Backend.String())
	b.WriteString(c.Polling.String())
	b.WriteString(c.Sessions.String())
	b.WriteString(c.Storage.String())
	if c.Storage.Driver == config.StoragePostgres {
		b.WriteString(fmt.Sprintf("  database.url: %s\n", config.MaskURL(c.Storage.Database.URL)))
	}
	if c.NeedsNATS() {
		b.WriteString(c.NATS.String())
	}
	b.WriteString(c.Subscriber.String())
	b.WriteString(c.Events.String())
	b.WriteString(c.IdP.String())
	b.WriteString(c.Checkout.String())
	return b.String()
}

// NeedsNATS reports whether any enabled component talks to NATS.
func (c *Config) NeedsNATS() bool {
	return c.Storage.Driver == config.StorageNATS || c.Events.Enabled || c.Subscriber.Enabled
}

// Validate checks the blocks in dependency order and fills in defaults.
func (c *Config) Validate() error {
	validators := []configloader.Validator{
		&c.HTTPServer,
		&c.Log,
		&c.PProf,
		&c.GRPC,
		&c.Shutdown,
		&c.Telemetry,
		&c.Backend,
		&c.Polling,
		&c.Sessions,
		&c.Storage,
		&c.Subscriber,
		&c.Events,
		&c.IdP,
		&c.Checkout,
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	if c.NeedsNATS() {
		if err := c.NATS.Validate(); err != nil {
			return err
		}
	}
	return nil
}
