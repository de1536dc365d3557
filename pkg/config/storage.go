package config

import (
	"fmt"
	"strings"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageNATS     = "nats"
)

// StorageConfig selects the durable key-value store holding cart identities.
type StorageConfig struct {
	Driver   string         `koanf:"driver"`
	Database DatabaseConfig `koanf:"database"`
	Bucket   string         `koanf:"bucket"`
}

// String returns a string representation of the StorageConfig.
func (c *StorageConfig) String() string {
	var b strings.Builder
	b.WriteString("\n--- Storage ---\n")
	b.WriteString(fmt.Sprintf("  driver: %s\n", c.Driver))
	b.WriteString(fmt.Sprintf("  bucket: %s\n", c.Bucket))
	return b.String()
}

func (c *StorageConfig) Validate() error {
	switch c.Driver {
	case "":
		c.Driver = StorageMemory
	case StorageMemory:
	case StoragePostgres:
		return c.Database.Validate()
	case StorageNATS:
		if c.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the nats driver")
		}
	default:
		return fmt.Errorf("unknown storage driver: %s", c.Driver)
	}
	return nil
}
