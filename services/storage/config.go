package storage

import (
	"fmt"

	"github.com/epochflow/epochflow/toml"
)

type Config struct {
	// Path to a boltdb database file.
	BoltDBPath string `toml:"boltdb"`
	// How long to wait for the database file lock.
	OpenTimeout toml.Duration `toml:"open-timeout"`
}

func NewConfig() Config {
	return Config{
		BoltDBPath:  "./epochflow.db",
		OpenTimeout: toml.Duration(DefaultOpenTimeout),
	}
}

func (c Config) Validate() error {
	if c.BoltDBPath == "" {
		return fmt.Errorf("must specify storage 'boltdb' path")
	}
	if c.OpenTimeout < 0 {
		return fmt.Errorf("storage 'open-timeout' cannot be negative")
	}
	return nil
}
