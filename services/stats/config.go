package stats

import (
	"fmt"
	"strings"
)

const (
	DefaultBindAddress = "localhost:9465"
	DefaultPath        = "/metrics"
)

type Config struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind-address"`
	// Path of the Prometheus scrape endpoint.
	Path string `toml:"path"`
}

func NewConfig() Config {
	return Config{
		BindAddress: DefaultBindAddress,
		Path:        DefaultPath,
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.BindAddress == "" {
		return fmt.Errorf("stats 'bind-address' cannot be empty when enabled")
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("stats 'path' must start with /, got %q", c.Path)
	}
	return nil
}
