package epoch_store

import (
	"fmt"
	"time"

	"github.com/epochflow/epochflow/toml"
)

const DefaultPeriod = 10 * time.Second

type Config struct {
	// Interval between two checkpoint cycles.
	Period toml.Duration `toml:"period"`
	// Number of committed epochs kept in the store.
	// Older epochs are removed each time a new epoch commits.
	Retain int `toml:"retain"`
	// Request a checkpoint every n source records, zero disables.
	CheckpointEvery int64 `toml:"checkpoint-every"`
}

func NewConfig() Config {
	return Config{
		Period: toml.Duration(DefaultPeriod),
		Retain: 3,
	}
}

func (c Config) Validate() error {
	if c.Period <= 0 {
		return fmt.Errorf("checkpoint 'period' must be positive, got %v", c.Period)
	}
	if c.Retain < 1 {
		return fmt.Errorf("checkpoint 'retain' must be at least 1, got %d", c.Retain)
	}
	if c.CheckpointEvery < 0 {
		return fmt.Errorf("checkpoint 'checkpoint-every' cannot be negative, got %d", c.CheckpointEvery)
	}
	return nil
}
