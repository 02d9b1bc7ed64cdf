package module

import (
	"time"

	"github.com/tailored-agentic-units/labkernel/instrument"
)

// Config controls the cooperative loop of a Module.
type Config struct {
	// Name labels events and metrics
	Name string

	// TickInterval is the cadence at which Run ticks the procedure
	TickInterval time.Duration

	// EventBuffer is the number of event handlers that may wait for the
	// next tick
	EventBuffer int

	// MaxLockRetries is the number of consecutive lock timeouts absorbed
	// before a warning is raised
	MaxLockRetries int
}

func DefaultConfig() Config {
	return Config{
		Name:           "module",
		TickInterval:   10 * time.Millisecond,
		EventBuffer:    32,
		MaxLockRetries: instrument.DefaultMaxAttempts,
	}
}

func (c *Config) Merge(source *Config) {
	if source.Name != "" {
		c.Name = source.Name
	}

	if source.TickInterval > 0 {
		c.TickInterval = source.TickInterval
	}

	if source.EventBuffer > 0 {
		c.EventBuffer = source.EventBuffer
	}

	if source.MaxLockRetries > 0 {
		c.MaxLockRetries = source.MaxLockRetries
	}
}
