// Package sim provides simulated instruments that run on real task queues
// and expose their data through locked snapshots, for tests and for driving
// procedures without hardware.
package sim

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/tailored-agentic-units/labkernel/instrument"
)

// Emitter is a point source in the simulated sample.
type Emitter struct {
	Position instrument.Position `json:"position" yaml:"position"`

	// Peak is the count rate at the emitter centre above background.
	Peak float64 `json:"peak" yaml:"peak"`

	// Sigma is the width of the Gaussian spot.
	Sigma float64 `json:"sigma" yaml:"sigma"`
}

// Field is the count-rate landscape seen by the photon counter.
type Field struct {
	Background float64   `json:"background" yaml:"background"`
	Emitters   []Emitter `json:"emitters" yaml:"emitters"`
}

// Rate returns the count rate at p.
func (f Field) Rate(p instrument.Position) float64 {
	return f.Background + f.Signal(p)
}

// Signal returns the count rate at p contributed by emitters.
func (f Field) Signal(p instrument.Position) float64 {
	var signal float64
	for _, e := range f.Emitters {
		sigma := e.Sigma
		if sigma <= 0 {
			sigma = 1
		}
		d := p.Distance(e.Position)
		signal += e.Peak * math.Exp(-d*d/(2*sigma*sigma))
	}
	return signal
}

// G2 returns the normalized coincidence rate at delay for a single-photon
// source seen through the background at p.
func (f Field) G2(p instrument.Position, delay, lifetime time.Duration) float64 {
	rate := f.Rate(p)
	if rate <= 0 || lifetime <= 0 {
		return 1
	}
	rho := f.Signal(p) / rate
	tau := math.Abs(delay.Seconds()) / lifetime.Seconds()
	return 1 - rho*rho*math.Exp(-tau)
}

// Config holds the simulated instrument timing.
type Config struct {
	Settle        time.Duration
	Exposure      time.Duration
	QueueCapacity int

	// LockTimeout bounds the data access done by MoveTo and Acquire on the
	// caller's goroutine.
	LockTimeout time.Duration

	// Lifetime is the emitter's excited-state lifetime shaping the
	// antibunching dip of the correlation histogram.
	Lifetime time.Duration

	Field Field
}

func DefaultConfig() Config {
	return Config{
		Settle:        5 * time.Millisecond,
		Exposure:      5 * time.Millisecond,
		QueueCapacity: 16,
		LockTimeout:   10 * time.Millisecond,
		Lifetime:      2 * time.Nanosecond,
		Field: Field{
			Background: 100,
			Emitters: []Emitter{
				{Position: instrument.Position{X: 1.2, Y: -0.8, Z: 0.3}, Peak: 50000, Sigma: 0.6},
			},
		},
	}
}

func (c *Config) Merge(source *Config) {
	if source.Settle > 0 {
		c.Settle = source.Settle
	}
	if source.Exposure > 0 {
		c.Exposure = source.Exposure
	}
	if source.QueueCapacity > 0 {
		c.QueueCapacity = source.QueueCapacity
	}
	if source.LockTimeout > 0 {
		c.LockTimeout = source.LockTimeout
	}
	if source.Lifetime > 0 {
		c.Lifetime = source.Lifetime
	}
	if source.Field.Background > 0 {
		c.Field.Background = source.Field.Background
	}
	if len(source.Field.Emitters) > 0 {
		c.Field.Emitters = source.Field.Emitters
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// update applies fn to data from a queue task. Lock timeouts are retried
// until ctx ends so that a status flag set by the caller is always cleared.
func update[T any](ctx context.Context, data *instrument.Locked[T], timeout time.Duration, fn func(*T)) error {
	for {
		err := data.With(timeout, fn)
		if err == nil || !instrument.IsTimeout(err) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ctx.Err(), err)
		}
	}
}
