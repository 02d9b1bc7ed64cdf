package sim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tailored-agentic-units/labkernel/instrument"
)

// Counter is a simulated photon counter that measures the field at the
// current stage position. It doubles as a correlator integrating the
// photon-correlation histogram of the light at that position.
type Counter struct {
	queue       *instrument.Queue
	data        *instrument.Locked[instrument.CounterStatus]
	correlation *instrument.Locked[instrument.CorrelationStatus]
	stage       instrument.Positioner
	field       Field
	exposure    time.Duration
	lifetime    time.Duration
	lockTimeout time.Duration

	// Owned by the queue goroutine.
	binWidth time.Duration
	bins     int
}

func NewCounter(name string, stage instrument.Positioner, cfg Config) *Counter {
	return &Counter{
		queue:       instrument.NewQueue(name, cfg.QueueCapacity),
		data:        instrument.NewLocked(name+".data", instrument.CounterStatus{}),
		correlation: instrument.NewLocked(name+".hbt", instrument.CorrelationStatus{}),
		stage:       stage,
		field:       cfg.Field,
		exposure:    cfg.Exposure,
		lifetime:    cfg.Lifetime,
		lockTimeout: cfg.LockTimeout,
	}
}

// Acquire enqueues one exposure.
func (c *Counter) Acquire() error {
	if err := c.data.With(c.lockTimeout, func(st *instrument.CounterStatus) {
		st.Acquiring = true
	}); err != nil {
		return err
	}

	err := c.queue.Enqueue(func(ctx context.Context) (any, error) {
		rate, err := c.measure(ctx)
		if lockErr := update(ctx, c.data, c.lockTimeout, func(st *instrument.CounterStatus) {
			if err == nil {
				st.Rate = rate
				st.Sequence++
			}
			st.Acquiring = false
		}); lockErr != nil {
			return nil, errors.Join(err, lockErr)
		}
		return rate, err
	}, nil)
	if err != nil {
		if lockErr := c.data.With(c.lockTimeout, func(st *instrument.CounterStatus) {
			st.Acquiring = false
		}); lockErr != nil {
			return errors.Join(err, lockErr)
		}
		return err
	}
	return nil
}

func (c *Counter) Status(timeout time.Duration) (instrument.CounterStatus, error) {
	return c.data.Snapshot(timeout)
}

// StartCorrelation enqueues a histogram reset after which integration runs.
func (c *Counter) StartCorrelation(binWidth time.Duration, bins int) error {
	if binWidth <= 0 || bins <= 0 {
		return fmt.Errorf("correlation: bin width %s and bin count %d must be positive", binWidth, bins)
	}

	return c.queue.Enqueue(func(ctx context.Context) (any, error) {
		c.binWidth, c.bins = binWidth, bins
		return nil, update(ctx, c.correlation, c.lockTimeout, func(st *instrument.CorrelationStatus) {
			*st = instrument.CorrelationStatus{Running: true}
		})
	}, nil)
}

// ReadCorrelation enqueues one exposure worth of integration. It does nothing
// while the correlator is stopped.
func (c *Counter) ReadCorrelation() error {
	return c.queue.Enqueue(func(ctx context.Context) (any, error) {
		running := false
		if err := update(ctx, c.correlation, c.lockTimeout, func(st *instrument.CorrelationStatus) {
			running = st.Running
		}); err != nil || !running {
			return nil, err
		}

		if err := sleep(ctx, c.exposure); err != nil {
			return nil, err
		}
		pos, err := c.stage.Status(time.Second)
		if err != nil {
			return nil, fmt.Errorf("reading stage position: %w", err)
		}

		histogram := make([]instrument.CorrelationBin, c.bins)
		for i := range histogram {
			delay := time.Duration(i-c.bins/2) * c.binWidth
			histogram[i] = instrument.CorrelationBin{
				Delay: delay,
				Value: c.field.G2(pos.Position, delay, c.lifetime),
			}
		}
		events := int64(c.field.Rate(pos.Position) * c.exposure.Seconds())

		return nil, update(ctx, c.correlation, c.lockTimeout, func(st *instrument.CorrelationStatus) {
			if !st.Running {
				return
			}
			st.IntegrationTime += c.exposure
			st.Events += events
			st.Histogram = histogram
		})
	}, nil)
}

// StopCorrelation halts integration and keeps the histogram.
func (c *Counter) StopCorrelation() error {
	return c.correlation.With(c.lockTimeout, func(st *instrument.CorrelationStatus) {
		st.Running = false
	})
}

func (c *Counter) CorrelationStatus(timeout time.Duration) (instrument.CorrelationStatus, error) {
	st, err := c.correlation.Snapshot(timeout)
	if err != nil {
		return st, err
	}
	st.Pending = c.queue.Pending()
	return st, nil
}

func (c *Counter) Data() *instrument.Locked[instrument.CounterStatus] {
	return c.data
}

func (c *Counter) Close(timeout time.Duration) error {
	return c.queue.Close(timeout)
}

func (c *Counter) measure(ctx context.Context) (float64, error) {
	if err := sleep(ctx, c.exposure); err != nil {
		return 0, err
	}
	pos, err := c.stage.Status(time.Second)
	if err != nil {
		return 0, fmt.Errorf("reading stage position: %w", err)
	}
	return c.field.Rate(pos.Position), nil
}
