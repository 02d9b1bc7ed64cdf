package sim

import (
	"context"
	"errors"
	"time"

	"github.com/tailored-agentic-units/labkernel/instrument"
)

// Stage is a simulated three-axis positioner.
type Stage struct {
	queue       *instrument.Queue
	data        *instrument.Locked[instrument.StageStatus]
	settle      time.Duration
	lockTimeout time.Duration
}

func NewStage(name string, cfg Config) *Stage {
	return &Stage{
		queue:       instrument.NewQueue(name, cfg.QueueCapacity),
		data:        instrument.NewLocked(name+".data", instrument.StageStatus{}),
		settle:      cfg.Settle,
		lockTimeout: cfg.LockTimeout,
	}
}

// MoveTo marks the stage as moving and enqueues the motion. The stage reports
// the target position once it has settled. If the motion cannot be enqueued
// the stage stays marked as moving only while earlier motions are pending.
func (s *Stage) MoveTo(p instrument.Position) error {
	if err := s.data.With(s.lockTimeout, func(st *instrument.StageStatus) {
		st.Moving = true
	}); err != nil {
		return err
	}

	err := s.queue.Enqueue(func(ctx context.Context) (any, error) {
		err := sleep(ctx, s.settle)
		if lockErr := update(ctx, s.data, s.lockTimeout, func(st *instrument.StageStatus) {
			if err == nil {
				st.Position = p
			}
			st.Moving = s.queue.Pending() > 0
		}); lockErr != nil {
			return p, lockErr
		}
		return p, err
	}, nil)
	if err != nil {
		if lockErr := s.data.With(s.lockTimeout, func(st *instrument.StageStatus) {
			st.Moving = s.queue.Pending() > 0
		}); lockErr != nil {
			return errors.Join(err, lockErr)
		}
		return err
	}
	return nil
}

func (s *Stage) Status(timeout time.Duration) (instrument.StageStatus, error) {
	return s.data.Snapshot(timeout)
}

// Home moves to the origin and blocks until the stage has settled.
func (s *Stage) Home(ctx context.Context) error {
	if err := s.MoveTo(instrument.Position{}); err != nil {
		return err
	}
	_, err := instrument.Call(ctx, s.queue, func(context.Context) (any, error) {
		return nil, nil
	})
	return err
}

// Data exposes the locked stage data.
func (s *Stage) Data() *instrument.Locked[instrument.StageStatus] {
	return s.data
}

func (s *Stage) Close(timeout time.Duration) error {
	return s.queue.Close(timeout)
}
