package instrument

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// Locked guards an instrument's data with time-bounded exclusive access.
type Locked[T any] struct {
	name string
	sem  *semaphore.Weighted
	data T
}

func NewLocked[T any](name string, initial T) *Locked[T] {
	return &Locked[T]{
		name: name,
		sem:  semaphore.NewWeighted(1),
		data: initial,
	}
}

// Acquire obtains exclusive access, waiting at most timeout. A zero timeout
// only succeeds if the data is free. On expiry it returns a *TimeoutError.
//
// The returned accessor must be released before the next tick.
func (l *Locked[T]) Acquire(timeout time.Duration) (*Accessor[T], error) {
	if timeout <= 0 {
		if !l.sem.TryAcquire(1) {
			return nil, &TimeoutError{Resource: l.name, Timeout: timeout}
		}
		return &Accessor[T]{owner: l}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, &TimeoutError{Resource: l.name, Timeout: timeout}
	}
	return &Accessor[T]{owner: l}, nil
}

// With runs fn with exclusive access and releases it afterwards.
func (l *Locked[T]) With(timeout time.Duration, fn func(data *T)) error {
	acc, err := l.Acquire(timeout)
	if err != nil {
		return err
	}
	defer acc.Release()
	fn(acc.Data())
	return nil
}

// Snapshot returns a copy of the data.
func (l *Locked[T]) Snapshot(timeout time.Duration) (T, error) {
	acc, err := l.Acquire(timeout)
	if err != nil {
		var zero T
		return zero, err
	}
	defer acc.Release()
	return acc.Get(), nil
}

// Accessor is scoped exclusive access to Locked data.
type Accessor[T any] struct {
	owner    *Locked[T]
	released bool
}

// Data returns a pointer to the guarded data, valid until Release.
func (a *Accessor[T]) Data() *T {
	return &a.owner.data
}

func (a *Accessor[T]) Get() T {
	return a.owner.data
}

func (a *Accessor[T]) Set(v T) {
	a.owner.data = v
}

// Release gives up access. Releasing twice is a no-op.
func (a *Accessor[T]) Release() {
	if a.released {
		return
	}
	a.released = true
	a.owner.sem.Release(1)
}
