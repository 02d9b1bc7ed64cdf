package bridge

import (
	"context"
	"sync"
)

// SlotStatus is the result of a zero-wait receive on a OneShot.
type SlotStatus int

const (
	// SlotEmpty means no value has arrived yet.
	SlotEmpty SlotStatus = iota
	// SlotReady means a value was received.
	SlotReady
	// SlotClosed means the slot was closed without a value left to take.
	SlotClosed
)

func (s SlotStatus) String() string {
	switch s {
	case SlotEmpty:
		return "empty"
	case SlotReady:
		return "ready"
	case SlotClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// OneShot is a single-use, single-producer single-consumer slot.
//
// Send succeeds at most once. A receiver blocked on a slot that is closed
// before a value arrives observes ErrSlotClosed instead of blocking forever.
// A value sent before Close remains receivable.
type OneShot[T any] struct {
	channel chan T

	mu     sync.Mutex
	sent   bool
	closed bool
}

// NewOneShot returns an open, empty slot.
func NewOneShot[T any]() *OneShot[T] {
	return &OneShot[T]{channel: make(chan T, 1)}
}

// Send delivers v. It fails with ErrSlotUsed on any call after the first and
// with ErrSlotClosed once the slot is closed.
func (o *OneShot[T]) Send(v T) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrSlotClosed
	}
	if o.sent {
		return ErrSlotUsed
	}
	o.sent = true
	o.channel <- v
	return nil
}

// TryReceive takes the value without waiting. The status tells an empty slot
// from a closed one.
func (o *OneShot[T]) TryReceive() (T, SlotStatus) {
	select {
	case v, ok := <-o.channel:
		if !ok {
			var zero T
			return zero, SlotClosed
		}
		return v, SlotReady
	default:
		var zero T
		return zero, SlotEmpty
	}
}

// Receive waits for the value. It returns ErrSlotClosed when the slot is
// closed first and ctx's error when ctx ends first.
func (o *OneShot[T]) Receive(ctx context.Context) (T, error) {
	select {
	case v, ok := <-o.channel:
		if !ok {
			var zero T
			return zero, ErrSlotClosed
		}
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Close wakes any blocked receiver. It is idempotent.
func (o *OneShot[T]) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.channel)
	}
}

// Sent reports whether a value has been delivered.
func (o *OneShot[T]) Sent() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sent
}

// IsClosed reports whether Close has been called.
func (o *OneShot[T]) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
