package instrument

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is the sentinel matched by every *TimeoutError.
	ErrTimeout = errors.New("lock acquisition timed out")

	ErrQueueClosed = errors.New("task queue closed")
	ErrQueueFull   = errors.New("task queue full")
)

// TimeoutError reports that exclusive access to a resource could not be
// obtained in time. It is a transient condition and is retried by the caller.
type TimeoutError struct {
	Resource string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %v after %s", e.Resource, ErrTimeout, e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// IsTimeout reports whether err is or wraps a lock timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
