package instrument

import "sync"

// DefaultMaxAttempts is the number of consecutive lock timeouts tolerated
// before a warning is raised.
const DefaultMaxAttempts = 3

// Escalator counts consecutive transient failures. Failures are absorbed
// until the count passes the bound, then each further failure escalates
// until a success resets the count.
type Escalator struct {
	max int

	mu       sync.Mutex
	failures int
}

func NewEscalator(maxAttempts int) *Escalator {
	if maxAttempts < 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Escalator{max: maxAttempts}
}

// Failure records a failure and reports whether it must be escalated.
func (e *Escalator) Failure() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	escalate := e.failures >= e.max
	e.failures++
	return escalate
}

func (e *Escalator) Success() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = 0
}

// Failures returns the current consecutive failure count.
func (e *Escalator) Failures() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failures
}
