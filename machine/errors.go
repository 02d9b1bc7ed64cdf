package machine

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownState is returned for identifiers missing from the registry.
	ErrUnknownState = errors.New("unknown state")

	// ErrUnresolved is returned when a state returns Unbound and no active
	// context supplies its continuation.
	ErrUnresolved = errors.New("unbound state not resolved by any active context")

	// ErrNoContext is returned by ResetContext when the context stack is empty.
	ErrNoContext = errors.New("no active context")
)

// TransitionError describes a transition that could not be completed. It is
// always the result of a wiring mistake in the owning module.
type TransitionError struct {
	// From is the state whose transition function ran
	From any

	// Nominal is the identifier the transition function returned
	Nominal any

	// Context is the description of the active context, if any
	Context string

	Err error
}

func (e *TransitionError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("transition from %v (returned %v, context %q): %v", e.From, e.Nominal, e.Context, e.Err)
	}
	return fmt.Sprintf("transition from %v (returned %v): %v", e.From, e.Nominal, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}
