package machine

// TransitionFunc computes the nominal next state of a procedure.
//
// The owner carries the module's static configuration and collaborators, the
// instance carries the per-run mutable data. Implementations must not block on
// hardware completion.
type TransitionFunc[ID comparable, O any, I any] func(owner O, inst I) ID

// State pairs a state identifier with its transition function and a
// human-readable status label.
//
// States are created once when the owning module is constructed and are never
// mutated afterwards.
type State[ID comparable, O any, I any] struct {
	// ID uniquely identifies the state within a Machine
	ID ID

	// Transition is invoked once per tick while the state is current
	Transition TransitionFunc[ID, O, I]

	// Description is the status text shown while the state is current
	Description string

	// Final states have their transition invoked but the machine does not
	// assign the returned identifier. The transition may tear down the owner.
	Final bool
}

// NewState creates a regular state.
func NewState[ID comparable, O any, I any](id ID, fn TransitionFunc[ID, O, I], description string) State[ID, O, I] {
	return State[ID, O, I]{
		ID:          id,
		Transition:  fn,
		Description: description,
	}
}

// NewFinalState creates a state whose transition result is discarded.
func NewFinalState[ID comparable, O any, I any](id ID, fn TransitionFunc[ID, O, I], description string) State[ID, O, I] {
	s := NewState(id, fn, description)
	s.Final = true
	return s
}
