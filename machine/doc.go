// Package machine provides a cooperative, single-step state machine for
// long-running instrument procedures.
//
// A Machine is advanced exactly one transition per tick of a module's polling
// loop. Every state owns a transition function that must return quickly: it may
// enqueue asynchronous hardware work, but it never waits for that work to
// finish. Completion is checked on a later tick by the state the function
// transitions into.
//
// # States
//
// State identifiers are a closed enumeration chosen by the caller:
//
//	type StateID int
//
//	const (
//	    Unbound StateID = iota
//	    Ready
//	    ScanStep
//	    ScanFinished
//	)
//
// One value of the enumeration is reserved as the Unbound placeholder and is
// passed to New. It is never registered as a state.
//
// # Contexts
//
// Generic subgraphs (a raster scan, an optimization loop) end in states that do
// not know who called them. Such states return Unbound, and the active Context
// supplies the continuation. Lookups are keyed by the state that produced
// Unbound, not by the returned value, so several generic states can defer to
// the caller at once and still be told apart:
//
//	scan := machine.NewContext(map[StateID]StateID{
//	    ScanStep: ScanFinished,
//	}, "Performing scan...")
//
//	m.SetContext(scan)
//	m.SetCurrentState(ScanStep)
//
// A context may declare parent contexts. When it has no override of its own
// the parents are searched in declaration order, depth first, and the first
// match wins. Composing an existing subgraph therefore only needs the one
// additional override on top of the subgraph's own context.
//
// A concrete return value is never overridden by a context.
//
// # Failure
//
// An Unbound result that no active context resolves, or a result that is not a
// registered state, can only come from a wiring mistake. Invoke panics with a
// *TransitionError in both cases. TryInvoke returns the same error instead, for
// hosts that prefer to stop the owning loop over crashing the process.
package machine
