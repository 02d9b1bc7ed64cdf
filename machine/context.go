package machine

import "maps"

// Context remaps the continuation of states that return the Unbound
// placeholder.
//
// Overrides are keyed by the state that is resolving (the state whose
// transition returned Unbound) and map to the actual next state. Contexts are
// immutable once constructed: the override table is copied and parents are
// fixed, so a context tree cannot contain cycles.
type Context[ID comparable] struct {
	overrides   map[ID]ID
	description string
	parents     []*Context[ID]
}

// NewContext creates a context from an override table and optional parent
// contexts. Parents are consulted in the order given when this context has no
// override for a state. Nil parents are ignored.
//
// Example:
//
//	core := machine.NewContext(map[StateID]StateID{
//	    OptimizationWait: ScanStep,
//	    ScanStep:         OptimizationStep,
//	}, "")
//
//	standalone := machine.NewContext(map[StateID]StateID{
//	    OptimizationFinished: ReturnToReady,
//	}, "Optimizing count rate...", core)
func NewContext[ID comparable](overrides map[ID]ID, description string, parents ...*Context[ID]) *Context[ID] {
	filtered := make([]*Context[ID], 0, len(parents))
	for _, p := range parents {
		if p != nil {
			filtered = append(filtered, p)
		}
	}

	table := maps.Clone(overrides)
	if table == nil {
		table = make(map[ID]ID)
	}

	return &Context[ID]{
		overrides:   table,
		description: description,
		parents:     filtered,
	}
}

// Description returns the context's status text. It may be empty.
func (c *Context[ID]) Description() string {
	return c.description
}

// Parents returns a copy of the parent list in lookup order.
func (c *Context[ID]) Parents() []*Context[ID] {
	out := make([]*Context[ID], len(c.parents))
	copy(out, c.parents)
	return out
}

// Lookup returns the continuation this context, or the first of its ancestors
// in declaration order, supplies for the resolving state.
func (c *Context[ID]) Lookup(from ID) (ID, bool) {
	if to, ok := c.overrides[from]; ok {
		return to, true
	}

	for _, parent := range c.parents {
		if to, ok := parent.Lookup(from); ok {
			return to, true
		}
	}

	var zero ID
	return zero, false
}

// Overrides returns a copy of this context's own override table, excluding
// parents.
func (c *Context[ID]) Overrides() map[ID]ID {
	return maps.Clone(c.overrides)
}
