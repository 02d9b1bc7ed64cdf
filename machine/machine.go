package machine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tailored-agentic-units/labkernel/observability"
)

// Option configures a Machine at construction.
type Option func(*options)

type options struct {
	name     string
	observer observability.Observer
}

// WithName sets the source name used in emitted events.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithObserver sets the observer receiving transition events. A nil observer
// is replaced by NoOpObserver.
func WithObserver(observer observability.Observer) Option {
	return func(o *options) { o.observer = observer }
}

// Machine holds a procedure's state registry, its current state and its stack
// of active contexts.
//
// A Machine is driven by a single goroutine calling Invoke once per tick.
// SetCurrentState, SetContext, ResetContext and ClearContexts may additionally
// be called from event handlers that the surrounding module guarantees never
// run concurrently with Invoke, and from within transition functions. The
// current state and context may be read from any goroutine.
type Machine[ID comparable, O any, I any] struct {
	name     string
	unbound  ID
	states   map[ID]State[ID, O, I]
	observer observability.Observer

	mu       sync.RWMutex
	current  ID
	contexts []*Context[ID]
}

// New creates a Machine from its complete state registry.
//
// unbound is the reserved placeholder identifier and must not be registered.
// initial must be one of states. Registering the same identifier twice or a
// state without a transition function is an error.
//
// Example:
//
//	m, err := machine.New(Unbound, Ready, []machine.State[StateID, *Owner, *Data]{
//	    machine.NewState(Ready, (*Owner).ready, "Ready"),
//	    machine.NewState(ScanStep, (*Owner).scanStep, "Scanning..."),
//	}, machine.WithName("confocal"))
func New[ID comparable, O any, I any](unbound ID, initial ID, states []State[ID, O, I], opts ...Option) (*Machine[ID, O, I], error) {
	cfg := options{name: "machine"}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.observer == nil {
		cfg.observer = observability.NoOpObserver{}
	}

	registry := make(map[ID]State[ID, O, I], len(states))
	for _, s := range states {
		if s.ID == unbound {
			return nil, fmt.Errorf("state %v is the reserved unbound placeholder", s.ID)
		}
		if s.Transition == nil {
			return nil, fmt.Errorf("state %v has no transition function", s.ID)
		}
		if _, exists := registry[s.ID]; exists {
			return nil, fmt.Errorf("state %v already registered", s.ID)
		}
		registry[s.ID] = s
	}

	if _, exists := registry[initial]; !exists {
		return nil, fmt.Errorf("initial state %v: %w", initial, ErrUnknownState)
	}

	return &Machine[ID, O, I]{
		name:     cfg.name,
		unbound:  unbound,
		states:   registry,
		observer: cfg.observer,
		current:  initial,
	}, nil
}

// Name returns the machine's source name.
func (m *Machine[ID, O, I]) Name() string {
	return m.name
}

// Current returns the identifier of the current state.
func (m *Machine[ID, O, I]) Current() ID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// CurrentState returns the current state descriptor.
func (m *Machine[ID, O, I]) CurrentState() State[ID, O, I] {
	return m.states[m.Current()]
}

// Context returns the active context, or nil when none is set.
func (m *Machine[ID, O, I]) Context() *Context[ID] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeLocked()
}

// Depth returns the number of contexts on the stack.
func (m *Machine[ID, O, I]) Depth() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.contexts)
}

// Description returns the status text for presentation: the active context's
// description when it has one, otherwise the current state's.
func (m *Machine[ID, O, I]) Description() string {
	m.mu.RLock()
	ctx := m.activeLocked()
	current := m.current
	m.mu.RUnlock()

	if ctx != nil && ctx.Description() != "" {
		return ctx.Description()
	}
	return m.states[current].Description
}

// SetCurrentState jumps to id, bypassing context resolution. It is the only
// way to short-circuit normal flow, e.g. from a stop request.
func (m *Machine[ID, O, I]) SetCurrentState(id ID) error {
	if _, exists := m.states[id]; !exists {
		return fmt.Errorf("set current state %v: %w", id, ErrUnknownState)
	}

	m.mu.Lock()
	from := m.current
	m.current = id
	m.mu.Unlock()

	m.emit(EventForced, observability.LevelInfo, map[string]any{
		"from": fmt.Sprint(from),
		"to":   fmt.Sprint(id),
	})
	return nil
}

// SetContext makes ctx the active context. The previously active context is
// restored by the matching ResetContext.
func (m *Machine[ID, O, I]) SetContext(ctx *Context[ID]) {
	m.mu.Lock()
	m.contexts = append(m.contexts, ctx)
	depth := len(m.contexts)
	m.mu.Unlock()

	m.emit(EventContextPush, observability.LevelVerbose, map[string]any{
		"context": describe(ctx),
		"depth":   depth,
	})
}

// ResetContext removes the active context and restores whichever context was
// active before the matching SetContext, possibly none.
func (m *Machine[ID, O, I]) ResetContext() error {
	m.mu.Lock()
	if len(m.contexts) == 0 {
		m.mu.Unlock()
		return ErrNoContext
	}
	popped := m.contexts[len(m.contexts)-1]
	m.contexts[len(m.contexts)-1] = nil
	m.contexts = m.contexts[:len(m.contexts)-1]
	depth := len(m.contexts)
	m.mu.Unlock()

	m.emit(EventContextPop, observability.LevelVerbose, map[string]any{
		"context": describe(popped),
		"depth":   depth,
	})
	return nil
}

// ClearContexts drops every active context.
func (m *Machine[ID, O, I]) ClearContexts() {
	m.mu.Lock()
	dropped := len(m.contexts)
	m.contexts = nil
	m.mu.Unlock()

	if dropped > 0 {
		m.emit(EventContextPop, observability.LevelVerbose, map[string]any{
			"dropped": dropped,
			"depth":   0,
		})
	}
}

// Resolve maps the nominal result of the transition of state from to the
// actual next state under the active context.
//
// A concrete nominal result is returned unchanged once it is known to be
// registered. Unbound is looked up by from in the active context and its
// ancestors.
func (m *Machine[ID, O, I]) Resolve(from, nominal ID) (ID, error) {
	m.mu.RLock()
	ctx := m.activeLocked()
	m.mu.RUnlock()

	return m.resolve(ctx, from, nominal)
}

func (m *Machine[ID, O, I]) resolve(ctx *Context[ID], from, nominal ID) (ID, error) {
	if nominal != m.unbound {
		if _, exists := m.states[nominal]; !exists {
			return from, m.transitionError(ctx, from, nominal, ErrUnknownState)
		}
		return nominal, nil
	}

	if ctx == nil {
		return from, m.transitionError(ctx, from, nominal, ErrUnresolved)
	}

	to, ok := ctx.Lookup(from)
	if !ok {
		return from, m.transitionError(ctx, from, nominal, ErrUnresolved)
	}

	if _, exists := m.states[to]; !exists {
		return from, m.transitionError(ctx, from, to, ErrUnknownState)
	}

	return to, nil
}

// Invoke runs the current state's transition exactly once and assigns the
// resolved next state. It panics with a *TransitionError when the result
// cannot be resolved.
func (m *Machine[ID, O, I]) Invoke(owner O, inst I) {
	if _, err := m.TryInvoke(owner, inst); err != nil {
		panic(err)
	}
}

// TryInvoke is Invoke returning the *TransitionError instead of panicking.
// On error the current state is left unchanged.
func (m *Machine[ID, O, I]) TryInvoke(owner O, inst I) (ID, error) {
	from := m.Current()
	state := m.states[from]

	start := time.Now()
	nominal := state.Transition(owner, inst)

	if state.Final {
		m.emit(EventFinal, observability.LevelVerbose, map[string]any{
			"state": fmt.Sprint(from),
		})
		return from, nil
	}

	m.mu.RLock()
	ctx := m.activeLocked()
	m.mu.RUnlock()

	next, err := m.resolve(ctx, from, nominal)
	if err != nil {
		m.emit(EventError, observability.LevelError, map[string]any{
			"from":    fmt.Sprint(from),
			"nominal": fmt.Sprint(nominal),
			"error":   err.Error(),
		})
		return from, err
	}

	m.mu.Lock()
	m.current = next
	m.mu.Unlock()

	m.emit(EventTransition, observability.LevelVerbose, map[string]any{
		"from":     fmt.Sprint(from),
		"to":       fmt.Sprint(next),
		"resolved": nominal == m.unbound,
		"duration": time.Since(start),
	})

	return next, nil
}

func (m *Machine[ID, O, I]) activeLocked() *Context[ID] {
	if len(m.contexts) == 0 {
		return nil
	}
	return m.contexts[len(m.contexts)-1]
}

func (m *Machine[ID, O, I]) transitionError(ctx *Context[ID], from, nominal ID, err error) *TransitionError {
	return &TransitionError{
		From:    from,
		Nominal: nominal,
		Context: describe(ctx),
		Err:     err,
	}
}

func (m *Machine[ID, O, I]) emit(eventType observability.EventType, level observability.Level, data map[string]any) {
	m.observer.OnEvent(context.Background(), observability.Event{
		Type:      eventType,
		Level:     level,
		Timestamp: time.Now(),
		Source:    m.name,
		Data:      data,
	})
}

func describe[ID comparable](ctx *Context[ID]) string {
	if ctx == nil {
		return ""
	}
	return ctx.Description()
}
