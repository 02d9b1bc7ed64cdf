// Package module runs a procedure's cooperative loop.
//
// A Module ticks its procedure at a fixed cadence on a single goroutine and
// executes posted event handlers on that same goroutine between ticks, so
// handlers never run concurrently with a transition function. Lock timeouts
// returned by a tick are retried on later ticks and raised as warnings once
// the retry bound is exhausted. Any other tick error stops the loop.
package module

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tailored-agentic-units/labkernel/instrument"
	"github.com/tailored-agentic-units/labkernel/observability"
)

// Procedure is the control logic driven by a Module. Tick advances it by
// exactly one non-blocking step.
type Procedure interface {
	Tick(ctx context.Context) error
	Status() string
}

// Stopper is implemented by procedures that support user-initiated stop.
type Stopper interface {
	Stop() error
}

// Event is a handler executed on the loop goroutine.
type Event func() error

// Option configures a Module.
type Option func(*Module)

func WithObserver(observer observability.Observer) Option {
	return func(m *Module) {
		if observer != nil {
			m.observer = observer
		}
	}
}

// Module owns the cooperative loop of one procedure.
type Module struct {
	name      string
	procedure Procedure
	interval  time.Duration
	events    chan Event
	escalator *instrument.Escalator
	observer  observability.Observer
	tracer    trace.Tracer

	running  atomic.Bool
	ticks    atomic.Int64
	warnings atomic.Int64

	mu          sync.Mutex
	lastWarning string
}

func New(procedure Procedure, cfg Config, opts ...Option) *Module {
	defaults := DefaultConfig()
	defaults.Merge(&cfg)

	m := &Module{
		name:      defaults.Name,
		procedure: procedure,
		interval:  defaults.TickInterval,
		events:    make(chan Event, defaults.EventBuffer),
		escalator: instrument.NewEscalator(defaults.MaxLockRetries),
		observer:  observability.NoOpObserver{},
		tracer:    otel.Tracer("labkernel/module"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Module) Name() string {
	return m.name
}

// Status returns the procedure's current status text.
func (m *Module) Status() string {
	return m.procedure.Status()
}

// Post queues an event handler for the loop goroutine without waiting.
func (m *Module) Post(event Event) error {
	select {
	case m.events <- event:
		return nil
	default:
		return fmt.Errorf("%s: %w", m.name, ErrEventQueueFull)
	}
}

// Stop posts the procedure's stop handler.
func (m *Module) Stop() error {
	stopper, ok := m.procedure.(Stopper)
	if !ok {
		return ErrNotStoppable
	}
	return m.Post(func() error {
		m.emit(context.Background(), EventStop, observability.LevelInfo, nil)
		return stopper.Stop()
	})
}

// Ticks returns the number of completed ticks.
func (m *Module) Ticks() int64 {
	return m.ticks.Load()
}

// Warnings returns the number of warnings raised.
func (m *Module) Warnings() int64 {
	return m.warnings.Load()
}

func (m *Module) LastWarning() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastWarning
}

// Tick runs pending event handlers, then advances the procedure once.
// Lock timeouts are absorbed; the returned error is one that must stop the
// loop.
func (m *Module) Tick(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "module.Tick",
		trace.WithAttributes(attribute.String("module", m.name)),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		tickDuration.WithLabelValues(m.name).Observe(time.Since(start).Seconds())
	}()

	m.drain(ctx)

	err := m.procedure.Tick(ctx)
	m.ticks.Add(1)

	switch {
	case err == nil:
		m.escalator.Success()
		tickTotal.WithLabelValues(m.name, "ok").Inc()
		return nil

	case instrument.IsTimeout(err):
		tickTotal.WithLabelValues(m.name, "timeout").Inc()
		span.AddEvent("lock timeout", trace.WithAttributes(attribute.String("error", err.Error())))
		if m.escalator.Failure() {
			m.warn(ctx, err)
		}
		return nil

	default:
		tickTotal.WithLabelValues(m.name, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.emit(ctx, EventError, observability.LevelError, map[string]any{
			"error": err.Error(),
		})
		return err
	}
}

// Run ticks the procedure at the configured cadence until ctx ends or a tick
// fails.
func (m *Module) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer m.running.Store(false)

	m.emit(ctx, EventStart, observability.LevelInfo, map[string]any{
		"tick_interval": m.interval.String(),
	})

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				return fmt.Errorf("%s: %w", m.name, err)
			}
		}
	}
}

func (m *Module) drain(ctx context.Context) {
	for {
		select {
		case event := <-m.events:
			if err := event(); err != nil {
				eventTotal.WithLabelValues(m.name, "error").Inc()
				m.emit(ctx, EventHandlerError, observability.LevelWarning, map[string]any{
					"error": err.Error(),
				})
				continue
			}
			eventTotal.WithLabelValues(m.name, "ok").Inc()
		default:
			return
		}
	}
}

func (m *Module) warn(ctx context.Context, err error) {
	m.warnings.Add(1)
	warningTotal.WithLabelValues(m.name).Inc()

	m.mu.Lock()
	m.lastWarning = err.Error()
	m.mu.Unlock()

	m.emit(ctx, EventWarning, observability.LevelWarning, map[string]any{
		"error":    err.Error(),
		"failures": m.escalator.Failures(),
	})
}

func (m *Module) emit(ctx context.Context, eventType observability.EventType, level observability.Level, data map[string]any) {
	m.observer.OnEvent(ctx, observability.Event{
		Type:      eventType,
		Level:     level,
		Timestamp: time.Now(),
		Source:    m.name,
		Data:      data,
	})
}
