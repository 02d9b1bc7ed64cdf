package bridge

import (
	"context"
	"fmt"
	"io"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tailored-agentic-units/labkernel/observability"
)

// Result is the completion of one worker iteration.
type Result struct {
	Outcome Outcome
	Err     error

	// Point and Value hold the minimizer's best location when it
	// implements Locator.
	Point Point
	Value float64

	// Evaluations counts the samples published during the iteration.
	Evaluations int

	Aborted bool
}

// Option configures a Bridge.
type Option func(*Bridge)

func WithObserver(observer observability.Observer) Option {
	return func(b *Bridge) {
		if observer != nil {
			b.observer = observer
		}
	}
}

func WithName(name string) Option {
	return func(b *Bridge) { b.name = name }
}

// WithMetrics shares a metrics recorder across bridges.
func WithMetrics(metrics *Metrics) Option {
	return func(b *Bridge) {
		if metrics != nil {
			b.metrics = metrics
		}
	}
}

// Bridge connects a blocking minimizer running on a worker goroutine to a
// poller that advances one non-blocking step per tick.
//
// Each evaluation of the minimizer's objective publishes its candidate on a
// single-use sample slot and blocks on a single-use feedback slot. The poller
// takes the sample with TrySample, measures it over as many ticks as it
// needs, answers with Feedback and calls Renew to install a fresh slot pair
// before the minimizer may evaluate again. A Bridge serves one optimization
// run and is discarded after Abort or the final iteration.
type Bridge struct {
	id        string
	name      string
	minimizer Minimizer
	observer  observability.Observer
	metrics   *Metrics

	armed    atomic.Bool
	aborting atomic.Bool

	mu          sync.Mutex
	sample      *OneShot[Point]
	feedback    *OneShot[float64]
	taken       bool
	inFlight    bool
	done        chan Result
	evaluations int
}

func New(minimizer Minimizer, opts ...Option) *Bridge {
	b := &Bridge{
		id:        uuid.New().String(),
		name:      "bridge",
		minimizer: minimizer,
		observer:  observability.NoOpObserver{},
		metrics:   NewMetrics(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bridge) ID() string {
	return b.id
}

func (b *Bridge) Metrics() *Metrics {
	return b.metrics
}

func (b *Bridge) Aborting() bool {
	return b.aborting.Load()
}

// Running reports whether a worker iteration has been started and its result
// not yet collected by Poll or Abort.
func (b *Bridge) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inFlight
}

// Renew replaces both slots with fresh ones and arms the bridge so that the
// next evaluation may publish. It is rejected while a published sample still
// awaits feedback.
func (b *Bridge) Renew() error {
	if b.aborting.Load() {
		return ErrAborted
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sample != nil && b.sample.Sent() && !b.feedback.Sent() {
		return ErrFeedbackPending
	}
	if b.sample != nil {
		b.sample.Close()
		b.feedback.Close()
	}

	b.sample = NewOneShot[Point]()
	b.feedback = NewOneShot[float64]()
	b.taken = false
	b.armed.Store(true)
	b.metrics.RecordRenewal()
	return nil
}

// Start launches one minimizer iteration on a new worker goroutine. The slot
// pair must be fresh: Renew is required before the first Start and after
// every evaluation.
func (b *Bridge) Start() error {
	if b.aborting.Load() {
		return ErrAborted
	}

	b.mu.Lock()
	if b.inFlight {
		b.mu.Unlock()
		return ErrWorkerRunning
	}
	if b.sample == nil || b.sample.Sent() || b.feedback.Sent() {
		b.mu.Unlock()
		return ErrNotRenewed
	}
	done := make(chan Result, 1)
	b.done = done
	b.inFlight = true
	b.evaluations = 0
	b.mu.Unlock()

	b.emit(EventStart, observability.LevelVerbose, nil)
	go b.work(done)
	return nil
}

// TrySample performs a zero-wait receive of the published candidate.
func (b *Bridge) TrySample() (Point, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sample == nil {
		return nil, false
	}
	p, status := b.sample.TryReceive()
	if status != SlotReady {
		return nil, false
	}
	b.taken = true

	b.emit(EventSample, observability.LevelVerbose, map[string]any{
		"point": []float64(p),
	})
	return p, true
}

// Feedback delivers the score for the sample taken by TrySample and disarms
// the bridge until the next Renew. Exactly one score is accepted per sample.
func (b *Bridge) Feedback(score float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sample == nil || !b.taken {
		return ErrNoPendingSample
	}

	b.armed.Store(false)
	if err := b.feedback.Send(score); err != nil {
		return err
	}
	b.metrics.RecordFeedback()

	b.emit(EventFeedback, observability.LevelVerbose, map[string]any{
		"score": score,
	})
	return nil
}

// Poll reports the result of the started iteration without waiting. The
// result is delivered once.
func (b *Bridge) Poll() (Result, bool) {
	b.mu.Lock()
	done := b.done
	b.mu.Unlock()

	if done == nil {
		return Result{}, false
	}

	select {
	case r := <-done:
		b.mu.Lock()
		b.inFlight = false
		b.done = nil
		b.mu.Unlock()
		return r, true
	default:
		return Result{}, false
	}
}

// Abort stops the run and waits up to timeout for the worker to return.
//
// The sequence is: mark the bridge aborting, swap the feedback slot for one
// already holding NaN and close the slot the worker may be blocked on, close
// the sample slot, release any evaluation spinning on the armed gate, then
// join the worker. A minimizer implementing io.Closer is closed once the
// worker has returned. The bridge cannot be restarted afterwards.
func (b *Bridge) Abort(timeout time.Duration) error {
	b.aborting.Store(true)

	b.mu.Lock()
	replacement := NewOneShot[float64]()
	_ = replacement.Send(math.NaN())
	if b.feedback != nil {
		b.feedback.Close()
	}
	b.feedback = replacement
	if b.sample != nil {
		b.sample.Close()
	}
	done := b.done
	inFlight := b.inFlight
	b.mu.Unlock()

	b.armed.Store(true)
	b.metrics.RecordAbort()
	b.emit(EventAbort, observability.LevelInfo, map[string]any{
		"in_flight": inFlight,
	})

	if !inFlight || done == nil {
		return b.release()
	}

	select {
	case <-done:
		b.mu.Lock()
		b.inFlight = false
		b.done = nil
		b.mu.Unlock()
		return b.release()
	case <-time.After(timeout):
		return fmt.Errorf("%w: %s", ErrAbortTimeout, timeout)
	}
}

// release closes a minimizer that holds resources between iterations. The
// worker must have returned.
func (b *Bridge) release() error {
	if c, ok := b.minimizer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (b *Bridge) work(done chan<- Result) {
	var result Result
	defer func() {
		if r := recover(); r != nil {
			result = Result{
				Outcome: Failed,
				Err:     fmt.Errorf("%w: %v", ErrMinimizerPanic, r),
			}
		}
		result.Aborted = b.aborting.Load()
		b.mu.Lock()
		result.Evaluations = b.evaluations
		b.mu.Unlock()

		b.metrics.RecordIteration()
		b.emit(EventIteration, observability.LevelInfo, map[string]any{
			"outcome":     result.Outcome.String(),
			"evaluations": result.Evaluations,
			"aborted":     result.Aborted,
		})
		done <- result
	}()

	outcome, err := b.minimizer.Iterate(b.evaluate)
	result = Result{Outcome: outcome, Err: err}
	if b.aborting.Load() && err == nil {
		result.Outcome = Failed
		result.Err = ErrAborted
	}
	if loc, ok := b.minimizer.(Locator); ok {
		result.Point, result.Value = loc.Location()
	}
}

// evaluate runs on the worker goroutine inside the minimizer. It waits for a
// fresh armed slot pair, publishes x and blocks until the poller answers.
func (b *Bridge) evaluate(x []float64) float64 {
	var feedback *OneShot[float64]
	for feedback == nil {
		if b.aborting.Load() {
			return math.NaN()
		}
		if !b.armed.Load() {
			runtime.Gosched()
			continue
		}

		b.mu.Lock()
		switch {
		case b.aborting.Load():
			b.mu.Unlock()
			return math.NaN()
		case b.sample == nil || b.sample.Sent():
			b.mu.Unlock()
			runtime.Gosched()
			continue
		}
		if err := b.sample.Send(Point(x).Clone()); err != nil {
			b.mu.Unlock()
			return math.NaN()
		}
		b.evaluations++
		feedback = b.feedback
		b.mu.Unlock()
	}

	b.metrics.RecordEvaluation()

	score, err := feedback.Receive(context.Background())
	if err != nil {
		return math.NaN()
	}
	return score
}

func (b *Bridge) emit(eventType observability.EventType, level observability.Level, data map[string]any) {
	if data == nil {
		data = make(map[string]any)
	}
	data["run_id"] = b.id

	b.observer.OnEvent(context.Background(), observability.Event{
		Type:      eventType,
		Level:     level,
		Timestamp: time.Now(),
		Source:    b.name,
		Data:      data,
	})
}
