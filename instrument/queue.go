package instrument

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Task is an operation executed on the instrument's own goroutine.
type Task func(ctx context.Context) (any, error)

// Callback receives a task's result on the instrument's goroutine.
type Callback func(result any, err error)

// TaskQueue accepts fire-and-forget instrument operations.
type TaskQueue interface {
	Enqueue(task Task, cb Callback) error
}

type queued struct {
	task Task
	cb   Callback
}

// Queue runs tasks one at a time in FIFO order on a dedicated goroutine.
type Queue struct {
	name   string
	tasks  chan queued
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.RWMutex
	closed bool

	executed atomic.Int64
}

// NewQueue starts a queue with room for capacity pending tasks.
func NewQueue(name string, capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		name:   name,
		tasks:  make(chan queued, capacity),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *Queue) Name() string {
	return q.name
}

// Enqueue schedules task without waiting. cb may be nil.
func (q *Queue) Enqueue(task Task, cb Callback) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return fmt.Errorf("%s: %w", q.name, ErrQueueClosed)
	}

	select {
	case q.tasks <- queued{task: task, cb: cb}:
		return nil
	default:
		return fmt.Errorf("%s: %w", q.name, ErrQueueFull)
	}
}

// Pending returns the number of tasks waiting to run.
func (q *Queue) Pending() int {
	return len(q.tasks)
}

// Executed returns the number of tasks run so far.
func (q *Queue) Executed() int64 {
	return q.executed.Load()
}

// Close stops accepting tasks, cancels the running one and waits up to
// timeout for the queue goroutine to exit. Tasks still pending receive
// ErrQueueClosed through their callbacks.
func (q *Queue) Close(timeout time.Duration) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	q.cancel()

	select {
	case <-q.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("%s: queue shutdown timeout after %s", q.name, timeout)
	}
}

func (q *Queue) loop() {
	defer close(q.done)

	for item := range q.tasks {
		if q.ctx.Err() != nil {
			if item.cb != nil {
				item.cb(nil, ErrQueueClosed)
			}
			continue
		}
		q.run(item)
	}
}

func (q *Queue) run(item queued) {
	var (
		result any
		err    error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s: task panicked: %v", q.name, r)
			}
		}()
		result, err = item.task(q.ctx)
	}()

	q.executed.Add(1)
	if item.cb != nil {
		item.cb(result, err)
	}
}

// Call enqueues task and blocks until its callback fires or ctx ends.
//
// Call stalls the caller. Use it only outside time-critical state functions,
// e.g. for user-initiated actions.
func Call(ctx context.Context, q TaskQueue, task Task) (any, error) {
	type outcome struct {
		result any
		err    error
	}
	ch := make(chan outcome, 1)

	err := q.Enqueue(task, func(result any, err error) {
		ch <- outcome{result: result, err: err}
	})
	if err != nil {
		return nil, err
	}

	select {
	case o := <-ch:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
