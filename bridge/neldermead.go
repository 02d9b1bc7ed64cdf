package bridge

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// ErrSearchClosed is returned by Iterate once the search has ended.
var ErrSearchClosed = errors.New("nelder-mead: search closed")

// NelderMeadConfig tunes the downhill simplex search.
type NelderMeadConfig struct {
	// Steps holds the initial simplex extent per axis. Axes are scaled so
	// that one unit of the search corresponds to one step.
	Steps []float64

	// SizeTolerance ends the search as converged once the simplex has
	// contracted below it, measured in the coordinates of the objective.
	// Zero disables the test.
	SizeTolerance float64

	// Tolerance is the absolute function improvement below which an
	// iteration counts as stalled.
	Tolerance float64

	// StallIterations is the number of stalled iterations that end the
	// search as converged. Zero disables the test.
	StallIterations int

	// MaxIterations bounds the number of simplex iterations after the
	// initial simplex is built. Zero disables the bound.
	MaxIterations int

	// MaxEvaluations bounds the number of objective evaluations. Zero
	// disables the bound.
	MaxEvaluations int
}

func DefaultNelderMeadConfig(dim int) NelderMeadConfig {
	steps := make([]float64, dim)
	for i := range steps {
		steps[i] = 1
	}
	return NelderMeadConfig{
		Steps:           steps,
		SizeTolerance:   1e-3,
		Tolerance:       1e-6,
		StallIterations: 10,
		MaxIterations:   200,
	}
}

// NelderMead drives gonum's Nelder-Mead method one simplex iteration per
// Iterate call. The method runs on its own goroutine for the whole search
// and is parked at each major iteration until the next Iterate resumes it,
// so every call evaluates through the objective it was handed.
//
// The first Iterate evaluates the start point and builds the initial
// simplex. Each later call performs one reflection, expansion, contraction
// or shrink. Iterate returns NextStep while the search continues, Finished
// when the simplex size or the function stall test passes and Failed on a
// limit, an abandoned evaluation or a method error.
type NelderMead struct {
	initial Point
	config  NelderMeadConfig

	// turn is held by Iterate and Close while they own the method.
	turn       sync.Mutex
	method     *optimize.NelderMead
	converger  *optimize.FunctionConverge
	operation  chan optimize.Task
	result     chan optimize.Task
	parked     optimize.Task
	hasParked  bool
	started    bool
	closed     bool
	majors     int
	evaluated  int
	candidates [][]float64
	size       float64

	mu        sync.Mutex
	best      Point
	bestValue float64
}

func NewNelderMead(initial Point, config NelderMeadConfig) (*NelderMead, error) {
	if len(initial) == 0 {
		return nil, errors.New("nelder-mead: empty initial point")
	}
	if len(config.Steps) != len(initial) {
		return nil, fmt.Errorf("nelder-mead: %d steps for %d dimensions", len(config.Steps), len(initial))
	}
	for i, s := range config.Steps {
		if s <= 0 {
			return nil, fmt.Errorf("nelder-mead: step %d must be positive, got %g", i, s)
		}
	}

	return &NelderMead{
		initial:   initial.Clone(),
		config:    config,
		best:      initial.Clone(),
		bestValue: math.Inf(1),
		size:      math.Inf(1),
	}, nil
}

// Iterate advances the search by one simplex iteration, evaluating through f.
func (n *NelderMead) Iterate(f Objective) (Outcome, error) {
	n.turn.Lock()
	defer n.turn.Unlock()

	if n.closed {
		return Failed, ErrSearchClosed
	}
	if !n.started {
		n.start()
	} else if n.hasParked {
		n.hasParked = false
		n.result <- n.parked
	}

	for task := range n.operation {
		switch {
		case task.Op == optimize.MajorIteration:
			n.record(task.Location)
			n.majors++

			status := n.converger.Converged(task.Location)
			if n.majors == 1 {
				// Start point only; keep going until the simplex is built.
				n.candidates = n.candidates[:0]
				n.result <- task
				continue
			}

			n.mu.Lock()
			n.size = n.simplexSize()
			size := n.size
			n.mu.Unlock()
			n.candidates = n.candidates[:0]

			switch {
			case n.config.SizeTolerance > 0 && size < n.config.SizeTolerance:
				n.finish()
				return Finished, nil
			case status != optimize.NotTerminated:
				n.finish()
				return Finished, nil
			case n.config.MaxIterations > 0 && n.majors-2 >= n.config.MaxIterations:
				n.finish()
				return Failed, fmt.Errorf("%w: %s", ErrNotConverged, optimize.IterationLimit)
			}

			n.parked = task
			n.hasParked = true
			return NextStep, nil

		case task.Op == optimize.MethodDone:
			status, err := n.method.Status()
			n.finish()
			if err != nil {
				return Failed, fmt.Errorf("%w: %s: %w", ErrNotConverged, status, err)
			}
			return Failed, fmt.Errorf("%w: %s", ErrNotConverged, status)

		case task.Op&optimize.FuncEvaluation != 0:
			if n.config.MaxEvaluations > 0 && n.evaluated >= n.config.MaxEvaluations {
				n.finish()
				return Failed, fmt.Errorf("%w: %s", ErrNotConverged, optimize.FunctionEvaluationLimit)
			}

			x := n.position(task.X)
			v := f(x)
			n.evaluated++
			if math.IsNaN(v) {
				n.finish()
				return Failed, ErrAborted
			}
			task.F = v
			n.candidates = append(n.candidates, x)
			n.result <- task

		default:
			n.result <- task
		}
	}

	n.closed = true
	return Failed, ErrSearchClosed
}

// Close ends a search parked between iterations. It must not be called while
// Iterate is running on another goroutine.
func (n *NelderMead) Close() error {
	n.turn.Lock()
	defer n.turn.Unlock()

	if n.started && !n.closed {
		n.finish()
	}
	n.closed = true
	return nil
}

// Location returns the best point found so far and its objective value.
func (n *NelderMead) Location() (Point, float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.best.Clone(), n.bestValue
}

// Size returns the simplex size measured at the last iteration, or +Inf
// before the simplex has been built.
func (n *NelderMead) Size() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.size
}

func (n *NelderMead) start() {
	dim := len(n.initial)

	n.method = &optimize.NelderMead{SimplexSize: 1}
	n.method.Init(dim, 1)
	n.converger = &optimize.FunctionConverge{
		Absolute:   n.config.Tolerance,
		Iterations: n.config.StallIterations,
	}
	n.converger.Init(dim)

	n.operation = make(chan optimize.Task)
	n.result = make(chan optimize.Task)
	task := optimize.Task{
		Location: &optimize.Location{X: make([]float64, dim), F: math.NaN()},
	}
	go n.method.Run(n.operation, n.result, []optimize.Task{task})
	n.started = true
}

// finish tells the method to stop and waits for it to close the operation
// channel. The method must be waiting on result.
func (n *NelderMead) finish() {
	n.closed = true
	n.hasParked = false
	n.result <- optimize.Task{Op: optimize.PostIteration}
	close(n.result)
	for range n.operation {
	}
}

func (n *NelderMead) record(loc *optimize.Location) {
	if math.IsNaN(loc.F) || math.IsInf(loc.F, 1) {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.best = n.position(loc.X)
	n.bestValue = loc.F
}

// simplexSize is the mean distance between the best vertex and the
// candidates evaluated during the iteration. n.mu must be held.
func (n *NelderMead) simplexSize() float64 {
	if len(n.candidates) == 0 {
		return 0
	}
	var sum float64
	for _, c := range n.candidates {
		sum += floats.Distance(c, n.best, 2)
	}
	return sum / float64(len(n.candidates))
}

func (n *NelderMead) position(u []float64) []float64 {
	x := make([]float64, len(u))
	for i := range u {
		x[i] = n.initial[i] + u[i]*n.config.Steps[i]
	}
	return x
}
