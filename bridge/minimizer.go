package bridge

import "slices"

// Point is a candidate location proposed by a minimizer.
type Point []float64

// Clone returns a copy that does not share p's backing array.
func (p Point) Clone() Point {
	return slices.Clone(p)
}

// Outcome classifies the return of one minimizer iteration.
type Outcome int

const (
	// NextStep means the minimizer wants another iteration.
	NextStep Outcome = iota

	// Finished means the minimizer has converged. Its Location is the
	// result of the run.
	Finished

	// Failed ends the run without convergence. Iterate returns the reason
	// alongside it.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case NextStep:
		return "next_step"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the outcome by name in reports.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Objective is the synchronous evaluation callback handed to a minimizer.
type Objective func(x []float64) float64

// Minimizer is a blocking, callback-driven iterative optimizer. Iterate calls
// f synchronously zero or more times and returns once the iteration is over.
// A NaN returned by f means the evaluation was abandoned.
type Minimizer interface {
	Iterate(f Objective) (Outcome, error)
}

// Locator is implemented by minimizers that track their best location.
type Locator interface {
	Location() (Point, float64)
}

// Func adapts a plain function to the Minimizer interface.
type Func func(f Objective) (Outcome, error)

// Iterate calls fn.
func (fn Func) Iterate(f Objective) (Outcome, error) {
	return fn(f)
}
