package instrument

import (
	"fmt"
	"math"
	"time"
)

// Position is a sample stage location in micrometres.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

func (p Position) Sub(o Position) Position {
	return Position{X: p.X - o.X, Y: p.Y - o.Y, Z: p.Z - o.Z}
}

func (p Position) Distance(o Position) float64 {
	d := p.Sub(o)
	return math.Sqrt(d.X*d.X + d.Y*d.Y + d.Z*d.Z)
}

func (p Position) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f)", p.X, p.Y, p.Z)
}

// StageStatus is the positioner data read through a locked snapshot.
type StageStatus struct {
	Position Position
	Moving   bool
}

// CounterStatus is the photon counter data read through a locked snapshot.
// Sequence increases by one per completed acquisition.
type CounterStatus struct {
	Rate      float64
	Sequence  uint64
	Acquiring bool
}

// Positioner moves the sample. MoveTo enqueues the motion and returns;
// completion is observed through Status.
type Positioner interface {
	MoveTo(p Position) error
	Status(timeout time.Duration) (StageStatus, error)
}

// PhotonCounter measures a count rate. Acquire enqueues one exposure;
// completion is observed through Status.
type PhotonCounter interface {
	Acquire() error
	Status(timeout time.Duration) (CounterStatus, error)
}

// CorrelationBin is one delay bin of a photon-correlation histogram.
type CorrelationBin struct {
	Delay time.Duration `json:"delay" yaml:"delay"`
	Value float64       `json:"value" yaml:"value"`
}

// CorrelationStatus is the photon-correlation (HBT) data read through a
// locked snapshot. Histogram is replaced, never modified in place, so a
// snapshot may share it.
type CorrelationStatus struct {
	Running         bool
	IntegrationTime time.Duration
	Events          int64
	Histogram       []CorrelationBin

	// Pending is the number of tasks queued on the instrument.
	Pending int
}

// G2Zero returns the normalized coincidence value of the bin closest to zero
// delay, or NaN when no histogram has been acquired.
func (s CorrelationStatus) G2Zero() float64 {
	g2 := math.NaN()
	closest := time.Duration(math.MaxInt64)
	for _, b := range s.Histogram {
		d := b.Delay
		if d < 0 {
			d = -d
		}
		if d < closest {
			closest, g2 = d, b.Value
		}
	}
	return g2
}

// Correlator integrates a photon-correlation histogram. StartCorrelation
// enqueues a reset followed by the start of integration, ReadCorrelation
// enqueues one integration chunk and StopCorrelation halts integration.
// Progress is observed through CorrelationStatus.
type Correlator interface {
	StartCorrelation(binWidth time.Duration, bins int) error
	ReadCorrelation() error
	StopCorrelation() error
	CorrelationStatus(timeout time.Duration) (CorrelationStatus, error)
}
