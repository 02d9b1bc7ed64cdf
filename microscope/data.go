package microscope

import (
	"slices"
	"sync"
	"time"

	"github.com/tailored-agentic-units/labkernel/bridge"
	"github.com/tailored-agentic-units/labkernel/instrument"
)

// ScanResult is one captured scan point.
type ScanResult struct {
	Target   instrument.Position `json:"target" yaml:"target"`
	Measured instrument.Position `json:"measured" yaml:"measured"`
	Rate     float64             `json:"rate" yaml:"rate"`
}

// EmitterState is the characterization progress of one emitter.
type EmitterState int

const (
	EmitterNotSet EmitterState = iota
	EmitterCharacterizing
	EmitterFinished
	EmitterFailed
)

func (s EmitterState) String() string {
	switch s {
	case EmitterNotSet:
		return "not_set"
	case EmitterCharacterizing:
		return "characterizing"
	case EmitterFinished:
		return "finished"
	case EmitterFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s EmitterState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EmitterResult tracks one emitter through characterization.
type EmitterResult struct {
	Position  instrument.Position `json:"position" yaml:"position"`
	Optimized instrument.Position `json:"optimized" yaml:"optimized"`
	Rate      float64             `json:"rate" yaml:"rate"`
	State     EmitterState        `json:"state" yaml:"state"`
	Attempts  int                 `json:"attempts" yaml:"attempts"`

	// Cell is the 1-based sample cell the emitter was found in, zero for
	// emitters given directly.
	Cell int `json:"cell,omitempty" yaml:"cell,omitempty"`

	Correlation *CorrelationResult `json:"correlation,omitempty" yaml:"correlation,omitempty"`
}

// OptimizationResult summarizes a finished count-rate optimization. Error
// carries Err's message for reports.
type OptimizationResult struct {
	BridgeID    string              `json:"bridge_id" yaml:"bridge_id"`
	Outcome     bridge.Outcome      `json:"outcome" yaml:"outcome"`
	Err         error               `json:"-" yaml:"-"`
	Error       string              `json:"error,omitempty" yaml:"error,omitempty"`
	Position    instrument.Position `json:"position" yaml:"position"`
	Rate        float64             `json:"rate" yaml:"rate"`
	Steps       int                 `json:"steps" yaml:"steps"`
	Evaluations int                 `json:"evaluations" yaml:"evaluations"`
}

// CorrelationResult is a finished photon-correlation measurement.
type CorrelationResult struct {
	Position        instrument.Position         `json:"position" yaml:"position"`
	G2Zero          float64                     `json:"g2_zero" yaml:"g2_zero"`
	IntegrationTime time.Duration               `json:"integration_time" yaml:"integration_time"`
	Events          int64                       `json:"events" yaml:"events"`
	Histogram       []instrument.CorrelationBin `json:"histogram,omitempty" yaml:"histogram,omitempty"`
}

// Data is the run-time state handed to every transition. Fields below mu are
// readable from other goroutines through the Microscope accessors; the rest
// belong to the module goroutine.
type Data struct {
	mu           sync.Mutex
	scanResults  []ScanResult
	emitters     []EmitterResult
	optimization *OptimizationResult
	correlation  *CorrelationResult
	message      string

	positions []instrument.Position
	target    instrument.Position
	measured  instrument.Position
	sequence  uint64
	lastRate  float64

	bridge           *bridge.Bridge
	optStart         instrument.Position
	optSteps         int
	optEvaluations   int
	awaitingFeedback bool
	pending          *bridge.Result

	emitter   int
	attempts  int
	waitUntil time.Time

	correlating bool

	cells    []Region
	cell     int
	cellScan []ScanResult

	fault error
}

func (d *Data) setMessage(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.message = msg
}

func (d *Data) appendScanResult(r ScanResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scanResults = append(d.scanResults, r)
}

func (d *Data) setOptimization(r OptimizationResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.optimization = &r
}

func (d *Data) lastOptimization() (OptimizationResult, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.optimization == nil {
		return OptimizationResult{}, false
	}
	return *d.optimization, true
}

func (d *Data) setCorrelation(r CorrelationResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.correlation = &r
}

func (d *Data) lastCorrelation() (CorrelationResult, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.correlation == nil {
		return CorrelationResult{}, false
	}
	r := *d.correlation
	r.Histogram = slices.Clone(r.Histogram)
	return r, true
}

func (d *Data) updateEmitter(idx int, fn func(e *EmitterResult)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if idx >= 0 && idx < len(d.emitters) {
		fn(&d.emitters[idx])
	}
}

// nextEmitter returns the index of the first emitter not yet characterized.
func (d *Data) nextEmitter() (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := slices.IndexFunc(d.emitters, func(e EmitterResult) bool {
		return e.State == EmitterNotSet
	})
	return idx, idx >= 0
}

// takeFault returns and clears the fault recorded during the last transition.
func (d *Data) takeFault() error {
	err := d.fault
	d.fault = nil
	return err
}
