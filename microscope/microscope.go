package microscope

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/tailored-agentic-units/labkernel/bridge"
	"github.com/tailored-agentic-units/labkernel/instrument"
	"github.com/tailored-agentic-units/labkernel/machine"
	"github.com/tailored-agentic-units/labkernel/observability"
)

// MinimizerFactory builds the minimizer for one optimization run starting at
// initial, a point of (x, y, z).
type MinimizerFactory func(initial bridge.Point, cfg OptimizationConfig) (bridge.Minimizer, error)

// NelderMeadFactory is the default MinimizerFactory.
func NelderMeadFactory(initial bridge.Point, cfg OptimizationConfig) (bridge.Minimizer, error) {
	return bridge.NewNelderMead(initial, bridge.NelderMeadConfig{
		Steps:           []float64{cfg.XYStep, cfg.XYStep, cfg.ZStep},
		SizeTolerance:   cfg.SizeTolerance,
		Tolerance:       cfg.Tolerance,
		StallIterations: cfg.StallIterations,
		MaxIterations:   cfg.MaxIterations,
	})
}

type Option func(*Microscope)

func WithObserver(observer observability.Observer) Option {
	return func(m *Microscope) {
		if observer != nil {
			m.observer = observer
		}
	}
}

func WithMinimizerFactory(factory MinimizerFactory) Option {
	return func(m *Microscope) {
		if factory != nil {
			m.factory = factory
		}
	}
}

func WithBridgeMetrics(metrics *bridge.Metrics) Option {
	return func(m *Microscope) { m.metrics = metrics }
}

type stateMachine = machine.Machine[StateID, *Microscope, *Data]
type state = machine.State[StateID, *Microscope, *Data]

// Microscope runs scan, optimization, photon-correlation and
// characterization procedures on a positioner and a photon counter. It
// implements module.Procedure and module.Stopper; Tick and the Start and Stop
// events must be called from the module goroutine.
type Microscope struct {
	cfg        Config
	stage      instrument.Positioner
	counter    instrument.PhotonCounter
	correlator instrument.Correlator
	observer   observability.Observer
	factory    MinimizerFactory
	metrics    *bridge.Metrics

	machine *stateMachine
	data    *Data

	scanCtx             *machine.Context[StateID]
	optimizationCtx     *machine.Context[StateID]
	characterizationCtx *machine.Context[StateID]
	correlationCtx      *machine.Context[StateID]

	sampleCtx                 *machine.Context[StateID]
	sampleScanCtx             *machine.Context[StateID]
	sampleCharacterizationCtx *machine.Context[StateID]
}

func New(stage instrument.Positioner, counter instrument.PhotonCounter, cfg Config, opts ...Option) (*Microscope, error) {
	if stage == nil || counter == nil {
		return nil, fmt.Errorf("microscope: stage and counter are required")
	}

	merged := DefaultConfig()
	merged.Merge(&cfg)

	m := &Microscope{
		cfg:      merged,
		stage:    stage,
		counter:  counter,
		observer: observability.NoOpObserver{},
		factory:  NelderMeadFactory,
		data:     &Data{emitter: -1},
	}
	// A counter that also correlates gets photon-correlation measurements.
	m.correlator, _ = counter.(instrument.Correlator)
	for _, opt := range opts {
		opt(m)
	}

	m.scanCtx = machine.NewContext(map[StateID]StateID{
		ScanStep:     ScanFinished,
		ScanFinished: ReturnToReady,
	}, "Scanning sample...")

	optimizationCore := machine.NewContext(map[StateID]StateID{
		OptimizationWait: ScanStep,
		ScanStep:         OptimizationStep,
	}, "")
	m.optimizationCtx = machine.NewContext(map[StateID]StateID{
		OptimizationFinished: ReturnToReady,
	}, "Optimizing count rate...", optimizationCore)

	characterizationCore := machine.NewContext(map[StateID]StateID{
		WaitingFinished:      OptimizationInit,
		OptimizationFinished: CharacterizationOptimizationFinished,
		HBTFinished:          CharacterizationHBTFinished,
	}, "", optimizationCore)
	m.characterizationCtx = machine.NewContext(map[StateID]StateID{
		CharacterizationFinished: ReturnToReady,
	}, "Characterizing emitters...", characterizationCore)

	m.correlationCtx = machine.NewContext(map[StateID]StateID{
		HBTFinished: ReturnToReady,
	}, "Measuring photon correlation...")

	// Sample characterization alternates two layers on top of sampleCtx: a
	// raster scan of one cell, then characterization of the emitters found
	// in it.
	m.sampleCtx = machine.NewContext(map[StateID]StateID{
		SampleFinished: ReturnToReady,
	}, "Characterizing sample...")
	m.sampleScanCtx = machine.NewContext(map[StateID]StateID{
		ScanStep: SampleFindEmitters,
	}, "Scanning sample cell...")
	m.sampleCharacterizationCtx = machine.NewContext(map[StateID]StateID{
		CharacterizationFinished: SampleAdvanceCell,
	}, "Characterizing sample emitters...", m.characterizationCtx)

	sm, err := machine.New(Unbound, Ready, []state{
		machine.NewState(Ready, (*Microscope).ready, "Ready"),
		machine.NewState(ReturnToReady, (*Microscope).returnToReady, "Finishing..."),

		machine.NewState(ScanStep, (*Microscope).scanStep, "Scanning..."),
		machine.NewState(ScanWaitUntilMoved, (*Microscope).scanWaitUntilMoved, "Waiting for stage..."),
		machine.NewState(ScanCapture, (*Microscope).scanCapture, "Capturing..."),
		machine.NewState(ScanWaitUntilCaptured, (*Microscope).scanWaitUntilCaptured, "Waiting for counter..."),
		machine.NewState(ScanFinished, (*Microscope).scanFinished, "Scan finished"),

		machine.NewState(OptimizationInit, (*Microscope).optimizationInit, "Starting optimization..."),
		machine.NewState(OptimizationInitSubStep, (*Microscope).optimizationInitSubStep, "Optimizing..."),
		machine.NewState(OptimizationWait, (*Microscope).optimizationWait, "Waiting for optimizer..."),
		machine.NewState(OptimizationStep, (*Microscope).optimizationStep, "Optimizing..."),
		machine.NewState(OptimizationFinished, (*Microscope).optimizationFinished, "Optimization finished"),

		machine.NewState(Waiting, (*Microscope).waiting, "Waiting..."),
		machine.NewState(WaitingFinished, (*Microscope).waitingFinished, "Waiting finished"),

		machine.NewState(CharacterizationStep, (*Microscope).characterizationStep, "Characterizing..."),
		machine.NewState(CharacterizationGotoEmitter, (*Microscope).characterizationGotoEmitter, "Moving to emitter..."),
		machine.NewState(CharacterizationOptimizationFinished, (*Microscope).characterizationOptimizationFinished, "Emitter optimized"),
		machine.NewState(CharacterizationFinished, (*Microscope).characterizationFinished, "Characterization finished"),
		machine.NewState(CharacterizationHBTFinished, (*Microscope).characterizationHBTFinished, "Emitter correlation measured"),

		machine.NewState(HBTGoto, (*Microscope).hbtGoto, "Moving to emitter..."),
		machine.NewState(HBTBegin, (*Microscope).hbtBegin, "Starting correlator..."),
		machine.NewState(HBTWaitForInit, (*Microscope).hbtWaitForInit, "Waiting for correlator..."),
		machine.NewState(HBTAcquiring, (*Microscope).hbtAcquiring, "Integrating correlation..."),
		machine.NewState(HBTFinished, (*Microscope).hbtFinished, "Correlation finished"),

		machine.NewState(SampleStep, (*Microscope).sampleStep, "Next sample cell..."),
		machine.NewState(SampleFindEmitters, (*Microscope).sampleFindEmitters, "Finding emitters..."),
		machine.NewState(SampleAdvanceCell, (*Microscope).sampleAdvanceCell, "Sample cell finished"),
		machine.NewState(SampleFinished, (*Microscope).sampleFinished, "Sample finished"),
	}, machine.WithName(merged.Name), machine.WithObserver(m.observer))
	if err != nil {
		return nil, fmt.Errorf("microscope: %w", err)
	}
	m.machine = sm

	return m, nil
}

// Tick performs one transition. An unresolvable transition is returned as a
// *machine.TransitionError; an instrument failure recorded by the transition
// is returned as is so the module can retry lock timeouts.
func (m *Microscope) Tick(context.Context) error {
	if _, err := m.machine.TryInvoke(m, m.data); err != nil {
		return err
	}
	return m.data.takeFault()
}

// Status is the description of the active procedure or state.
func (m *Microscope) Status() string {
	return m.machine.Description()
}

// State returns the current state.
func (m *Microscope) State() StateID {
	return m.machine.Current()
}

func (m *Microscope) Config() Config {
	return m.cfg
}

// StartScan queues positions for a plain scan.
func (m *Microscope) StartScan(positions []instrument.Position) error {
	if err := m.startable(); err != nil {
		return err
	}
	if len(positions) == 0 {
		return ErrNoPositions
	}

	d := m.data
	d.positions = slices.Clone(positions)
	d.mu.Lock()
	d.scanResults = nil
	d.message = ""
	d.mu.Unlock()

	return m.start(m.scanCtx, ScanStep, "scan", len(positions))
}

// StartOptimization maximizes the count rate starting from initial.
func (m *Microscope) StartOptimization(initial instrument.Position) error {
	if err := m.startable(); err != nil {
		return err
	}

	d := m.data
	d.optStart = initial
	d.bridge = nil
	d.setMessage("")

	return m.start(m.optimizationCtx, OptimizationInit, "optimization", 1)
}

// StartCharacterization optimizes the count rate at each emitter in turn.
func (m *Microscope) StartCharacterization(emitters []instrument.Position) error {
	if err := m.startable(); err != nil {
		return err
	}
	if len(emitters) == 0 {
		return ErrNoPositions
	}

	d := m.data
	d.mu.Lock()
	d.emitters = make([]EmitterResult, len(emitters))
	for i, p := range emitters {
		d.emitters[i] = EmitterResult{Position: p}
	}
	d.message = ""
	d.mu.Unlock()
	d.emitter = -1
	d.bridge = nil

	return m.start(m.characterizationCtx, CharacterizationStep, "characterization", len(emitters))
}

// StartCorrelation measures the photon-correlation histogram at a position.
func (m *Microscope) StartCorrelation(at instrument.Position) error {
	if err := m.startable(); err != nil {
		return err
	}
	if m.correlator == nil {
		return ErrNoCorrelator
	}

	d := m.data
	d.target = at
	d.mu.Lock()
	d.correlation = nil
	d.message = ""
	d.mu.Unlock()

	return m.start(m.correlationCtx, HBTGoto, "correlation", 1)
}

// StartSampleCharacterization raster-scans each cell, picks emitters from the
// scan and characterizes them before moving to the next cell.
func (m *Microscope) StartSampleCharacterization(cells []Region) error {
	if err := m.startable(); err != nil {
		return err
	}
	if len(cells) == 0 {
		return ErrNoPositions
	}
	for i, c := range cells {
		if _, err := c.Positions(); err != nil {
			return fmt.Errorf("cell %d: %w", i+1, err)
		}
	}

	d := m.data
	d.cells = slices.Clone(cells)
	d.cell = 0
	d.cellScan = nil
	d.mu.Lock()
	d.scanResults = nil
	d.emitters = nil
	d.message = ""
	d.mu.Unlock()
	d.emitter = -1
	d.bridge = nil

	return m.start(m.sampleCtx, SampleStep, "sample", len(cells))
}

// Stop aborts the running procedure and returns to Ready.
func (m *Microscope) Stop() error {
	d := m.data

	var abortErr error
	if d.bridge != nil {
		abortErr = d.bridge.Abort(m.cfg.Optimization.AbortTimeout)
		d.bridge = nil
	}
	if d.correlating {
		d.correlating = false
		abortErr = errors.Join(abortErr, m.correlator.StopCorrelation())
	}

	d.positions = nil
	d.cells = nil
	d.cellScan = nil
	d.awaitingFeedback = false
	d.pending = nil
	d.mu.Lock()
	for i := range d.emitters {
		if d.emitters[i].State == EmitterCharacterizing {
			d.emitters[i].State = EmitterNotSet
		}
	}
	d.mu.Unlock()

	m.machine.ClearContexts()
	if err := m.machine.SetCurrentState(Ready); err != nil {
		return err
	}
	m.emit(EventProcedureStop, observability.LevelInfo, nil)

	if abortErr != nil {
		return fmt.Errorf("microscope: stop: %w", abortErr)
	}
	return nil
}

// ScanResults returns a copy of the captured scan points.
func (m *Microscope) ScanResults() []ScanResult {
	m.data.mu.Lock()
	defer m.data.mu.Unlock()
	return slices.Clone(m.data.scanResults)
}

// Emitters returns a copy of the characterization progress.
func (m *Microscope) Emitters() []EmitterResult {
	m.data.mu.Lock()
	defer m.data.mu.Unlock()
	return slices.Clone(m.data.emitters)
}

// Optimization returns the result of the most recent optimization run.
func (m *Microscope) Optimization() (OptimizationResult, bool) {
	return m.data.lastOptimization()
}

// Correlation returns the most recent photon-correlation measurement.
func (m *Microscope) Correlation() (CorrelationResult, bool) {
	return m.data.lastCorrelation()
}

// Message returns the last user-facing message, such as a warning.
func (m *Microscope) Message() string {
	m.data.mu.Lock()
	defer m.data.mu.Unlock()
	return m.data.message
}

func (m *Microscope) startable() error {
	if current := m.machine.Current(); current != Ready {
		return fmt.Errorf("%w: in state %s", ErrBusy, current)
	}
	return nil
}

func (m *Microscope) start(ctx *machine.Context[StateID], first StateID, procedure string, items int) error {
	m.machine.SetContext(ctx)
	if err := m.machine.SetCurrentState(first); err != nil {
		m.machine.ClearContexts()
		return err
	}
	m.emit(EventProcedureStart, observability.LevelInfo, map[string]any{
		"procedure": procedure,
		"items":     items,
	})
	return nil
}

func (m *Microscope) emit(eventType observability.EventType, level observability.Level, data map[string]any) {
	m.observer.OnEvent(context.Background(), observability.Event{
		Type:      eventType,
		Level:     level,
		Timestamp: time.Now(),
		Source:    m.cfg.Name,
		Data:      data,
	})
}
