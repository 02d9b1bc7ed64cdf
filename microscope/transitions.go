package microscope

import (
	"errors"
	"fmt"
	"time"

	"github.com/tailored-agentic-units/labkernel/bridge"
	"github.com/tailored-agentic-units/labkernel/instrument"
	"github.com/tailored-agentic-units/labkernel/machine"
	"github.com/tailored-agentic-units/labkernel/observability"
)

func toPoint(p instrument.Position) bridge.Point {
	return bridge.Point{p.X, p.Y, p.Z}
}

func toPosition(p bridge.Point) instrument.Position {
	var pos instrument.Position
	if len(p) >= 3 {
		pos = instrument.Position{X: p[0], Y: p[1], Z: p[2]}
	}
	return pos
}

// fault records err for Tick to report and keeps the machine in stay.
func (m *Microscope) fault(d *Data, err error, stay StateID) StateID {
	d.fault = err
	return stay
}

func (m *Microscope) ready(*Data) StateID {
	return Ready
}

func (m *Microscope) returnToReady(d *Data) StateID {
	d.bridge = nil
	d.positions = nil
	m.machine.ClearContexts()
	return Ready
}

// Scan

func (m *Microscope) scanStep(d *Data) StateID {
	if len(d.positions) == 0 {
		return Unbound
	}

	d.target = d.positions[0]
	if err := m.stage.MoveTo(d.target); err != nil {
		return m.fault(d, err, ScanStep)
	}
	return ScanWaitUntilMoved
}

func (m *Microscope) scanWaitUntilMoved(d *Data) StateID {
	status, err := m.stage.Status(m.cfg.LockTimeout)
	if err != nil {
		return m.fault(d, err, ScanWaitUntilMoved)
	}
	if status.Moving {
		return ScanWaitUntilMoved
	}

	d.measured = status.Position
	return ScanCapture
}

func (m *Microscope) scanCapture(d *Data) StateID {
	status, err := m.counter.Status(m.cfg.LockTimeout)
	if err != nil {
		return m.fault(d, err, ScanCapture)
	}
	if err := m.counter.Acquire(); err != nil {
		return m.fault(d, err, ScanCapture)
	}

	d.sequence = status.Sequence
	return ScanWaitUntilCaptured
}

func (m *Microscope) scanWaitUntilCaptured(d *Data) StateID {
	status, err := m.counter.Status(m.cfg.LockTimeout)
	if err != nil {
		return m.fault(d, err, ScanWaitUntilCaptured)
	}
	if status.Acquiring || status.Sequence <= d.sequence {
		return ScanWaitUntilCaptured
	}

	d.lastRate = status.Rate
	if ctx := m.machine.Context(); ctx == m.scanCtx || ctx == m.sampleScanCtx {
		r := ScanResult{Target: d.target, Measured: d.measured, Rate: status.Rate}
		d.appendScanResult(r)
		if ctx == m.sampleScanCtx {
			d.cellScan = append(d.cellScan, r)
		}
		m.emit(EventScanPoint, observability.LevelVerbose, map[string]any{
			"position": d.measured.String(),
			"rate":     status.Rate,
		})
	}

	d.positions = d.positions[1:]
	return ScanStep
}

func (m *Microscope) scanFinished(d *Data) StateID {
	d.setMessage(fmt.Sprintf("scan finished: %d points", len(m.ScanResults())))
	return Unbound
}

// Optimization

func (m *Microscope) optimizationInit(d *Data) StateID {
	if d.bridge == nil {
		minimizer, err := m.factory(toPoint(d.optStart), m.cfg.Optimization)
		if err != nil {
			m.finishOptimization(d, bridge.Result{Outcome: bridge.Failed, Err: err})
			return OptimizationFinished
		}
		d.bridge = bridge.New(minimizer,
			bridge.WithName(m.cfg.Name+".optimizer"),
			bridge.WithObserver(m.observer),
			bridge.WithMetrics(m.metrics),
		)
		d.optSteps = 0
		d.optEvaluations = 0
		d.awaitingFeedback = false
		d.pending = nil
	}

	if err := d.bridge.Renew(); err != nil {
		return m.abandonOptimization(d, err)
	}
	if err := d.bridge.Start(); err != nil {
		return m.abandonOptimization(d, err)
	}
	return OptimizationWait
}

func (m *Microscope) optimizationInitSubStep(d *Data) StateID {
	if err := d.bridge.Renew(); err != nil {
		return m.abandonOptimization(d, err)
	}
	return OptimizationWait
}

func (m *Microscope) optimizationWait(d *Data) StateID {
	if point, ok := d.bridge.TrySample(); ok {
		d.awaitingFeedback = true
		d.positions = []instrument.Position{toPosition(point)}
		return Unbound
	}
	if result, ok := d.bridge.Poll(); ok {
		d.pending = &result
		return OptimizationStep
	}
	return OptimizationWait
}

func (m *Microscope) optimizationStep(d *Data) StateID {
	if d.awaitingFeedback {
		d.awaitingFeedback = false
		if err := d.bridge.Feedback(-d.lastRate); err != nil {
			return m.abandonOptimization(d, err)
		}
	}

	result := d.pending
	d.pending = nil
	if result == nil {
		if r, ok := d.bridge.Poll(); ok {
			result = &r
		}
	}
	if result == nil {
		return OptimizationInitSubStep
	}

	d.optSteps++
	d.optEvaluations += result.Evaluations
	if d.optSteps == m.cfg.Optimization.WarnSteps+1 {
		msg := fmt.Sprintf("optimization exceeded %d iterations", m.cfg.Optimization.WarnSteps)
		d.setMessage(msg)
		m.emit(EventWarning, observability.LevelWarning, map[string]any{"message": msg})
	}

	if result.Outcome == bridge.NextStep {
		return OptimizationInit
	}
	m.finishOptimization(d, *result)
	return OptimizationFinished
}

func (m *Microscope) optimizationFinished(*Data) StateID {
	return Unbound
}

// abandonOptimization releases a bridge that can no longer be driven and
// records err as the run's failure.
func (m *Microscope) abandonOptimization(d *Data, err error) StateID {
	if abortErr := d.bridge.Abort(m.cfg.Optimization.AbortTimeout); abortErr != nil {
		err = errors.Join(err, abortErr)
	}
	m.finishOptimization(d, bridge.Result{Outcome: bridge.Failed, Err: err})
	return OptimizationFinished
}

// finishOptimization records the run's result and releases its bridge.
func (m *Microscope) finishOptimization(d *Data, r bridge.Result) {
	res := OptimizationResult{
		Outcome:     r.Outcome,
		Err:         r.Err,
		Position:    toPosition(r.Point),
		Rate:        -r.Value,
		Steps:       d.optSteps,
		Evaluations: d.optEvaluations,
	}
	if d.bridge != nil {
		res.BridgeID = d.bridge.ID()
	}
	if r.Err != nil {
		res.Error = r.Err.Error()
	}
	if r.Err != nil || len(r.Point) < 3 {
		res.Position = d.optStart
		res.Rate = 0
	}
	d.setOptimization(res)
	d.bridge = nil
	d.awaitingFeedback = false
	d.pending = nil

	level := observability.LevelInfo
	data := map[string]any{
		"outcome":     res.Outcome.String(),
		"position":    res.Position.String(),
		"rate":        res.Rate,
		"evaluations": res.Evaluations,
	}
	if res.Err != nil {
		level = observability.LevelWarning
		data["error"] = res.Error
	}
	m.emit(EventOptimizationFinished, level, data)
}

// Waiting

func (m *Microscope) waiting(d *Data) StateID {
	if time.Now().Before(d.waitUntil) {
		return Waiting
	}
	status, err := m.stage.Status(m.cfg.LockTimeout)
	if err != nil {
		return m.fault(d, err, Waiting)
	}
	if status.Moving {
		return Waiting
	}
	return WaitingFinished
}

func (m *Microscope) waitingFinished(*Data) StateID {
	return Unbound
}

// Characterization

func (m *Microscope) characterizationStep(d *Data) StateID {
	idx, ok := d.nextEmitter()
	if !ok {
		return CharacterizationFinished
	}

	d.emitter = idx
	d.attempts = 0
	d.updateEmitter(idx, func(e *EmitterResult) { e.State = EmitterCharacterizing })
	return CharacterizationGotoEmitter
}

func (m *Microscope) characterizationGotoEmitter(d *Data) StateID {
	var target instrument.Position
	d.updateEmitter(d.emitter, func(e *EmitterResult) { target = e.Position })

	if err := m.stage.MoveTo(target); err != nil {
		return m.fault(d, err, CharacterizationGotoEmitter)
	}

	d.optStart = target
	d.bridge = nil
	d.waitUntil = time.Now().Add(m.cfg.Characterization.Settle)
	return Waiting
}

func (m *Microscope) characterizationOptimizationFinished(d *Data) StateID {
	res, _ := d.lastOptimization()
	d.attempts++

	if res.Outcome == bridge.Finished && res.Err == nil {
		d.updateEmitter(d.emitter, func(e *EmitterResult) {
			e.Optimized = res.Position
			e.Rate = res.Rate
			e.Attempts = d.attempts
		})
		if m.correlationEnabled() {
			d.target = res.Position
			return HBTGoto
		}
		return m.finishEmitter(d, nil)
	}

	if d.attempts < m.cfg.Characterization.Attempts {
		d.updateEmitter(d.emitter, func(e *EmitterResult) { e.Attempts = d.attempts })
		return CharacterizationGotoEmitter
	}

	d.updateEmitter(d.emitter, func(e *EmitterResult) {
		e.State = EmitterFailed
		e.Attempts = d.attempts
	})
	m.emit(EventEmitterFinished, observability.LevelWarning, map[string]any{
		"emitter":  d.emitter,
		"attempts": d.attempts,
		"error":    fmt.Sprint(res.Err),
	})
	return CharacterizationStep
}

func (m *Microscope) characterizationHBTFinished(d *Data) StateID {
	res, ok := d.lastCorrelation()
	if !ok {
		return m.finishEmitter(d, nil)
	}
	res.Histogram = nil
	return m.finishEmitter(d, &res)
}

func (m *Microscope) finishEmitter(d *Data, correlation *CorrelationResult) StateID {
	var e EmitterResult
	d.updateEmitter(d.emitter, func(r *EmitterResult) {
		r.State = EmitterFinished
		r.Correlation = correlation
		e = *r
	})

	data := map[string]any{
		"emitter":  d.emitter,
		"position": e.Optimized.String(),
		"rate":     e.Rate,
	}
	if correlation != nil {
		data["g2_zero"] = correlation.G2Zero
	}
	m.emit(EventEmitterFinished, observability.LevelInfo, data)
	return CharacterizationStep
}

func (m *Microscope) characterizationFinished(d *Data) StateID {
	d.setMessage("characterization finished")
	return Unbound
}

func (m *Microscope) correlationEnabled() bool {
	return m.correlator != nil && !m.cfg.Characterization.SkipCorrelation
}

// Photon correlation

// maxQueuedReads bounds the integration chunks queued on the correlator.
const maxQueuedReads = 10

func (m *Microscope) hbtGoto(d *Data) StateID {
	if err := m.stage.MoveTo(d.target); err != nil {
		return m.fault(d, err, HBTGoto)
	}
	return HBTBegin
}

func (m *Microscope) hbtBegin(d *Data) StateID {
	status, err := m.stage.Status(m.cfg.LockTimeout)
	if err != nil {
		return m.fault(d, err, HBTBegin)
	}
	if status.Moving {
		return HBTBegin
	}

	d.measured = status.Position
	if err := m.correlator.StartCorrelation(m.cfg.Correlation.BinWidth, m.cfg.Correlation.Bins); err != nil {
		return m.fault(d, err, HBTBegin)
	}
	d.correlating = true
	return HBTWaitForInit
}

func (m *Microscope) hbtWaitForInit(d *Data) StateID {
	status, err := m.correlator.CorrelationStatus(m.cfg.LockTimeout)
	if err != nil {
		return m.fault(d, err, HBTWaitForInit)
	}
	if !status.Running || status.Pending > 0 {
		return HBTWaitForInit
	}
	return HBTAcquiring
}

func (m *Microscope) hbtAcquiring(d *Data) StateID {
	status, err := m.correlator.CorrelationStatus(m.cfg.LockTimeout)
	if err != nil {
		return m.fault(d, err, HBTAcquiring)
	}

	if status.IntegrationTime < m.cfg.Correlation.Integration {
		if status.Pending < maxQueuedReads {
			if err := m.correlator.ReadCorrelation(); err != nil {
				return m.fault(d, err, HBTAcquiring)
			}
		}
		return HBTAcquiring
	}

	if err := m.correlator.StopCorrelation(); err != nil {
		return m.fault(d, err, HBTAcquiring)
	}
	d.correlating = false

	res := CorrelationResult{
		Position:        d.measured,
		G2Zero:          status.G2Zero(),
		IntegrationTime: status.IntegrationTime,
		Events:          status.Events,
		Histogram:       status.Histogram,
	}
	d.setCorrelation(res)
	m.emit(EventCorrelationFinished, observability.LevelInfo, map[string]any{
		"position":    res.Position.String(),
		"g2_zero":     res.G2Zero,
		"integration": res.IntegrationTime.String(),
		"events":      res.Events,
	})
	return HBTFinished
}

func (m *Microscope) hbtFinished(*Data) StateID {
	return Unbound
}

// Sample

func (m *Microscope) sampleStep(d *Data) StateID {
	if d.cell >= len(d.cells) {
		return SampleFinished
	}

	cell := d.cells[d.cell]
	positions, err := cell.Positions()
	if err != nil {
		d.setMessage(fmt.Sprintf("cell %d skipped: %v", d.cell+1, err))
		d.cell++
		return SampleStep
	}

	d.positions = positions
	d.cellScan = nil
	m.machine.SetContext(m.sampleScanCtx)
	m.emit(EventSampleCell, observability.LevelInfo, map[string]any{
		"cell":   d.cell + 1,
		"cells":  len(d.cells),
		"center": cell.Center.String(),
		"points": len(positions),
	})
	return ScanStep
}

func (m *Microscope) sampleFindEmitters(d *Data) StateID {
	if err := m.leave(m.sampleScanCtx); err != nil {
		return m.fault(d, err, SampleFinished)
	}

	found := FindEmitters(d.cellScan, m.cfg.Sample.Threshold, m.cfg.Sample.Separation)
	m.emit(EventEmittersFound, observability.LevelInfo, map[string]any{
		"cell":     d.cell + 1,
		"emitters": len(found),
	})
	if len(found) == 0 {
		return SampleAdvanceCell
	}

	d.mu.Lock()
	for _, p := range found {
		d.emitters = append(d.emitters, EmitterResult{Position: p, Cell: d.cell + 1})
	}
	d.mu.Unlock()
	d.emitter = -1
	d.bridge = nil

	m.machine.SetContext(m.sampleCharacterizationCtx)
	return CharacterizationStep
}

func (m *Microscope) sampleAdvanceCell(d *Data) StateID {
	if err := m.leave(m.sampleCharacterizationCtx); err != nil {
		return m.fault(d, err, SampleFinished)
	}
	d.cell++
	return SampleStep
}

func (m *Microscope) sampleFinished(d *Data) StateID {
	d.mu.Lock()
	emitters := len(d.emitters)
	d.mu.Unlock()
	d.setMessage(fmt.Sprintf("sample characterization finished: %d emitters in %d cells", emitters, len(d.cells)))
	return Unbound
}

// leave pops ctx if it is the active context.
func (m *Microscope) leave(ctx *machine.Context[StateID]) error {
	if m.machine.Context() != ctx {
		return nil
	}
	return m.machine.ResetContext()
}
