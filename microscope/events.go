package microscope

import "github.com/tailored-agentic-units/labkernel/observability"

const (
	EventProcedureStart       observability.EventType = "microscope.procedure.start"
	EventProcedureStop        observability.EventType = "microscope.procedure.stop"
	EventScanPoint            observability.EventType = "microscope.scan.point"
	EventOptimizationFinished observability.EventType = "microscope.optimization.finished"
	EventEmitterFinished      observability.EventType = "microscope.emitter.finished"
	EventCorrelationFinished  observability.EventType = "microscope.correlation.finished"
	EventSampleCell           observability.EventType = "microscope.sample.cell"
	EventEmittersFound        observability.EventType = "microscope.sample.emitters"
	EventWarning              observability.EventType = "microscope.warning"
)
