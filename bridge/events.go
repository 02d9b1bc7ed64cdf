package bridge

import "github.com/tailored-agentic-units/labkernel/observability"

const (
	EventStart     observability.EventType = "bridge.start"
	EventSample    observability.EventType = "bridge.sample"
	EventFeedback  observability.EventType = "bridge.feedback"
	EventIteration observability.EventType = "bridge.iteration"
	EventAbort     observability.EventType = "bridge.abort"
)
