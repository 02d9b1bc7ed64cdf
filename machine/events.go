package machine

import "github.com/tailored-agentic-units/labkernel/observability"

const (
	EventTransition  observability.EventType = "machine.transition"
	EventFinal       observability.EventType = "machine.final"
	EventForced      observability.EventType = "machine.forced"
	EventContextPush observability.EventType = "machine.context.push"
	EventContextPop  observability.EventType = "machine.context.pop"
	EventError       observability.EventType = "machine.error"
)
