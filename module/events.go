package module

import "github.com/tailored-agentic-units/labkernel/observability"

const (
	EventStart        observability.EventType = "module.start"
	EventStop         observability.EventType = "module.stop"
	EventWarning      observability.EventType = "module.warning"
	EventHandlerError observability.EventType = "module.event.error"
	EventError        observability.EventType = "module.error"
)
