package observability

import "context"

// NoOpObserver discards events. It is the default observer of the machine,
// the bridge, the module and the microscope.
type NoOpObserver struct{}

func (NoOpObserver) OnEvent(context.Context, Event) {}
