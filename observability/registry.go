package observability

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var (
	observers = map[string]Observer{
		"noop": NoOpObserver{},
		"slog": NewSlogObserver(slog.Default()),
		"otel": NewOTelObserver(otel.Tracer("labkernel")),
	}
	mutex    sync.RWMutex
	promOnce sync.Once
)

// GetObserver returns a registered observer by name.
// Pre-registered observers: "noop" (NoOpObserver), "slog" (default logger)
// and "otel" (global tracer provider). "prometheus" is created on first use
// against the default registerer.
func GetObserver(name string) (Observer, error) {
	if name == "prometheus" {
		promOnce.Do(func() {
			RegisterObserver("prometheus", NewPrometheusObserver(prometheus.DefaultRegisterer))
		})
	}

	mutex.RLock()
	defer mutex.RUnlock()

	obs, exists := observers[name]
	if !exists {
		return nil, fmt.Errorf("unknown observer: %s", name)
	}
	return obs, nil
}

// RegisterObserver adds or replaces a named observer in the global registry.
func RegisterObserver(name string, observer Observer) {
	mutex.Lock()
	defer mutex.Unlock()

	observers[name] = observer
}
