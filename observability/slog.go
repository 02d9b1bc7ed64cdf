package observability

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"
)

// SlogObserver writes events to a slog.Logger. The event type is the log
// message and the record carries the event's own timestamp. A run_id in the
// event data stays top-level; the rest is nested in a group named after the
// emitting subsystem, the part of the type before the first dot, so
// "machine.transition" logs machine.from and machine.to.
const runIDKey = "run_id"

type SlogObserver struct {
	logger *slog.Logger
}

// NewSlogObserver creates a SlogObserver. The attrs, such as a run ID, are
// added to every record.
func NewSlogObserver(logger *slog.Logger, attrs ...slog.Attr) *SlogObserver {
	if len(attrs) > 0 {
		args := make([]any, len(attrs))
		for i, a := range attrs {
			args[i] = a
		}
		logger = logger.With(args...)
	}
	return &SlogObserver{logger: logger}
}

func (o *SlogObserver) OnEvent(ctx context.Context, event Event) {
	level := event.Level.SlogLevel()
	if !o.logger.Enabled(ctx, level) {
		return
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	record := slog.NewRecord(ts, level, string(event.Type), 0)
	record.AddAttrs(slog.String("source", event.Source))
	if id, ok := event.Data[runIDKey]; ok {
		record.AddAttrs(slog.Any(runIDKey, id))
	}

	keys := make([]string, 0, len(event.Data))
	for k := range event.Data {
		if k != runIDKey {
			keys = append(keys, k)
		}
	}
	if len(keys) > 0 {
		slices.Sort(keys)

		fields := make([]any, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, slog.Any(k, event.Data[k]))
		}
		record.AddAttrs(slog.Group(subsystem(event.Type), fields...))
	}

	_ = o.logger.Handler().Handle(ctx, record)
}

// subsystem returns the part of an event type before the first dot.
func subsystem(t EventType) string {
	s, _, _ := strings.Cut(string(t), ".")
	return s
}
