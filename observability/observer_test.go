package observability_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tailored-agentic-units/labkernel/bridge"
	"github.com/tailored-agentic-units/labkernel/machine"
	"github.com/tailored-agentic-units/labkernel/observability"
)

type captureObserver struct {
	mu     sync.Mutex
	events []observability.Event
}

func (c *captureObserver) OnEvent(_ context.Context, event observability.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureObserver) types() []observability.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]observability.EventType, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

type lamp struct{}

// newLamp builds a two-state machine that toggles on every tick.
func newLamp(t *testing.T, obs observability.Observer) *machine.Machine[string, *lamp, *int] {
	t.Helper()

	toggle := func(to string) machine.TransitionFunc[string, *lamp, *int] {
		return func(_ *lamp, ticks *int) string {
			*ticks++
			return to
		}
	}
	m, err := machine.New("", "off", []machine.State[string, *lamp, *int]{
		machine.NewState("off", toggle("on"), "Off"),
		machine.NewState("on", toggle("off"), "On"),
	}, machine.WithName("test.lamp"), machine.WithObserver(obs))
	require.NoError(t, err)
	return m
}

// jsonLines decodes one JSON log record per line.
func jsonLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var records []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	return records
}

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level observability.Level
		want  string
	}{
		{level: 1, want: "TRACE"},
		{level: observability.LevelVerbose, want: "DEBUG"},
		{level: observability.LevelInfo, want: "INFO"},
		{level: observability.LevelWarning, want: "WARN"},
		{level: observability.LevelError, want: "ERROR"},
		{level: 21, want: "FATAL"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.String(), "level %d", tt.level)
	}
}

func TestLevel_SlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, observability.LevelVerbose.SlogLevel())
	assert.Equal(t, slog.LevelInfo, observability.LevelInfo.SlogLevel())
	assert.Equal(t, slog.LevelWarn, observability.LevelWarning.SlogLevel())
	assert.Equal(t, slog.LevelError, observability.LevelError.SlogLevel())

	// Values line up with the OTel severity ranges.
	assert.EqualValues(t, 5, observability.LevelVerbose)
	assert.EqualValues(t, 9, observability.LevelInfo)
	assert.EqualValues(t, 13, observability.LevelWarning)
	assert.EqualValues(t, 17, observability.LevelError)
}

func TestMultiObserver_MachineEvents(t *testing.T) {
	first, second := &captureObserver{}, &captureObserver{}
	m := newLamp(t, observability.NewMultiObserver(nil, first, second, nil))

	var ticks int
	m.SetContext(machine.NewContext(map[string]string{}, "Lighting..."))
	m.Invoke(&lamp{}, &ticks)
	m.Invoke(&lamp{}, &ticks)
	require.NoError(t, m.ResetContext())

	want := []observability.EventType{
		machine.EventContextPush,
		machine.EventTransition,
		machine.EventTransition,
		machine.EventContextPop,
	}
	assert.Equal(t, want, first.types())
	assert.Equal(t, want, second.types())
	assert.Equal(t, 2, ticks)
}

func TestNoOpObserver_MachineRuns(t *testing.T) {
	m := newLamp(t, observability.NoOpObserver{})

	var ticks int
	m.Invoke(&lamp{}, &ticks)
	assert.Equal(t, "on", m.Current())
}

func TestLevelFilter(t *testing.T) {
	capture := &captureObserver{}
	m := newLamp(t, observability.NewLevelFilter(observability.LevelInfo, capture))

	var ticks int
	m.Invoke(&lamp{}, &ticks)
	require.NoError(t, m.SetCurrentState("off"))

	// Transitions are verbose; a forced jump is reported at info.
	assert.Equal(t, []observability.EventType{machine.EventForced}, capture.types())
}

func TestSlogObserver_GroupsMachineData(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	obs := observability.NewSlogObserver(logger, slog.String("procedure", "lamp"))
	m := newLamp(t, obs)

	var ticks int
	m.Invoke(&lamp{}, &ticks)

	records := jsonLines(t, &buf)
	require.Len(t, records, 1)
	rec := records[0]

	assert.Equal(t, "machine.transition", rec["msg"])
	assert.Equal(t, "DEBUG", rec["level"])
	assert.Equal(t, "test.lamp", rec["source"])
	assert.Equal(t, "lamp", rec["procedure"])

	group, ok := rec["machine"].(map[string]any)
	require.True(t, ok, "machine group missing from %v", rec)
	assert.Equal(t, "off", group["from"])
	assert.Equal(t, "on", group["to"])
	assert.Equal(t, false, group["resolved"])
}

func TestSlogObserver_BridgeRunID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	b := bridge.New(bridge.Func(func(f bridge.Objective) (bridge.Outcome, error) {
		f(bridge.Point{1, 2})
		return bridge.Finished, nil
	}), bridge.WithName("test.optimizer"), bridge.WithObserver(observability.NewSlogObserver(logger)))

	require.NoError(t, b.Renew())
	require.NoError(t, b.Start())
	require.Eventually(t, func() bool {
		_, ok := b.TrySample()
		return ok
	}, time.Second, time.Millisecond)
	require.NoError(t, b.Feedback(2.5))

	var result bridge.Result
	require.Eventually(t, func() bool {
		r, ok := b.Poll()
		result = r
		return ok
	}, time.Second, time.Millisecond)
	require.Equal(t, bridge.Finished, result.Outcome)

	records := jsonLines(t, &buf)
	require.NotEmpty(t, records)

	var feedback map[string]any
	for _, rec := range records {
		assert.Equal(t, b.ID(), rec["run_id"], "record %v", rec)
		assert.Equal(t, "test.optimizer", rec["source"])
		if rec["msg"] == string(bridge.EventFeedback) {
			feedback = rec
		}
	}
	require.NotNil(t, feedback)

	group, ok := feedback["bridge"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 2.5, group["score"])
	assert.NotContains(t, group, "run_id")
}

func TestSlogObserver_KeepsEventTimestamp(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	obs := observability.NewSlogObserver(logger)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	obs.OnEvent(context.Background(), observability.Event{
		Type:      "microscope.scan.point",
		Level:     observability.LevelInfo,
		Timestamp: at,
		Source:    "confocal",
	})
	obs.OnEvent(context.Background(), observability.Event{
		Type:  "machine.transition",
		Level: observability.LevelVerbose,
	})

	records := jsonLines(t, &buf)
	require.Len(t, records, 1, "verbose events are dropped at the info level")

	ts, err := time.Parse(time.RFC3339Nano, records[0]["time"].(string))
	require.NoError(t, err)
	assert.True(t, at.Equal(ts))
	assert.NotContains(t, records[0], "microscope")
}

func TestRegistry(t *testing.T) {
	for _, name := range []string{"noop", "slog"} {
		obs, err := observability.GetObserver(name)
		require.NoError(t, err, name)
		assert.NotNil(t, obs)
	}

	_, err := observability.GetObserver("nonexistent")
	assert.Error(t, err)

	custom := &captureObserver{}
	observability.RegisterObserver("test-custom", custom)
	obs, err := observability.GetObserver("test-custom")
	require.NoError(t, err)

	obs.OnEvent(context.Background(), observability.Event{Type: bridge.EventSample, Level: observability.LevelInfo})
	assert.Equal(t, []observability.EventType{bridge.EventSample}, custom.types())
}
