package sim_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tailored-agentic-units/labkernel/instrument"
	"github.com/tailored-agentic-units/labkernel/instrument/sim"
)

func fastConfig() sim.Config {
	cfg := sim.DefaultConfig()
	cfg.Settle = time.Millisecond
	cfg.Exposure = time.Millisecond
	return cfg
}

func TestField_Rate(t *testing.T) {
	f := sim.Field{
		Background: 10,
		Emitters: []sim.Emitter{
			{Position: instrument.Position{X: 1}, Peak: 1000, Sigma: 0.5},
		},
	}

	assert.InDelta(t, 1010, f.Rate(instrument.Position{X: 1}), 1e-9)
	assert.Less(t, f.Rate(instrument.Position{X: 2}), f.Rate(instrument.Position{X: 1.5}))
	assert.InDelta(t, 10, f.Rate(instrument.Position{X: 50}), 1e-6)
}

func TestStage_MoveTo(t *testing.T) {
	cfg := fastConfig()
	cfg.Settle = 50 * time.Millisecond
	stage := sim.NewStage("stage", cfg)
	defer stage.Close(time.Second)

	target := instrument.Position{X: 1, Y: 2, Z: 3}
	require.NoError(t, stage.MoveTo(target))

	st, err := stage.Status(time.Second)
	require.NoError(t, err)
	assert.True(t, st.Moving)

	require.Eventually(t, func() bool {
		st, err := stage.Status(time.Second)
		return err == nil && !st.Moving
	}, time.Second, time.Millisecond)

	st, err = stage.Status(time.Second)
	require.NoError(t, err)
	assert.Equal(t, target, st.Position)

	require.NoError(t, stage.Home(context.Background()))
	st, err = stage.Status(time.Second)
	require.NoError(t, err)
	assert.Equal(t, instrument.Position{}, st.Position)
}

func TestStage_MoveToLockTimeout(t *testing.T) {
	stage := sim.NewStage("stage", fastConfig())
	defer stage.Close(time.Second)

	acc, err := stage.Data().Acquire(time.Second)
	require.NoError(t, err)
	defer acc.Release()

	err = stage.MoveTo(instrument.Position{X: 1})
	assert.True(t, instrument.IsTimeout(err))
}

func TestStage_MoveToClosedQueueClearsMoving(t *testing.T) {
	stage := sim.NewStage("stage", fastConfig())
	require.NoError(t, stage.Close(time.Second))

	err := stage.MoveTo(instrument.Position{X: 1})
	assert.ErrorIs(t, err, instrument.ErrQueueClosed)

	st, err := stage.Status(time.Second)
	require.NoError(t, err)
	assert.False(t, st.Moving)
}

func TestStage_SettleWaitsForDataLock(t *testing.T) {
	cfg := fastConfig()
	cfg.Settle = 20 * time.Millisecond
	stage := sim.NewStage("stage", cfg)
	defer stage.Close(time.Second)

	target := instrument.Position{X: 2}
	require.NoError(t, stage.MoveTo(target))

	// Hold the data well past the lock timeout while the motion settles.
	acc, err := stage.Data().Acquire(time.Second)
	require.NoError(t, err)
	time.Sleep(10 * cfg.LockTimeout)
	assert.True(t, acc.Get().Moving)
	acc.Release()

	require.Eventually(t, func() bool {
		st, err := stage.Status(time.Second)
		return err == nil && !st.Moving && st.Position == target
	}, time.Second, time.Millisecond)
}

func TestCounter_Acquire(t *testing.T) {
	cfg := fastConfig()
	stage := sim.NewStage("stage", cfg)
	defer stage.Close(time.Second)
	counter := sim.NewCounter("counter", stage, cfg)
	defer counter.Close(time.Second)

	emitter := cfg.Field.Emitters[0].Position
	require.NoError(t, stage.MoveTo(emitter))
	require.Eventually(t, func() bool {
		st, err := stage.Status(time.Second)
		return err == nil && !st.Moving
	}, time.Second, time.Millisecond)

	require.NoError(t, counter.Acquire())
	require.Eventually(t, func() bool {
		st, err := counter.Status(time.Second)
		return err == nil && st.Sequence == 1 && !st.Acquiring
	}, time.Second, time.Millisecond)

	st, err := counter.Status(time.Second)
	require.NoError(t, err)
	assert.InDelta(t, cfg.Field.Rate(emitter), st.Rate, 1e-9)
}

func TestCounter_AcquireClosedQueueClearsAcquiring(t *testing.T) {
	cfg := fastConfig()
	stage := sim.NewStage("stage", cfg)
	defer stage.Close(time.Second)
	counter := sim.NewCounter("counter", stage, cfg)
	require.NoError(t, counter.Close(time.Second))

	assert.ErrorIs(t, counter.Acquire(), instrument.ErrQueueClosed)

	st, err := counter.Status(time.Second)
	require.NoError(t, err)
	assert.False(t, st.Acquiring)
}

func TestCounter_Correlation(t *testing.T) {
	cfg := fastConfig()
	stage := sim.NewStage("stage", cfg)
	defer stage.Close(time.Second)
	counter := sim.NewCounter("counter", stage, cfg)
	defer counter.Close(time.Second)

	var _ instrument.Correlator = counter

	emitter := cfg.Field.Emitters[0].Position
	require.NoError(t, stage.MoveTo(emitter))
	require.Eventually(t, func() bool {
		st, err := stage.Status(time.Second)
		return err == nil && !st.Moving
	}, time.Second, time.Millisecond)

	require.Error(t, counter.StartCorrelation(0, 16))
	require.NoError(t, counter.StartCorrelation(500*time.Picosecond, 16))

	for range 3 {
		require.NoError(t, counter.ReadCorrelation())
	}
	require.Eventually(t, func() bool {
		st, err := counter.CorrelationStatus(time.Second)
		return err == nil && st.IntegrationTime == 3*cfg.Exposure
	}, time.Second, time.Millisecond)

	st, err := counter.CorrelationStatus(time.Second)
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Len(t, st.Histogram, 16)
	assert.Greater(t, st.Events, int64(0))

	rho := cfg.Field.Signal(emitter) / cfg.Field.Rate(emitter)
	assert.InDelta(t, 1-rho*rho, st.G2Zero(), 1e-9)
	assert.Less(t, st.G2Zero(), 0.5, "a single emitter is antibunched")
	assert.Greater(t, st.Histogram[0].Value, st.G2Zero())

	require.NoError(t, counter.StopCorrelation())
	require.NoError(t, counter.ReadCorrelation())
	require.Eventually(t, func() bool {
		st, err := counter.CorrelationStatus(time.Second)
		return err == nil && st.Pending == 0
	}, time.Second, time.Millisecond)
	time.Sleep(2 * cfg.Exposure)

	st, err = counter.CorrelationStatus(time.Second)
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.Equal(t, 3*cfg.Exposure, st.IntegrationTime, "stopped correlator does not integrate")
}

func TestCorrelationStatus_G2Zero(t *testing.T) {
	assert.True(t, math.IsNaN(instrument.CorrelationStatus{}.G2Zero()))

	st := instrument.CorrelationStatus{Histogram: []instrument.CorrelationBin{
		{Delay: -time.Nanosecond, Value: 0.8},
		{Delay: 200 * time.Picosecond, Value: 0.3},
		{Delay: time.Nanosecond, Value: 0.8},
	}}
	assert.Equal(t, 0.3, st.G2Zero())
}

func TestConfig_Merge(t *testing.T) {
	cfg := sim.DefaultConfig()
	cfg.Merge(&sim.Config{Exposure: time.Second, Field: sim.Field{Background: 3}})

	assert.Equal(t, time.Second, cfg.Exposure)
	assert.Equal(t, 5*time.Millisecond, cfg.Settle)
	assert.Equal(t, 3.0, cfg.Field.Background)
	assert.Len(t, cfg.Field.Emitters, 1)
}
