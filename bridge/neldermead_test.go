package bridge_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tailored-agentic-units/labkernel/bridge"
)

func TestNewNelderMead_Validation(t *testing.T) {
	tests := []struct {
		name    string
		initial bridge.Point
		steps   []float64
	}{
		{name: "empty initial", initial: nil, steps: nil},
		{name: "step count mismatch", initial: bridge.Point{0, 0}, steps: []float64{1}},
		{name: "non-positive step", initial: bridge.Point{0}, steps: []float64{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := bridge.NewNelderMead(tt.initial, bridge.NelderMeadConfig{Steps: tt.steps})
			assert.Error(t, err)
		})
	}
}

// search calls Iterate until the search ends and returns the final outcome
// together with the number of calls.
func search(t *testing.T, nm *bridge.NelderMead, f bridge.Objective) (bridge.Outcome, int, error) {
	t.Helper()
	for calls := 1; calls <= 10000; calls++ {
		outcome, err := nm.Iterate(f)
		if outcome != bridge.NextStep {
			return outcome, calls, err
		}
		require.NoError(t, err)
	}
	t.Fatal("search did not end")
	return bridge.Failed, 0, nil
}

func TestNelderMead_Converges(t *testing.T) {
	nm, err := bridge.NewNelderMead(bridge.Point{10, -4, 2}, bridge.NelderMeadConfig{
		Steps:         []float64{1, 1, 0.5},
		SizeTolerance: 1e-4,
		MaxIterations: 5000,
	})
	require.NoError(t, err)

	var first []float64
	outcome, calls, err := search(t, nm, func(x []float64) float64 {
		if first == nil {
			first = append([]float64(nil), x...)
		}
		return (x[0]-12)*(x[0]-12) + (x[1]+3)*(x[1]+3) + (x[2]-2)*(x[2]-2)
	})
	require.NoError(t, err)
	assert.Equal(t, bridge.Finished, outcome)
	assert.Greater(t, calls, 1)

	assert.Equal(t, []float64{10, -4, 2}, first, "search starts at the initial point")
	assert.Less(t, nm.Size(), 1e-4)

	best, value := nm.Location()
	assert.InDelta(t, 12, best[0], 1e-2)
	assert.InDelta(t, -3, best[1], 1e-2)
	assert.InDelta(t, 2, best[2], 1e-2)
	assert.Less(t, value, 1e-3)
}

func TestNelderMead_OneIterationPerCall(t *testing.T) {
	nm, err := bridge.NewNelderMead(bridge.Point{3, 3}, bridge.NelderMeadConfig{
		Steps:         []float64{1, 1},
		SizeTolerance: 1e-6,
	})
	require.NoError(t, err)

	evaluations := 0
	f := func(x []float64) float64 {
		evaluations++
		return x[0]*x[0] + x[1]*x[1]
	}

	outcome, err := nm.Iterate(f)
	require.NoError(t, err)
	assert.Equal(t, bridge.NextStep, outcome)
	assert.Equal(t, 3, evaluations, "first call evaluates the start point and builds the simplex")
	assert.InDelta(t, 1, nm.Size(), 0.5)

	_, before := nm.Location()
	evaluations = 0
	outcome, err = nm.Iterate(f)
	require.NoError(t, err)
	assert.Equal(t, bridge.NextStep, outcome)
	assert.GreaterOrEqual(t, evaluations, 1)
	assert.LessOrEqual(t, evaluations, 4, "one reflection step plus at most a shrink")

	_, after := nm.Location()
	assert.LessOrEqual(t, after, before)

	require.NoError(t, nm.Close())
}

func TestNelderMead_SizeShrinks(t *testing.T) {
	nm, err := bridge.NewNelderMead(bridge.Point{0.2, -0.1}, bridge.NelderMeadConfig{
		Steps:         []float64{0.5, 0.5},
		SizeTolerance: 1e-3,
		MaxIterations: 1000,
	})
	require.NoError(t, err)

	f := func(x []float64) float64 { return x[0]*x[0] + 2*x[1]*x[1] }

	_, err = nm.Iterate(f)
	require.NoError(t, err)
	initial := nm.Size()

	outcome, _, err := search(t, nm, f)
	require.NoError(t, err)
	assert.Equal(t, bridge.Finished, outcome)
	assert.Less(t, nm.Size(), initial)
	assert.Less(t, nm.Size(), 1e-3)
}

func TestNelderMead_AbandonedEvaluation(t *testing.T) {
	nm, err := bridge.NewNelderMead(bridge.Point{0, 0}, bridge.DefaultNelderMeadConfig(2))
	require.NoError(t, err)

	calls := 0
	outcome, _, err := search(t, nm, func(x []float64) float64 {
		calls++
		if calls > 5 {
			return math.NaN()
		}
		return (x[0]-4)*(x[0]-4) + x[1]*x[1]
	})

	assert.Equal(t, bridge.Failed, outcome)
	assert.ErrorIs(t, err, bridge.ErrAborted)
	assert.Equal(t, 6, calls)

	outcome, err = nm.Iterate(func([]float64) float64 { return 0 })
	assert.Equal(t, bridge.Failed, outcome)
	assert.ErrorIs(t, err, bridge.ErrSearchClosed)
}

func TestNelderMead_IterationLimit(t *testing.T) {
	cfg := bridge.DefaultNelderMeadConfig(2)
	cfg.MaxIterations = 3
	cfg.SizeTolerance = 0
	cfg.StallIterations = 0

	nm, err := bridge.NewNelderMead(bridge.Point{50, 50}, cfg)
	require.NoError(t, err)

	outcome, calls, err := search(t, nm, func(x []float64) float64 {
		return x[0]*x[0] + x[1]*x[1]
	})
	assert.Equal(t, bridge.Failed, outcome)
	assert.ErrorIs(t, err, bridge.ErrNotConverged)
	assert.Equal(t, 4, calls, "simplex build plus three iterations")
}

func TestNelderMead_EvaluationLimit(t *testing.T) {
	cfg := bridge.DefaultNelderMeadConfig(2)
	cfg.MaxEvaluations = 7
	cfg.SizeTolerance = 0
	cfg.StallIterations = 0
	cfg.MaxIterations = 0

	nm, err := bridge.NewNelderMead(bridge.Point{50, 50}, cfg)
	require.NoError(t, err)

	evaluations := 0
	outcome, _, err := search(t, nm, func(x []float64) float64 {
		evaluations++
		return x[0]*x[0] + x[1]*x[1]
	})
	assert.Equal(t, bridge.Failed, outcome)
	assert.ErrorIs(t, err, bridge.ErrNotConverged)
	assert.Equal(t, 7, evaluations)
}

func TestNelderMead_CloseBeforeStart(t *testing.T) {
	nm, err := bridge.NewNelderMead(bridge.Point{0}, bridge.DefaultNelderMeadConfig(1))
	require.NoError(t, err)

	require.NoError(t, nm.Close())
	_, err = nm.Iterate(func([]float64) float64 { return 0 })
	assert.ErrorIs(t, err, bridge.ErrSearchClosed)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "next_step", bridge.NextStep.String())
	assert.Equal(t, "finished", bridge.Finished.String())
	assert.Equal(t, "failed", bridge.Failed.String())
}
