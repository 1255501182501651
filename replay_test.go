package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// rampGrid builds a 10x10 input with input[i][j] = i+j, convenient because
// window sums have a closed form.
func rampGrid() *mat.Dense {
	g := mat.NewDense(10, 10, nil)
	for i := 0; i < 10; i++ {
		for j := 0; j < 10; j++ {
			g.Set(i, j, float64(i+j))
		}
	}
	return g
}

func onesKernel(k int) *mat.Dense {
	data := make([]float64, k*k)
	for i := range data {
		data[i] = 1
	}
	return mat.NewDense(k, k, data)
}

func TestReplayTotalSteps(t *testing.T) {
	e, err := NewReplayEngine(rampGrid(), onesKernel(5), 0, true)
	require.NoError(t, err)

	rows, cols := e.OutputDims()
	assert.Equal(t, 6, rows)
	assert.Equal(t, 6, cols)
	assert.Equal(t, 36, e.TotalSteps())
}

func TestReplayRejectsOversizedKernel(t *testing.T) {
	_, err := NewReplayEngine(mat.NewDense(4, 4, nil), onesKernel(5), 0, true)
	assert.Error(t, err)
}

func TestReplayAdvanceSaturates(t *testing.T) {
	e, err := NewReplayEngine(rampGrid(), onesKernel(5), 0, true)
	require.NoError(t, err)

	for i := 0; i < e.TotalSteps()-1; i++ {
		assert.True(t, e.Advance(), "advance %d", i)
	}
	assert.Equal(t, e.TotalSteps()-1, e.Step())
	assert.True(t, e.Snapshot().Done)

	// Idempotent at the terminal position.
	assert.False(t, e.Advance())
	assert.Equal(t, e.TotalSteps()-1, e.Step())

	e.Reset()
	assert.Equal(t, 0, e.Step())
}

func TestReplayValuesMatchDirectRecomputation(t *testing.T) {
	const bias = 0.5
	e, err := NewReplayEngine(rampGrid(), onesKernel(5), bias, true)
	require.NoError(t, err)

	// Window sum over a 5x5 all-ones kernel anchored at (r, c) on the ramp
	// grid: 5*sum(r..r+4) + 5*sum(c..c+4).
	want := func(r, c int) float64 {
		sum := 0.0
		for i := r; i < r+5; i++ {
			sum += 5 * float64(i)
		}
		for j := c; j < c+5; j++ {
			sum += 5 * float64(j)
		}
		return sum + bias
	}

	// Explicit expectations: top-left, middle, bottom-right.
	assert.InDelta(t, 100.5, e.ValueAt(0, 0), 1e-9)
	assert.InDelta(t, 225.5, e.ValueAt(2, 3), 1e-9)
	assert.InDelta(t, 350.5, e.ValueAt(5, 5), 1e-9)

	for r := 0; r < 6; r++ {
		for c := 0; c < 6; c++ {
			assert.InDelta(t, want(r, c), e.ValueAt(r, c), 1e-9, "position (%d,%d)", r, c)
		}
	}
}

func TestReplayReLUClampsNegative(t *testing.T) {
	relu, err := NewReplayEngine(rampGrid(), mat.NewDense(5, 5, nil), -1, true)
	require.NoError(t, err)
	assert.Equal(t, 0.0, relu.ValueAt(0, 0))

	identity, err := NewReplayEngine(rampGrid(), mat.NewDense(5, 5, nil), -1, false)
	require.NoError(t, err)
	assert.Equal(t, -1.0, identity.ValueAt(0, 0))
}

func TestReplayVisitedRecomputesPrefix(t *testing.T) {
	e, err := NewReplayEngine(rampGrid(), onesKernel(5), 0, true)
	require.NoError(t, err)

	e.Advance()
	e.Advance()
	values := e.Visited()
	require.Len(t, values, 3)
	for s, v := range values {
		r, c := e.Position(s)
		assert.Equal(t, e.ValueAt(r, c), v)
	}
}

func TestReplaySnapshotState(t *testing.T) {
	e, err := NewReplayEngine(rampGrid(), onesKernel(5), 0.25, true)
	require.NoError(t, err)
	e.Advance()

	snap := e.Snapshot()
	assert.Equal(t, 1, snap.Step)
	assert.Equal(t, 0, snap.Row)
	assert.Equal(t, 1, snap.Col)
	assert.Equal(t, 36, snap.TotalSteps)
	assert.Equal(t, 0.25, snap.Bias)
	assert.Len(t, snap.Values, 2)
	assert.Len(t, snap.Grid, 10)
	assert.Len(t, snap.Kernel, 5)
	assert.False(t, snap.Auto)
	assert.False(t, snap.Done)
}

func TestReplayAutoAdvanceStopsAtTerminal(t *testing.T) {
	// 6x6 input, 5x5 kernel: 4 steps, so the fast interval finishes the
	// run well inside the wait budget.
	input := mat.NewDense(6, 6, nil)
	e, err := NewReplayEngine(input, onesKernel(5), 0, true)
	require.NoError(t, err)

	require.NoError(t, e.StartAuto(ReplayFast))
	assert.True(t, e.Auto())

	require.Eventually(t, func() bool {
		return e.Step() == e.TotalSteps()-1 && !e.Auto()
	}, 5*time.Second, 20*time.Millisecond, "auto-advance should pause itself at the terminal step")

	// Starting again at the terminal is a no-op.
	require.NoError(t, e.StartAuto(ReplayFast))
	assert.False(t, e.Auto())
}

func TestReplayAutoAdvanceRejectsUnknownSpeed(t *testing.T) {
	e, err := NewReplayEngine(rampGrid(), onesKernel(5), 0, true)
	require.NoError(t, err)
	assert.Error(t, e.StartAuto(ReplaySpeed("warp")))
}

func TestReplayPauseAndResetCancelAuto(t *testing.T) {
	e, err := NewReplayEngine(rampGrid(), onesKernel(5), 0, true)
	require.NoError(t, err)

	require.NoError(t, e.StartAuto(ReplaySlow))
	e.Pause()
	assert.False(t, e.Auto())
	step := e.Step()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, step, e.Step(), "paused engine must not move")

	require.NoError(t, e.StartAuto(ReplaySlow))
	e.Reset()
	assert.False(t, e.Auto())
	assert.Equal(t, 0, e.Step())
}
