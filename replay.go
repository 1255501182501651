package main

import (
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"
)

// ReplaySpeed selects the auto-advance interval.
type ReplaySpeed string

const (
	ReplaySlow   ReplaySpeed = "slow"
	ReplayNormal ReplaySpeed = "normal"
	ReplayFast   ReplaySpeed = "fast"
)

var replayIntervals = map[ReplaySpeed]time.Duration{
	ReplaySlow:   900 * time.Millisecond,
	ReplayNormal: 450 * time.Millisecond,
	ReplayFast:   150 * time.Millisecond,
}

// ReplayEngine re-derives, cell by cell, what one convolution filter
// computes over an extracted input grid. It is deliberately independent of
// the trained model's forward pass: every value is recomputed from the grid,
// kernel and bias so the arithmetic stays inspectable. Valid (no-padding)
// convolution only; steps walk the output positions in row-major order.
type ReplayEngine struct {
	mu     sync.Mutex
	input  *mat.Dense
	kernel *mat.Dense
	bias   float64
	relu   bool

	step int

	auto  bool
	speed ReplaySpeed
	stop  chan struct{}
}

// NewReplayEngine builds an engine over input and kernel. The kernel must
// fit inside the input.
func NewReplayEngine(input, kernel *mat.Dense, bias float64, relu bool) (*ReplayEngine, error) {
	ih, iw := input.Dims()
	kh, kw := kernel.Dims()
	if kh > ih || kw > iw {
		return nil, fmt.Errorf("replay: kernel %dx%d exceeds input %dx%d", kh, kw, ih, iw)
	}
	return &ReplayEngine{input: input, kernel: kernel, bias: bias, relu: relu}, nil
}

// OutputDims returns the valid-convolution output size.
func (e *ReplayEngine) OutputDims() (rows, cols int) {
	ih, iw := e.input.Dims()
	kh, kw := e.kernel.Dims()
	return ih - kh + 1, iw - kw + 1
}

// TotalSteps is the number of output positions.
func (e *ReplayEngine) TotalSteps() int {
	rows, cols := e.OutputDims()
	return rows * cols
}

// Step returns the current step index.
func (e *ReplayEngine) Step() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.step
}

// Position maps a step index to its output row and column.
func (e *ReplayEngine) Position(step int) (row, col int) {
	_, cols := e.OutputDims()
	return step / cols, step % cols
}

// ValueAt recomputes the filter output for one position: the window dot
// product plus bias, through the configured activation. Prior outputs are
// never cached; the grid is small enough that recomputation is free.
func (e *ReplayEngine) ValueAt(row, col int) float64 {
	kh, kw := e.kernel.Dims()
	window := e.input.Slice(row, row+kh, col, col+kw)

	var prod mat.Dense
	prod.MulElem(window, e.kernel)
	v := mat.Sum(&prod) + e.bias
	if e.relu && v < 0 {
		v = 0
	}
	return v
}

// Visited recomputes every output value at or before the current step, in
// row-major order.
func (e *ReplayEngine) Visited() []float64 {
	e.mu.Lock()
	step := e.step
	e.mu.Unlock()

	out := make([]float64, step+1)
	for s := 0; s <= step; s++ {
		r, c := e.Position(s)
		out[s] = e.ValueAt(r, c)
	}
	return out
}

// Advance moves to the next output position. At the terminal (bottom-right)
// position it is a no-op and reports false.
func (e *ReplayEngine) Advance() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.advanceLocked()
}

func (e *ReplayEngine) advanceLocked() bool {
	if e.step >= e.TotalSteps()-1 {
		return false
	}
	e.step++
	return true
}

// Reset returns to the first position and cancels auto-advance.
func (e *ReplayEngine) Reset() {
	e.mu.Lock()
	e.stopAutoLocked()
	e.step = 0
	e.mu.Unlock()
}

// StartAuto begins advancing on a fixed interval. Reaching the terminal
// step pauses the engine by itself. Restarting with a different speed
// replaces the running timer.
func (e *ReplayEngine) StartAuto(speed ReplaySpeed) error {
	interval, ok := replayIntervals[speed]
	if !ok {
		return fmt.Errorf("replay: unknown speed %q", speed)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopAutoLocked()
	if e.step >= e.TotalSteps()-1 {
		return nil // already terminal, nothing to animate
	}

	e.auto = true
	e.speed = speed
	e.stop = make(chan struct{})
	go e.run(interval, e.stop)
	return nil
}

func (e *ReplayEngine) run(interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.mu.Lock()
			if e.stop != stop {
				// Superseded by a restart between tick and lock.
				e.mu.Unlock()
				return
			}
			if !e.advanceLocked() || e.step >= e.TotalSteps()-1 {
				// Terminal: auto-advance stops itself.
				e.auto = false
				e.stop = nil
				e.mu.Unlock()
				return
			}
			e.mu.Unlock()
		}
	}
}

// Pause cancels auto-advance without moving the step.
func (e *ReplayEngine) Pause() {
	e.mu.Lock()
	e.stopAutoLocked()
	e.mu.Unlock()
}

func (e *ReplayEngine) stopAutoLocked() {
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
	e.auto = false
}

// Auto reports whether a timer is currently driving the engine.
func (e *ReplayEngine) Auto() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.auto
}

// ReplaySnapshot is the wire form of the engine state.
type ReplaySnapshot struct {
	Grid       [][]float64 `json:"grid"`
	Kernel     [][]float64 `json:"kernel"`
	Bias       float64     `json:"bias"`
	Step       int         `json:"step"`
	TotalSteps int         `json:"total_steps"`
	Row        int         `json:"row"`
	Col        int         `json:"col"`
	OutputRows int         `json:"output_rows"`
	OutputCols int         `json:"output_cols"`
	Values     []float64   `json:"values"` // outputs for all visited positions
	Auto       bool        `json:"auto"`
	Speed      string      `json:"speed,omitempty"`
	Done       bool        `json:"done"`
}

// Snapshot captures the engine state for the API.
func (e *ReplayEngine) Snapshot() ReplaySnapshot {
	e.mu.Lock()
	step := e.step
	auto := e.auto
	speed := e.speed
	e.mu.Unlock()

	rows, cols := e.OutputDims()
	r, c := e.Position(step)
	values := make([]float64, step+1)
	for s := 0; s <= step; s++ {
		vr, vc := e.Position(s)
		values[s] = e.ValueAt(vr, vc)
	}
	snap := ReplaySnapshot{
		Grid:       gridRows(e.input),
		Kernel:     gridRows(e.kernel),
		Bias:       e.bias,
		Step:       step,
		TotalSteps: e.TotalSteps(),
		Row:        r,
		Col:        c,
		OutputRows: rows,
		OutputCols: cols,
		Values:     values,
		Auto:       auto,
		Done:       step == e.TotalSteps()-1,
	}
	if auto {
		snap.Speed = string(speed)
	}
	return snap
}
