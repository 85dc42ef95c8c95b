// Package steady decides whether a length trace has stopped trending.
package steady

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Detector fits a line to the last FitRange samples of a trace and calls
// the trace steady when the absolute slope (per step) is below Eps.
type Detector struct {
	FitRange int
	Eps      float64
}

// Slope returns the least-squares slope of the trailing window. ok is false
// when fewer than FitRange samples are available.
func (d Detector) Slope(trace []float64) (slope float64, ok bool) {
	if d.FitRange < 2 || len(trace) < d.FitRange {
		return 0, false
	}
	tail := trace[len(trace)-d.FitRange:]
	x := make([]float64, len(tail))
	for i := range x {
		x[i] = float64(i)
	}
	_, beta := stat.LinearRegression(x, tail, nil, false)
	return beta, true
}

func (d Detector) IsSteady(trace []float64) bool {
	slope, ok := d.Slope(trace)
	if !ok || math.IsNaN(slope) {
		return false
	}
	return math.Abs(slope) < d.Eps
}

// Level is the mean of the last window samples (the whole trace if shorter).
func Level(trace []float64, window int) float64 {
	if len(trace) == 0 {
		return 0
	}
	if window <= 0 || window > len(trace) {
		window = len(trace)
	}
	return stat.Mean(trace[len(trace)-window:], nil)
}

// FirstAbove returns the first index whose value exceeds level, or -1.
func FirstAbove(trace []float64, level float64) int {
	for i, v := range trace {
		if v > level {
			return i
		}
	}
	return -1
}
