package steady

import (
	"math"
	"testing"
)

func TestDetector_ConstantWindowIsSteady(t *testing.T) {
	d := Detector{FitRange: 50, Eps: 1e-9}
	trace := make([]float64, 80)
	for i := range trace {
		trace[i] = 4.25
	}
	slope, ok := d.Slope(trace)
	if !ok {
		t.Fatalf("expected slope to be computed")
	}
	if math.Abs(slope) > 1e-12 {
		t.Fatalf("slope=%v want ~0", slope)
	}
	if !d.IsSteady(trace) {
		t.Fatalf("constant window must be steady")
	}
}

func TestDetector_IncreasingWindowIsNotSteady(t *testing.T) {
	d := Detector{FitRange: 50, Eps: 1e-3}
	trace := make([]float64, 60)
	for i := range trace {
		trace[i] = 0.002 * float64(i)
	}
	slope, _ := d.Slope(trace)
	if math.Abs(slope-0.002) > 1e-9 {
		t.Fatalf("slope=%v want 0.002", slope)
	}
	if d.IsSteady(trace) {
		t.Fatalf("increasing window with slope above eps must not be steady")
	}
}

func TestDetector_ShortTraceIsNotSteady(t *testing.T) {
	d := Detector{FitRange: 10, Eps: 1}
	if d.IsSteady(make([]float64, 9)) {
		t.Fatalf("fewer than FitRange samples must not be steady")
	}
}

func TestDetector_UsesOnlyTail(t *testing.T) {
	d := Detector{FitRange: 20, Eps: 1e-9}
	trace := make([]float64, 0, 60)
	for i := 0; i < 40; i++ {
		trace = append(trace, float64(i))
	}
	for i := 0; i < 20; i++ {
		trace = append(trace, 40)
	}
	if !d.IsSteady(trace) {
		t.Fatalf("flat tail after a ramp must be steady")
	}
}

func TestLevelAndFirstAbove(t *testing.T) {
	trace := []float64{0, 1, 2, 3, 3, 3}
	if got := Level(trace, 3); got != 3 {
		t.Fatalf("Level=%v want 3", got)
	}
	if got := Level(trace, 100); got != 2 {
		t.Fatalf("Level(all)=%v want 2", got)
	}
	if got := FirstAbove(trace, 1.5); got != 2 {
		t.Fatalf("FirstAbove=%d want 2", got)
	}
	if got := FirstAbove(trace, 3); got != -1 {
		t.Fatalf("FirstAbove=%d want -1", got)
	}
}
