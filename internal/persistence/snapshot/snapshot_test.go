package snapshot

import (
	"path/filepath"
	"slices"
	"testing"

	"iftsim.dev/internal/sim/cell"
	"iftsim.dev/internal/sim/tuning"
)

func runSmall(t *testing.T) (tuning.Tuning, *cell.Cell, cell.Result) {
	t.Helper()
	tn := tuning.Defaults()
	tn.TotalSteps = 400
	tn.MotorCount = 30
	tn.AvalancheThreshold = 5
	tn.InitialLength = 3
	tn.RunToSteadyState = false
	tn.RecordMotorTraces = false
	c, err := cell.New(tn.Config(), nil)
	if err != nil {
		t.Fatalf("cell.New: %v", err)
	}
	c.Simulate(tn.TotalSteps)
	return tn, c, c.Summarize()
}

func TestSnapshot_RoundTrip(t *testing.T) {
	tn, c, res := runSmall(t)
	snap := FromCell("run-a", tn, c, res)
	path := filepath.Join(t.TempDir(), "snapshots", "run-a.snap.zst")
	if err := WriteSnapshot(path, snap); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if got.Header.RunID != "run-a" || got.Header.Steps != 400 || got.Header.Digest != tn.Digest() {
		t.Fatalf("header=%+v", got.Header)
	}
	if got.Tuning != tn {
		t.Fatalf("tuning changed in round trip")
	}
	if got.Result.Steps != res.Steps || got.Result.SteadyLength != res.SteadyLength || got.Result.Avalanches != res.Avalanches {
		t.Fatalf("result=%+v want %+v", got.Result, res)
	}
	if !slices.Equal(got.Length, c.LengthTrace()[:400]) || !slices.Equal(got.Avalanche, c.AvalancheTrace()[:400]) {
		t.Fatalf("traces changed in round trip")
	}
	for _, step := range []int{0, 199, 399} {
		if got.Record(step) != c.Record(step) {
			t.Fatalf("step %d: %+v want %+v", step, got.Record(step), c.Record(step))
		}
	}
}

func TestReadHeader(t *testing.T) {
	tn, c, res := runSmall(t)
	path := filepath.Join(t.TempDir(), "h.snap.zst")
	if err := WriteSnapshot(path, FromCell("run-h", tn, c, res)); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h.Version != Version || h.RunID != "run-h" || h.Steps != 400 || h.RecordedAt.IsZero() {
		t.Fatalf("header=%+v", h)
	}
}
