package report

import (
	"bytes"
	"encoding/csv"
	"math"
	"strconv"
	"strings"
	"testing"

	"iftsim.dev/internal/persistence/snapshot"
	"iftsim.dev/internal/sim/cell"
	"iftsim.dev/internal/sim/transmat"
	"iftsim.dev/internal/sim/tuning"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func testSnapshot(n int, length func(i int) float64) snapshot.SnapshotV1 {
	tn := tuning.Defaults()
	s := snapshot.SnapshotV1{
		Header: snapshot.Header{RunID: "test-s1"},
		Tuning: tn,
		Result: cell.Result{Steps: n, SteadyLength: length(n - 1), PredictedLength: 2},
	}
	for i := 0; i < n; i++ {
		s.Length = append(s.Length, length(i))
		s.Flux = append(s.Flux, i%3)
		s.Base = append(s.Base, 10)
		s.Diffusing = append(s.Diffusing, i%5)
		s.Active = append(s.Active, 1)
		s.Avalanche = append(s.Avalanche, 0)
	}
	return s
}

func TestLengthChart_WritesPNG(t *testing.T) {
	snap := testSnapshot(5000, func(i int) float64 { return float64(i) / 1000 })
	var buf bytes.Buffer
	if err := LengthChart(&buf, snap); err != nil {
		t.Fatalf("LengthChart: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), pngMagic) {
		t.Fatalf("output is not a PNG (%d bytes)", buf.Len())
	}
}

func TestLengthChart_FlatTrace(t *testing.T) {
	snap := testSnapshot(1, func(int) float64 { return 0 })
	snap.Result.PredictedLength = 0
	var buf bytes.Buffer
	if err := LengthChart(&buf, snap); err != nil {
		t.Fatalf("LengthChart on a flat trace: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), pngMagic) {
		t.Fatalf("output is not a PNG")
	}
}

func TestLengthChart_EmptySnapshot(t *testing.T) {
	if err := LengthChart(&bytes.Buffer{}, snapshot.SnapshotV1{}); err == nil {
		t.Fatalf("expected error for empty trace")
	}
}

func TestDownsample_KeepsLastSample(t *testing.T) {
	trace := make([]float64, 4001)
	for i := range trace {
		trace[i] = float64(i)
	}
	xs, ys := downsample(trace, 0.5)
	if len(xs) > maxPlotPoints+1 || len(xs) != len(ys) {
		t.Fatalf("len=%d/%d", len(xs), len(ys))
	}
	if ys[len(ys)-1] != 4000 || xs[len(xs)-1] != 2000 {
		t.Fatalf("last=(%v,%v)", xs[len(xs)-1], ys[len(ys)-1])
	}
}

func TestTracesCSV_OneRowPerStep(t *testing.T) {
	snap := testSnapshot(25, func(i int) float64 { return float64(i) })
	var buf bytes.Buffer
	if err := TracesCSV(&buf, snap); err != nil {
		t.Fatalf("TracesCSV: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 26 {
		t.Fatalf("rows=%d want 26", len(rows))
	}
	if strings.Join(rows[0], ",") != "step,time,length,flux,base,diffusing,active,avalanche" {
		t.Fatalf("header=%v", rows[0])
	}
	if got := rows[11]; got[0] != "10" || !near(t, got[1], 0.1) || got[2] != "10" || got[3] != "1" {
		t.Fatalf("row 10=%v", got)
	}
}

func TestDensityCSV_MismatchedLengths(t *testing.T) {
	if err := DensityCSV(&bytes.Buffer{}, []float64{0, 1}, []float64{1}); err == nil {
		t.Fatalf("expected mismatch error")
	}
}

func TestEquilibriumCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := EquilibriumCSV(&buf, []int{1, 2, 3}, transmat.DefaultParams()); err != nil {
		t.Fatalf("EquilibriumCSV: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil || len(rows) != 4 {
		t.Fatalf("rows=%d err=%v", len(rows), err)
	}
	if rows[1][0] != "1" || !near(t, rows[1][1], 160) || !near(t, rows[1][2], 40) {
		t.Fatalf("length 1 row=%v", rows[1])
	}
}

func near(t *testing.T, s string, want float64) bool {
	t.Helper()
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return math.Abs(v-want) < 1e-6
}
