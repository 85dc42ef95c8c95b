// Package report renders run snapshots as PNG charts and CSV tables.
package report

import (
	"fmt"
	"io"
	"math"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"iftsim.dev/internal/persistence/snapshot"
)

const maxPlotPoints = 2000

// LengthChart plots the length trace against simulated time, with the
// steady level and, when defined, the predicted length as flat guides.
func LengthChart(w io.Writer, snap snapshot.SnapshotV1) error {
	if len(snap.Length) == 0 {
		return fmt.Errorf("snapshot %s has no length trace", snap.Header.RunID)
	}
	dt := snap.Tuning.TimeStepDuration
	xs, ys := downsample(snap.Length, dt)

	series := []chart.Series{
		chart.ContinuousSeries{
			Name:    "length",
			XValues: xs,
			YValues: ys,
			Style:   chart.Style{StrokeColor: chart.ColorBlue, StrokeWidth: 2},
		},
		flat("steady length", xs, snap.Result.SteadyLength, chart.ColorGreen),
	}
	lo, hi := span(ys)
	hi = math.Max(hi, snap.Result.SteadyLength)
	if p := snap.Result.PredictedLength; p > 0 {
		series = append(series, flat("predicted", xs, p, chart.ColorRed))
		hi = math.Max(hi, p)
	}

	graph := chart.Chart{
		Title:  snap.Header.RunID,
		Width:  1024,
		Height: 512,
		XAxis: chart.XAxis{
			Name:  "time (s)",
			Range: axisRange(xs[0], xs[len(xs)-1]),
		},
		YAxis: chart.YAxis{
			Name:  "length",
			Range: axisRange(math.Min(lo, 0), hi),
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	return graph.Render(chart.PNG, w)
}

// DensityChart plots a density estimate over its grid.
func DensityChart(w io.Writer, grid, density []float64) error {
	if len(grid) < 2 || len(grid) != len(density) {
		return fmt.Errorf("density needs matching grid and values (got %d/%d)", len(grid), len(density))
	}
	_, hi := span(density)
	graph := chart.Chart{
		Width:  800,
		Height: 400,
		XAxis:  chart.XAxis{Name: "position", Range: axisRange(grid[0], grid[len(grid)-1])},
		YAxis:  chart.YAxis{Name: "density", Range: axisRange(0, hi)},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    "diffusing motors",
				XValues: grid,
				YValues: density,
				Style:   chart.Style{StrokeColor: chart.ColorOrange, StrokeWidth: 2},
			},
		},
	}
	return graph.Render(chart.PNG, w)
}

func flat(name string, xs []float64, y float64, color drawing.Color) chart.ContinuousSeries {
	ys := make([]float64, len(xs))
	for i := range ys {
		ys[i] = y
	}
	return chart.ContinuousSeries{
		Name:    name,
		XValues: xs,
		YValues: ys,
		Style:   chart.Style{StrokeColor: color, StrokeWidth: 1, StrokeDashArray: []float64{5, 5}},
	}
}

// downsample keeps at most maxPlotPoints evenly spaced samples, always
// including the last one, and converts step indexes to seconds.
func downsample(trace []float64, dt float64) (xs, ys []float64) {
	stride := max(1, len(trace)/maxPlotPoints)
	for i := 0; i < len(trace); i += stride {
		xs = append(xs, float64(i)*dt)
		ys = append(ys, trace[i])
	}
	if last := len(trace) - 1; (last % stride) != 0 {
		xs = append(xs, float64(last)*dt)
		ys = append(ys, trace[last])
	}
	if len(xs) == 1 {
		xs = append(xs, xs[0]+dt)
		ys = append(ys, ys[0])
	}
	return xs, ys
}

func span(vs []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range vs {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// axisRange pads degenerate ranges; the renderer rejects zero-width axes.
func axisRange(lo, hi float64) *chart.ContinuousRange {
	if !(hi > lo) {
		hi = lo + 1
	}
	return &chart.ContinuousRange{Min: lo, Max: hi}
}
