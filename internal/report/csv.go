package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"iftsim.dev/internal/persistence/snapshot"
	"iftsim.dev/internal/sim/transmat"
)

var traceHeader = []string{"step", "time", "length", "flux", "base", "diffusing", "active", "avalanche"}

// TracesCSV writes one row per recorded step.
func TracesCSV(w io.Writer, snap snapshot.SnapshotV1) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(traceHeader); err != nil {
		return err
	}
	dt := snap.Tuning.TimeStepDuration
	for i := range snap.Length {
		r := snap.Record(i)
		row := []string{
			strconv.Itoa(r.Step),
			ftoa(float64(r.Step) * dt),
			ftoa(r.Length),
			strconv.Itoa(r.Flux),
			strconv.Itoa(r.Base),
			strconv.Itoa(r.Diffusing),
			strconv.Itoa(r.Active),
			strconv.Itoa(r.Avalanche),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// DensityCSV writes position,density pairs.
func DensityCSV(w io.Writer, grid, density []float64) error {
	if len(grid) != len(density) {
		return fmt.Errorf("grid has %d points, density %d", len(grid), len(density))
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"position", "density"}); err != nil {
		return err
	}
	for i := range grid {
		if err := cw.Write([]string{ftoa(grid[i]), ftoa(density[i])}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// EquilibriumCSV writes the Markov-chain steady state for each length.
func EquilibriumCSV(w io.Writer, lengths []int, p transmat.Params) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"length", "flux", "base", "diffusing", "active"}); err != nil {
		return err
	}
	for _, l := range lengths {
		ss, err := transmat.Solve(l, p)
		if err != nil {
			return fmt.Errorf("length %d: %w", l, err)
		}
		var active, diffusing float64
		for site := 0; site < l; site++ {
			active += ss.Occupancy[transmat.ActiveSite(site)]
			diffusing += ss.Occupancy[transmat.DiffusionSite(l, site)]
		}
		row := []string{strconv.Itoa(l), ftoa(ss.Flux), ftoa(ss.Base()), ftoa(diffusing), ftoa(active)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
