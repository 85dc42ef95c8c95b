package cell

import (
	"errors"

	"iftsim.dev/internal/sim/kde"
)

var errNoTraces = errors.New("motor traces are not recorded")

// Distribution returns the positions of the motors that were diffusing at
// step. It needs RecordMotorTraces.
func (c *Cell) Distribution(step int) []float64 {
	if !c.cfg.RecordMotorTraces || step < 0 || step > c.current {
		return nil
	}
	var out []float64
	for _, m := range c.motors {
		if m.StateAt(step) == Diffusing {
			out = append(out, m.PositionAt(step))
		}
	}
	return out
}

// DensityEstimate pools diffusing positions over the trailing DensityWindow
// steps and evaluates a Gaussian KDE at DensityPoints points on [0, upTo].
func (c *Cell) DensityEstimate(upTo float64) (grid, density []float64, err error) {
	if !c.cfg.RecordMotorTraces {
		return nil, nil, errNoTraces
	}
	from := max(0, c.current-c.cfg.DensityWindow+1)
	var samples []float64
	for step := from; step <= c.current; step++ {
		samples = append(samples, c.Distribution(step)...)
	}
	g, err := kde.NewGaussian(samples)
	if err != nil {
		return nil, nil, err
	}
	grid = kde.Grid(0, upTo, c.cfg.DensityPoints)
	return grid, g.Evaluate(grid), nil
}
