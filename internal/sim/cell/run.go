package cell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/stat"

	"iftsim.dev/internal/sim/kde"
	"iftsim.dev/internal/sim/steady"
)

type AvalancheSummary struct {
	Events   int     `json:"events"`
	Released int     `json:"released"`
	MeanSize float64 `json:"mean_size"`
	MaxSize  int     `json:"max_size"`
}

// Result summarises a completed run.
type Result struct {
	Steps      int  `json:"steps"`
	Extensions int  `json:"extensions"`
	Converged  bool `json:"converged"`

	SteadyLength      float64 `json:"steady_length"`
	SteadyStep        int     `json:"steady_step"`
	TimeToSteadyState float64 `json:"time_to_steady_state"`
	// PredictedLength is zero when the closed form is undefined for the config.
	PredictedLength float64 `json:"predicted_length"`
	FinalLength     float64 `json:"final_length"`

	Avalanches AvalancheSummary `json:"avalanches"`

	DensityGrid []float64 `json:"density_grid,omitempty"`
	Density     []float64 `json:"density,omitempty"`
}

// Detector returns the steady-state detector configured for this cell.
func (c *Cell) Detector() steady.Detector {
	return steady.Detector{FitRange: c.cfg.fitRange(), Eps: c.cfg.SteadyEps}
}

func (c *Cell) IsSteadyState() bool {
	return c.Detector().IsSteady(c.lengthTrace.Values()[:c.current+1])
}

// Run simulates the configured number of steps and, when RunToSteadyState is
// set, keeps extending until the length trace is steady or MaxExtensions is
// reached. ctx is only consulted between extensions.
func (c *Cell) Run(ctx context.Context) (Result, error) {
	if c.current < 0 {
		c.Simulate(c.cfg.TotalSteps)
	}

	if c.cfg.RunToSteadyState {
		chunk := c.cfg.extendChunk()
		for !c.IsSteadyState() {
			if c.extensions >= c.cfg.MaxExtensions {
				c.log.Warn("steady state not reached",
					slog.Int("extensions", c.extensions),
					slog.Int("step", c.current),
					slog.Float64("length", c.length))
				break
			}
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
			c.Extend(chunk)
			c.log.Debug("extended",
				slog.Int("extensions", c.extensions),
				slog.Int("step", c.current),
				slog.Float64("length", c.length))
		}
	}

	res := c.Summarize()
	if c.sinkErr != nil {
		return res, fmt.Errorf("step sink: %w", c.sinkErr)
	}
	return res, nil
}

// Summarize computes the run summary from the recorded buffers.
func (c *Cell) Summarize() Result {
	trace := c.lengthTrace.Values()[:c.current+1]
	res := Result{
		Steps:       c.current + 1,
		Extensions:  c.extensions,
		Converged:   c.Detector().IsSteady(trace),
		FinalLength: c.length,
	}
	if p, err := PredictedLength(c.cfg); err == nil {
		res.PredictedLength = p
	}

	res.SteadyLength = steady.Level(trace, c.cfg.SteadyMeanWindow)
	res.SteadyStep = max(0, steady.FirstAbove(trace, res.SteadyLength))
	res.TimeToSteadyState = float64(res.SteadyStep) * c.cfg.TimeStepDuration
	res.Avalanches = c.avalancheSummary()

	if c.cfg.RecordMotorTraces {
		grid, density, err := c.DensityEstimate(res.SteadyLength)
		switch {
		case err == nil:
			res.DensityGrid, res.Density = grid, density
		case errors.Is(err, kde.ErrDegenerate):
			c.log.Warn("diffusing density skipped", slog.String("reason", err.Error()))
		}
	}
	c.log.Info("run summary",
		slog.Int("steps", res.Steps),
		slog.Bool("converged", res.Converged),
		slog.Float64("steady_length", res.SteadyLength),
		slog.Float64("time_to_steady_state", res.TimeToSteadyState))
	return res
}

func (c *Cell) avalancheSummary() AvalancheSummary {
	var out AvalancheSummary
	var sizes []float64
	for _, v := range c.avalanche.Values()[:c.current+1] {
		if v <= 0 {
			continue
		}
		out.Events++
		out.Released += v
		out.MaxSize = max(out.MaxSize, v)
		sizes = append(sizes, float64(v))
	}
	if len(sizes) > 0 {
		out.MeanSize = stat.Mean(sizes, nil)
	}
	return out
}
