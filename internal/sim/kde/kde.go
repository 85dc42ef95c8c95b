// Package kde estimates one-dimensional probability densities with a
// Gaussian kernel and Scott's bandwidth rule.
package kde

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var ErrDegenerate = errors.New("kde: need at least two distinct samples")

type Gaussian struct {
	samples   []float64
	bandwidth float64
}

func NewGaussian(samples []float64) (*Gaussian, error) {
	n := len(samples)
	if n < 2 {
		return nil, ErrDegenerate
	}
	sd := stat.StdDev(samples, nil)
	if !(sd > 0) || math.IsInf(sd, 0) {
		return nil, ErrDegenerate
	}
	own := make([]float64, n)
	copy(own, samples)
	return &Gaussian{
		samples:   own,
		bandwidth: sd * math.Pow(float64(n), -1.0/5),
	}, nil
}

func (g *Gaussian) Bandwidth() float64 { return g.bandwidth }
func (g *Gaussian) N() int             { return len(g.samples) }

func (g *Gaussian) Density(x float64) float64 {
	var sum float64
	for _, s := range g.samples {
		sum += distuv.UnitNormal.Prob((x - s) / g.bandwidth)
	}
	return sum / (float64(len(g.samples)) * g.bandwidth)
}

func (g *Gaussian) Evaluate(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = g.Density(x)
	}
	return out
}

// Grid returns n evenly spaced points on [lo, hi], endpoints included.
func Grid(lo, hi float64, n int) []float64 {
	switch {
	case n <= 0:
		return nil
	case n == 1:
		return []float64{lo}
	}
	return floats.Span(make([]float64, n), lo, hi)
}
