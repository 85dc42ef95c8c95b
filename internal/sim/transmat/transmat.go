// Package transmat is the linear-operator counterpart of the agent model: a
// column-stochastic transition matrix over motor locations whose principal
// eigenvector gives the steady occupancy of every location.
package transmat

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrInvalidParams = errors.New("invalid transition parameters")
	ErrNoStationary  = errors.New("no stationary distribution")
)

// Params describes one matrix. Rates are per-step probabilities.
type Params struct {
	// V is the probability that a bound motor advances one site.
	V float64
	// Diff is the probability of a diffusive hop in each direction.
	Diff float64
	// Inject is the probability that the base releases its motors.
	Inject float64

	// Total scales the stationary vector to a motor count.
	Total float64
	// StepSeconds converts base outflow per step into a rate.
	StepSeconds float64
}

func DefaultParams() Params {
	return Params{V: 0.1, Diff: 0.1, Inject: 0.2, Total: 200, StepSeconds: 0.05}
}

func (p Params) validate(l int) error {
	if l < 1 {
		return fmt.Errorf("%w: length %d must be >= 1", ErrInvalidParams, l)
	}
	for _, f := range []struct {
		name string
		v    float64
	}{{"v", p.V}, {"diff", p.Diff}, {"inject", p.Inject}} {
		if math.IsNaN(f.v) || f.v < 0 || f.v > 1 {
			return fmt.Errorf("%w: %s=%v must be in [0,1]", ErrInvalidParams, f.name, f.v)
		}
	}
	if p.Diff > 0.5 {
		return fmt.Errorf("%w: diff=%v leaves a negative stay probability", ErrInvalidParams, p.Diff)
	}
	if !(p.Total > 0) || !(p.StepSeconds > 0) {
		return fmt.Errorf("%w: total and step_seconds must be > 0", ErrInvalidParams)
	}
	return nil
}

// Index helpers for a matrix built with length l.
func ActiveSite(i int) int       { return i }
func DiffusionSite(l, i int) int { return l + i }
func BaseSite(l int) int         { return 2 * l }

// Build returns the (2l+1)x(2l+1) matrix whose column j holds the outgoing
// probabilities of state j. States 0..l-1 are active transport sites, l is
// the tip diffusion site, l+1..2l-1 the remaining diffusion sites and 2l the
// base.
func Build(l int, p Params) (*mat.Dense, error) {
	if err := p.validate(l); err != nil {
		return nil, err
	}
	n := 2*l + 1
	m := mat.NewDense(n, n, nil)

	for i := 0; i < l; i++ {
		m.Set(i+1, i, p.V)
		m.Set(i, i, 1-p.V)
	}

	tip := DiffusionSite(l, 0)
	m.Set(tip, tip, 1-p.Diff)
	m.Set(tip+1, tip, p.Diff)
	for i := tip + 1; i < BaseSite(l); i++ {
		m.Set(i+1, i, p.Diff)
		m.Set(i, i, 1-2*p.Diff)
		m.Set(i-1, i, p.Diff)
	}

	base := BaseSite(l)
	m.Set(0, base, p.Inject)
	m.Set(base, base, 1-p.Inject)
	return m, nil
}

// Steady is the stationary occupancy of one matrix.
type Steady struct {
	Length    int
	Occupancy []float64
	// Flux is the base outflow per second.
	Flux float64
}

func (s Steady) Base() float64 { return s.Occupancy[len(s.Occupancy)-1] }

// Solve builds the matrix for length l and extracts the eigenvector whose
// eigenvalue is closest to 1, scaled so the occupancy sums to p.Total.
func Solve(l int, p Params) (Steady, error) {
	m, err := Build(l, p)
	if err != nil {
		return Steady{}, err
	}
	var eig mat.Eigen
	if !eig.Factorize(m, mat.EigenRight) {
		return Steady{}, fmt.Errorf("%w: eigendecomposition failed for length %d", ErrNoStationary, l)
	}
	values := eig.Values(nil)
	best := 0
	for i, v := range values {
		if cmplx.Abs(v-1) < cmplx.Abs(values[best]-1) {
			best = i
		}
	}
	var vecs mat.CDense
	eig.VectorsTo(&vecs)

	n, _ := m.Dims()
	occ := make([]float64, n)
	var sum float64
	for i := range occ {
		occ[i] = real(vecs.At(i, best))
		sum += occ[i]
	}
	if sum == 0 || math.IsNaN(sum) {
		return Steady{}, fmt.Errorf("%w: principal eigenvector sums to %v", ErrNoStationary, sum)
	}
	for i := range occ {
		occ[i] *= p.Total / sum
	}
	s := Steady{Length: l, Occupancy: occ}
	s.Flux = s.Base() * p.Inject / p.StepSeconds
	return s, nil
}

// Equilibrium returns the base outflow for every length in lengths.
func Equilibrium(lengths []int, p Params) ([]float64, error) {
	out := make([]float64, 0, len(lengths))
	for _, l := range lengths {
		s, err := Solve(l, p)
		if err != nil {
			return nil, err
		}
		out = append(out, s.Flux)
	}
	return out, nil
}
