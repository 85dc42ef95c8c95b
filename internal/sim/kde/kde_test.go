package kde

import (
	"errors"
	"math"
	"testing"
)

func TestNewGaussian_RejectsDegenerateSamples(t *testing.T) {
	if _, err := NewGaussian([]float64{1}); !errors.Is(err, ErrDegenerate) {
		t.Fatalf("single sample: err=%v want ErrDegenerate", err)
	}
	if _, err := NewGaussian([]float64{2, 2, 2}); !errors.Is(err, ErrDegenerate) {
		t.Fatalf("zero variance: err=%v want ErrDegenerate", err)
	}
}

func TestGaussian_IntegratesToOne(t *testing.T) {
	samples := []float64{0.5, 1, 1.2, 2, 2.5, 3.1, 4, 4.4}
	g, err := NewGaussian(samples)
	if err != nil {
		t.Fatalf("NewGaussian: %v", err)
	}
	xs := Grid(-10, 15, 2001)
	ys := g.Evaluate(xs)
	dx := xs[1] - xs[0]
	var area float64
	for _, y := range ys {
		area += y * dx
	}
	if math.Abs(area-1) > 1e-3 {
		t.Fatalf("area=%v want ~1", area)
	}
}

func TestGaussian_PeaksNearCluster(t *testing.T) {
	samples := []float64{5, 5.1, 4.9, 5.05, 4.95, 0.2}
	g, err := NewGaussian(samples)
	if err != nil {
		t.Fatalf("NewGaussian: %v", err)
	}
	if g.Density(5) <= g.Density(2.5) {
		t.Fatalf("density at cluster=%v should exceed gap=%v", g.Density(5), g.Density(2.5))
	}
}

func TestGrid(t *testing.T) {
	xs := Grid(0, 1, 5)
	want := []float64{0, 0.25, 0.5, 0.75, 1}
	for i := range want {
		if math.Abs(xs[i]-want[i]) > 1e-12 {
			t.Fatalf("Grid=%v want %v", xs, want)
		}
	}
	if len(Grid(0, 1, 0)) != 0 || len(Grid(3, 4, 1)) != 1 {
		t.Fatalf("edge sizes wrong")
	}
}
