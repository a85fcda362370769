package siamese

import (
	"math"
	"testing"
)

func TestAdamWFirstStep(t *testing.T) {
	for _, tc := range []struct {
		name  string
		decay float64
		want  float64
	}{
		// the first Adam step moves each weight by about lr against the gradient sign
		{"no decay", 0, 0.9},
		{"decay", 0.5, 0.95 - 0.1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			opt := NewAdamW(0.1, tc.decay)
			p := []float64{1}
			if err := opt.Step([][]float64{p}, [][]float64{{0.5}}); err != nil {
				t.Fatal(err)
			}
			if math.Abs(p[0]-tc.want) > 1e-5 {
				t.Errorf("after one step = %v, want %v", p[0], tc.want)
			}
			if opt.Steps() != 1 {
				t.Errorf("steps = %d", opt.Steps())
			}
		})
	}
}

func TestAdamWMinimizesQuadratic(t *testing.T) {
	opt := NewAdamW(0.05, 0)
	x := []float64{-2, 10}
	target := []float64{3, -1}
	for i := 0; i < 2000; i++ {
		g := []float64{2 * (x[0] - target[0]), 2 * (x[1] - target[1])}
		if err := opt.Step([][]float64{x}, [][]float64{g}); err != nil {
			t.Fatal(err)
		}
	}
	for i := range x {
		if math.Abs(x[i]-target[i]) > 0.05 {
			t.Errorf("x[%d] = %v, want about %v", i, x[i], target[i])
		}
	}
}

func TestAdamWRejectsLayoutChanges(t *testing.T) {
	opt := NewAdamW(0.1, 0)
	if err := opt.Step([][]float64{{1, 2}}, [][]float64{{1}}); err == nil {
		t.Error("gradient length mismatch should fail")
	}
	opt = NewAdamW(0.1, 0)
	if err := opt.Step([][]float64{{1}}, [][]float64{{1}}); err != nil {
		t.Fatal(err)
	}
	if err := opt.Step([][]float64{{1}, {2}}, [][]float64{{1}, {1}}); err == nil {
		t.Error("changing the number of slices should fail")
	}
}
