package siamese

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// AdamW is Adam with decoupled weight decay. Decay is applied to the weights
// before the moment update, scaled by the learning rate.
type AdamW struct {
	LearningRate float64
	WeightDecay  float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	step int
	m    [][]float64
	v    [][]float64
}

// NewAdamW returns an optimizer with beta1 0.9, beta2 0.999 and epsilon 1e-7
func NewAdamW(learningRate, weightDecay float64) *AdamW {
	return &AdamW{
		LearningRate: learningRate,
		WeightDecay:  weightDecay,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-7,
	}
}

// Steps reports how many updates have been applied
func (o *AdamW) Steps() int {
	return o.step
}

// Step updates params in place from grads. Both lists must have the same
// layout on every call; moment buffers are allocated on the first one.
func (o *AdamW) Step(params, grads [][]float64) error {
	if len(params) != len(grads) {
		return fmt.Errorf("optimizer got %d parameter slices and %d gradients", len(params), len(grads))
	}
	if o.m == nil {
		o.m = make([][]float64, len(params))
		o.v = make([][]float64, len(params))
		for i, p := range params {
			o.m[i] = make([]float64, len(p))
			o.v[i] = make([]float64, len(p))
		}
	}
	if len(o.m) != len(params) {
		return fmt.Errorf("optimizer state holds %d slices, got %d", len(o.m), len(params))
	}

	o.step++
	t := float64(o.step)
	alpha := o.LearningRate * math.Sqrt(1-math.Pow(o.Beta2, t)) / (1 - math.Pow(o.Beta1, t))

	for i, p := range params {
		g := grads[i]
		if len(g) != len(p) || len(o.m[i]) != len(p) {
			return fmt.Errorf("parameter slice %d: %d values, %d gradients", i, len(p), len(g))
		}
		if o.WeightDecay != 0 {
			floats.Scale(1-o.WeightDecay*o.LearningRate, p)
		}
		m, v := o.m[i], o.v[i]
		for j, gj := range g {
			m[j] += (gj - m[j]) * (1 - o.Beta1)
			v[j] += (gj*gj - v[j]) * (1 - o.Beta2)
			p[j] -= m[j] * alpha / (math.Sqrt(v[j]) + o.Epsilon)
		}
	}
	return nil
}
