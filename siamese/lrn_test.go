package siamese

import (
	"math"
	"math/rand"
	"testing"
)

func TestLRNHandComputed(t *testing.T) {
	l := LRN{Radius: 1, Bias: 1, Alpha: 0.5, Beta: 0.5}
	out, _ := l.Forward([]float64{1, 2, 3}, 3)
	want := []float64{
		1 / math.Sqrt(1+0.5*(1+4)),
		2 / math.Sqrt(1+0.5*(1+4+9)),
		3 / math.Sqrt(1+0.5*(4+9)),
	}
	for i := range want {
		if math.Abs(out[i]-want[i]) > 1e-12 {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestLRNDefaults(t *testing.T) {
	l := DefaultLRN()
	if l.Radius != 5 || l.Bias != 2 || l.Alpha != 1e-4 || l.Beta != 0.75 {
		t.Fatalf("defaults = %+v", l)
	}
	out, _ := l.Forward([]float64{1}, 1)
	if want := 1 / math.Pow(2.0001, 0.75); math.Abs(out[0]-want) > 1e-12 {
		t.Fatalf("single channel = %v, want %v", out[0], want)
	}
}

func TestLRNPixelsIndependent(t *testing.T) {
	l := LRN{Radius: 2, Bias: 1, Alpha: 1, Beta: 1}
	// second pixel is a copy of the first, so outputs must repeat
	out, _ := l.Forward([]float64{0.5, 1, 2, 0.5, 1, 2}, 3)
	for c := 0; c < 3; c++ {
		if out[c] != out[3+c] {
			t.Fatalf("channel %d differs across identical pixels", c)
		}
	}
}

func TestLRNBackwardMatchesFiniteDifference(t *testing.T) {
	l := LRN{Radius: 2, Bias: 1.5, Alpha: 0.3, Beta: 0.75}
	rng := rand.New(rand.NewSource(3))
	const channels = 7
	in := make([]float64, 2*channels)
	upstream := make([]float64, len(in))
	for i := range in {
		in[i] = rng.Float64()*2 - 0.5
		upstream[i] = rng.NormFloat64()
	}

	objective := func(x []float64) float64 {
		out, _ := l.Forward(x, channels)
		var s float64
		for i, v := range out {
			s += v * upstream[i]
		}
		return s
	}

	_, base := l.Forward(in, channels)
	grad := l.Backward(in, base, upstream, channels)

	const eps = 1e-6
	for i := range in {
		x := append([]float64(nil), in...)
		x[i] += eps
		up := objective(x)
		x[i] -= 2 * eps
		down := objective(x)
		num := (up - down) / (2 * eps)
		if math.Abs(num-grad[i]) > 1e-6+1e-4*math.Abs(num) {
			t.Errorf("d/dx[%d]: analytic %v numeric %v", i, grad[i], num)
		}
	}
}
