package siamese

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"sigverify/sigerr"
	"sigverify/types"
)

func tinyArch() Arch {
	return Arch{
		Input: InputShape{Height: 6, Width: 6, Channels: 1},
		Convs: []ConvSpec{
			{Filters: 2, Kernel: 3, LRN: true, Pool: true},
			{Filters: 3, Kernel: 3},
		},
		Dense:      []DenseSpec{{Units: 4}, {Units: 3}},
		LRN:        LRN{Radius: 1, Bias: 1, Alpha: 0.5, Beta: 0.75},
		PoolSize:   3,
		PoolStride: 2,
	}
}

func randomImage(rng *rand.Rand, h, w int) *types.Tensor {
	t := types.NewTensor(h, w, 1)
	for i := range t.Data {
		t.Data[i] = rng.Float64()
	}
	return t
}

func tinyNetwork(t *testing.T, seed int64) *Network {
	t.Helper()
	n, err := NewNetwork(tinyArch(), seed)
	if err != nil {
		t.Fatalf("NewNetwork: %v", err)
	}
	// small positive biases keep most units away from the ReLU kink
	for _, c := range n.Embedder.Convs {
		for i := range c.B {
			c.B[i] = 0.1
		}
	}
	for _, d := range n.Embedder.Dense {
		for i := range d.B {
			d.B[i] = 0.1
		}
	}
	return n
}

func TestDefaultArch(t *testing.T) {
	a := DefaultArch(70, 110)
	if err := a.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := a.EmbeddingSize(); got != 128 {
		t.Errorf("embedding size = %d, want 128", got)
	}
	if h, w, c := a.convOutput(); h != 7 || w != 12 || c != 256 {
		t.Errorf("flattened shape = %dx%dx%d, want 7x12x256", h, w, c)
	}
}

func TestArchValidateRejectsTinyInput(t *testing.T) {
	a := DefaultArch(8, 8)
	if err := a.Validate(); err == nil {
		t.Fatal("an 8x8 input cannot survive three pools")
	}
}

func TestNewNetworkSeeded(t *testing.T) {
	a, b := tinyNetwork(t, 7), tinyNetwork(t, 7)
	va, vb := a.Vectors(), b.Vectors()
	for i := range va {
		for j := range va[i] {
			if va[i][j] != vb[i][j] {
				t.Fatalf("same seed produced different weights at %d/%d", i, j)
			}
		}
	}
	c := tinyNetwork(t, 8)
	if c.Embedder.Convs[0].W[0] == a.Embedder.Convs[0].W[0] {
		t.Error("different seeds should produce different weights")
	}
	n, _ := NewNetwork(tinyArch(), 7)
	for _, v := range n.Embedder.Convs[0].B {
		if v != 0 {
			t.Fatal("biases start at zero")
		}
	}
}

func TestConvMatchesDirectConvolution(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	const h, w, in, out, k = 5, 4, 2, 3, 3
	c := newConv(k, in, out, rng)
	for i := range c.B {
		c.B[i] = rng.NormFloat64()
	}
	x := make([]float64, h*w*in)
	for i := range x {
		x[i] = rng.NormFloat64()
	}

	got := c.forward(x, h, w)
	for y := 0; y < h; y++ {
		for xx := 0; xx < w; xx++ {
			for o := 0; o < out; o++ {
				z := c.B[o]
				for ky := 0; ky < k; ky++ {
					for kx := 0; kx < k; kx++ {
						sy, sx := y+ky-1, xx+kx-1
						if sy < 0 || sy >= h || sx < 0 || sx >= w {
							continue
						}
						for ch := 0; ch < in; ch++ {
							z += x[(sy*w+sx)*in+ch] * c.W[((ky*k+kx)*in+ch)*out+o]
						}
					}
				}
				want := math.Max(0, z)
				if v := got[(y*w+xx)*out+o]; math.Abs(v-want) > 1e-12 {
					t.Fatalf("(%d,%d,%d) = %v, want %v", y, xx, o, v, want)
				}
			}
		}
	}
}

func TestMaxPool(t *testing.T) {
	in := make([]float64, 25)
	for i := range in {
		in[i] = float64(i)
	}
	out, argmax, oh, ow := maxPool(in, 5, 5, 1, 3, 2)
	if oh != 2 || ow != 2 {
		t.Fatalf("output %dx%d, want 2x2", oh, ow)
	}
	want := []float64{12, 14, 22, 24}
	for i := range want {
		if out[i] != want[i] || argmax[i] != int(want[i]) {
			t.Errorf("cell %d = %v at %d, want %v", i, out[i], argmax[i], want[i])
		}
	}
	back := maxPoolBackward([]float64{1, 2, 3, 4}, argmax, 25)
	if back[12] != 1 || back[14] != 2 || back[22] != 3 || back[24] != 4 || back[0] != 0 {
		t.Errorf("gradient routed wrongly: %v", back)
	}
}

func TestDropoutMaskPreservesExpectation(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	mask := dropoutMask(20000, 0.3, rng)
	var sum float64
	zeros := 0
	for _, m := range mask {
		sum += m
		if m == 0 {
			zeros++
		}
	}
	if mean := sum / float64(len(mask)); math.Abs(mean-1) > 0.03 {
		t.Errorf("mean mask = %v, want about 1", mean)
	}
	if frac := float64(zeros) / float64(len(mask)); math.Abs(frac-0.3) > 0.02 {
		t.Errorf("dropped fraction = %v, want about 0.3", frac)
	}
}

func TestScoreRangeAndSymmetry(t *testing.T) {
	n := tinyNetwork(t, 1)
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 10; i++ {
		a, b := randomImage(rng, 6, 6), randomImage(rng, 6, 6)
		ab, err := n.Score(a, b)
		if err != nil {
			t.Fatal(err)
		}
		ba, err := n.Score(b, a)
		if err != nil {
			t.Fatal(err)
		}
		if ab <= 0 || ab >= 1 {
			t.Errorf("score %v outside (0,1)", ab)
		}
		if ab != ba {
			t.Errorf("score(a,b) = %v, score(b,a) = %v", ab, ba)
		}
	}
}

func TestScoreIdenticalInputs(t *testing.T) {
	n := tinyNetwork(t, 1)
	a := randomImage(rand.New(rand.NewSource(4)), 6, 6)
	s, err := n.Score(a, a.Clone())
	if err != nil {
		t.Fatal(err)
	}
	// zero distance leaves only the head bias, which starts at zero
	if s != 0.5 {
		t.Errorf("identical inputs scored %v, want 0.5", s)
	}
}

func TestShapeErrors(t *testing.T) {
	n := tinyNetwork(t, 1)
	good := types.NewTensor(6, 6, 1)
	bad := types.NewTensor(5, 6, 1)

	var se *sigerr.ShapeError
	if _, err := n.Score(good, bad); !errors.As(err, &se) {
		t.Errorf("Score with wrong input shape: %v", err)
	}
	if _, err := n.ForwardPair(bad, good, nil); !errors.As(err, &se) {
		t.Errorf("ForwardPair with wrong input shape: %v", err)
	}
	if _, err := n.HeadScore(make([]float64, 3), make([]float64, 4)); !errors.As(err, &se) {
		t.Errorf("HeadScore with mismatched embeddings: %v", err)
	}
}

func TestForwardPairWithoutDropoutMatchesScore(t *testing.T) {
	n := tinyNetwork(t, 9)
	rng := rand.New(rand.NewSource(10))
	a, b := randomImage(rng, 6, 6), randomImage(rng, 6, 6)
	tr, err := n.ForwardPair(a, b, nil)
	if err != nil {
		t.Fatal(err)
	}
	s, _ := n.Score(a, b)
	if tr.Score != s {
		t.Errorf("trace score %v, Score %v", tr.Score, s)
	}
}

func TestDropoutReproducibleForSeed(t *testing.T) {
	arch := tinyArch()
	arch.Dense[0].Dropout = 0.5
	n, err := NewNetwork(arch, 3)
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(1))
	a, b := randomImage(rng, 6, 6), randomImage(rng, 6, 6)
	t1, _ := n.ForwardPair(a, b, rand.New(rand.NewSource(77)))
	t2, _ := n.ForwardPair(a, b, rand.New(rand.NewSource(77)))
	if t1.Score != t2.Score {
		t.Errorf("same dropout seed gave %v and %v", t1.Score, t2.Score)
	}
}

func TestBackwardPairMatchesFiniteDifference(t *testing.T) {
	n := tinyNetwork(t, 21)
	rng := rand.New(rand.NewSource(22))
	a, b := randomImage(rng, 6, 6), randomImage(rng, 6, 6)

	tr, err := n.ForwardPair(a, b, nil)
	if err != nil {
		t.Fatal(err)
	}
	g := n.ZeroLike()
	n.BackwardPair(tr, 1, g)

	const eps = 1e-6
	params, grads := n.Vectors(), g.Vectors()
	nonzero := 0
	for i, p := range params {
		for j := range p {
			orig := p[j]
			p[j] = orig + eps
			up, _ := n.Score(a, b)
			p[j] = orig - eps
			down, _ := n.Score(a, b)
			p[j] = orig

			num := (up - down) / (2 * eps)
			ana := grads[i][j]
			if math.Abs(num-ana) > 1e-7+1e-4*math.Abs(num) {
				t.Errorf("param %d[%d]: analytic %v numeric %v", i, j, ana, num)
			}
			if ana != 0 {
				nonzero++
			}
		}
	}
	if nonzero == 0 {
		t.Fatal("every gradient was zero; the check proved nothing")
	}
}

func TestAccumulateAndZero(t *testing.T) {
	n := tinyNetwork(t, 1)
	g := n.ZeroLike()
	g.Accumulate(n)
	g.Accumulate(n)
	if got, want := g.Embedder.Dense[0].W[3], 2*n.Embedder.Dense[0].W[3]; got != want {
		t.Errorf("accumulated %v, want %v", got, want)
	}
	g.Zero()
	for _, v := range g.Vectors() {
		for _, x := range v {
			if x != 0 {
				t.Fatal("Zero left a nonzero value")
			}
		}
	}
	if g.ParamCount() != n.ParamCount() {
		t.Error("ZeroLike changed the parameter count")
	}
}
