package siamese

import (
	"fmt"
	"math"
	"math/rand"

	"sigverify/sigerr"
	"sigverify/types"
)

// Embedder is the convolutional branch shared by both inputs of a pair
type Embedder struct {
	Arch  Arch    `cbor:"-"`
	Convs []Conv  `cbor:"convs"`
	Dense []Dense `cbor:"dense"`
}

// Head turns |a - b| into a similarity in (0,1) with one sigmoid unit
type Head struct {
	Dense `cbor:"dense"`
}

// Network is the complete twin model. It is never mutated while serving, so
// one value may be shared by any number of goroutines calling Score.
type Network struct {
	Embedder Embedder `cbor:"embedder"`
	Head     Head     `cbor:"head"`
}

// NewNetwork builds a network with Glorot-uniform kernels and zero biases
// drawn from a source seeded with seed.
func NewNetwork(arch Arch, seed int64) (*Network, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed))

	e := Embedder{Arch: arch}
	ch := arch.Input.Channels
	for _, s := range arch.Convs {
		e.Convs = append(e.Convs, newConv(s.Kernel, ch, s.Filters, rng))
		ch = s.Filters
	}
	h, w, c := arch.convOutput()
	in := h * w * c
	for _, s := range arch.Dense {
		e.Dense = append(e.Dense, newDense(in, s.Units, rng))
		in = s.Units
	}
	return &Network{Embedder: e, Head: Head{newDense(in, 1, rng)}}, nil
}

// Validate checks every layer's dimensions and weight counts against Arch
func (n *Network) Validate() error {
	a := n.Embedder.Arch
	if err := a.Validate(); err != nil {
		return err
	}
	if len(n.Embedder.Convs) != len(a.Convs) || len(n.Embedder.Dense) != len(a.Dense) {
		return fmt.Errorf("network has %d conv and %d dense layers, architecture has %d and %d",
			len(n.Embedder.Convs), len(n.Embedder.Dense), len(a.Convs), len(a.Dense))
	}
	ch := a.Input.Channels
	for i, s := range a.Convs {
		c := n.Embedder.Convs[i]
		if c.Kernel != s.Kernel || c.In != ch || c.Out != s.Filters ||
			len(c.W) != c.Kernel*c.Kernel*c.In*c.Out || len(c.B) != c.Out {
			return fmt.Errorf("conv %d does not match its architecture", i)
		}
		ch = s.Filters
	}
	h, w, c := a.convOutput()
	in := h * w * c
	for i, s := range a.Dense {
		d := n.Embedder.Dense[i]
		if d.In != in || d.Out != s.Units || len(d.W) != d.In*d.Out || len(d.B) != d.Out {
			return fmt.Errorf("dense %d does not match its architecture", i)
		}
		in = s.Units
	}
	if n.Head.In != in || n.Head.Out != 1 || len(n.Head.W) != in || len(n.Head.B) != 1 {
		return fmt.Errorf("head does not match an embedding of %d", in)
	}
	return nil
}

// Arch returns the layout the network was built with
func (n *Network) Arch() Arch {
	return n.Embedder.Arch
}

// ZeroLike returns a network of the same shape with every parameter zero,
// used as a gradient accumulator.
func (n *Network) ZeroLike() *Network {
	z := &Network{Embedder: Embedder{Arch: n.Embedder.Arch}, Head: Head{n.Head.zeroLike()}}
	for i := range n.Embedder.Convs {
		z.Embedder.Convs = append(z.Embedder.Convs, n.Embedder.Convs[i].zeroLike())
	}
	for i := range n.Embedder.Dense {
		z.Embedder.Dense = append(z.Embedder.Dense, n.Embedder.Dense[i].zeroLike())
	}
	return z
}

// Vectors lists every parameter slice in a fixed order. The slices alias the
// network, so writes through them update the weights.
func (n *Network) Vectors() [][]float64 {
	var out [][]float64
	for i := range n.Embedder.Convs {
		out = append(out, n.Embedder.Convs[i].W, n.Embedder.Convs[i].B)
	}
	for i := range n.Embedder.Dense {
		out = append(out, n.Embedder.Dense[i].W, n.Embedder.Dense[i].B)
	}
	return append(out, n.Head.W, n.Head.B)
}

// ParamCount is the number of trainable values
func (n *Network) ParamCount() int {
	total := 0
	for _, v := range n.Vectors() {
		total += len(v)
	}
	return total
}

// Zero resets every parameter to zero
func (n *Network) Zero() {
	for _, v := range n.Vectors() {
		for i := range v {
			v[i] = 0
		}
	}
}

// Accumulate adds o's parameters into n. Both must share one architecture.
func (n *Network) Accumulate(o *Network) {
	dst, src := n.Vectors(), o.Vectors()
	for i := range dst {
		for j, v := range src[i] {
			dst[i][j] += v
		}
	}
}

// Embed maps one image to its embedding with dropout disabled
func (n *Network) Embed(img *types.Tensor) ([]float64, error) {
	if err := n.Embedder.Arch.CheckInput(img.Shape()); err != nil {
		return nil, err
	}
	out, _ := n.Embedder.forward(img.Data, nil, false)
	return out, nil
}

// HeadScore applies the distance head to two embeddings
func (n *Network) HeadScore(a, b []float64) (float64, error) {
	if len(a) != n.Head.In {
		return 0, sigerr.NewShapeError("head input", n.Head.In, len(a))
	}
	if len(b) != n.Head.In {
		return 0, sigerr.NewShapeError("head input", n.Head.In, len(b))
	}
	s, _ := n.Head.score(a, b)
	return s, nil
}

// Score returns the similarity of two normalized images
func (n *Network) Score(a, b *types.Tensor) (float64, error) {
	ea, err := n.Embed(a)
	if err != nil {
		return 0, err
	}
	eb, err := n.Embed(b)
	if err != nil {
		return 0, err
	}
	return n.HeadScore(ea, eb)
}

// PairTrace keeps the activations of one training forward pass
type PairTrace struct {
	Score float64
	a, b  *branchTrace
	ea    []float64
	eb    []float64
	diff  []float64
}

// ForwardPair scores a pair and records what BackwardPair needs. A nil rng
// disables dropout; otherwise each branch draws its own masks from it.
func (n *Network) ForwardPair(a, b *types.Tensor, rng *rand.Rand) (*PairTrace, error) {
	if err := n.Embedder.Arch.CheckInput(a.Shape()); err != nil {
		return nil, err
	}
	if err := n.Embedder.Arch.CheckInput(b.Shape()); err != nil {
		return nil, err
	}
	ea, ta := n.Embedder.forward(a.Data, rng, true)
	eb, tb := n.Embedder.forward(b.Data, rng, true)
	s, diff := n.Head.score(ea, eb)
	return &PairTrace{Score: s, a: ta, b: tb, ea: ea, eb: eb, diff: diff}, nil
}

// BackwardPair adds the gradient of a loss with d loss / d score = ds into g
func (n *Network) BackwardPair(tr *PairTrace, ds float64, g *Network) {
	dz := ds * tr.Score * (1 - tr.Score)
	g.Head.B[0] += dz
	ga := make([]float64, len(tr.diff))
	gb := make([]float64, len(tr.diff))
	for i, d := range tr.diff {
		g.Head.W[i] += dz * d
		dd := dz * n.Head.W[i]
		// d|x|/dx taken as 0 at 0
		switch {
		case tr.ea[i] > tr.eb[i]:
			ga[i], gb[i] = dd, -dd
		case tr.ea[i] < tr.eb[i]:
			ga[i], gb[i] = -dd, dd
		}
	}
	n.Embedder.backward(tr.a, ga, &g.Embedder)
	n.Embedder.backward(tr.b, gb, &g.Embedder)
}

// score returns sigmoid(w . |a-b| + b) and the distance vector
func (h *Head) score(a, b []float64) (float64, []float64) {
	diff := make([]float64, len(a))
	z := h.B[0]
	for i := range a {
		diff[i] = math.Abs(a[i] - b[i])
		z += h.W[i] * diff[i]
	}
	return sigmoid(z), diff
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

type convTrace struct {
	in      []float64
	h, w    int
	act     []float64
	lrnBase []float64
	poolIn  int
	argmax  []int
	mask    []float64
}

type denseTrace struct {
	in   []float64
	act  []float64
	mask []float64
}

type branchTrace struct {
	convs []convTrace
	dense []denseTrace
}

func (e *Embedder) forward(x []float64, rng *rand.Rand, keep bool) ([]float64, *branchTrace) {
	var tr *branchTrace
	if keep {
		tr = &branchTrace{}
	}
	a := e.Arch
	cur := x
	h, w := a.Input.Height, a.Input.Width
	for i, s := range a.Convs {
		conv := &e.Convs[i]
		ct := convTrace{in: cur, h: h, w: w}
		cur = conv.forward(cur, h, w)
		ct.act = cur
		if s.LRN {
			cur, ct.lrnBase = a.LRN.Forward(cur, conv.Out)
		}
		if s.Pool {
			ct.poolIn = len(cur)
			cur, ct.argmax, h, w = maxPool(cur, h, w, conv.Out, a.PoolSize, a.PoolStride)
		}
		if s.Dropout > 0 && rng != nil {
			ct.mask = dropoutMask(len(cur), s.Dropout, rng)
			cur = applyMask(cur, ct.mask)
		}
		if keep {
			tr.convs = append(tr.convs, ct)
		}
	}
	for i, s := range a.Dense {
		dt := denseTrace{in: cur}
		cur = e.Dense[i].forward(cur)
		dt.act = cur
		if s.Dropout > 0 && rng != nil {
			dt.mask = dropoutMask(len(cur), s.Dropout, rng)
			cur = applyMask(cur, dt.mask)
		}
		if keep {
			tr.dense = append(tr.dense, dt)
		}
	}
	return cur, tr
}

func (e *Embedder) backward(tr *branchTrace, grad []float64, g *Embedder) {
	a := e.Arch
	for i := len(tr.dense) - 1; i >= 0; i-- {
		dt := tr.dense[i]
		if dt.mask != nil {
			grad = applyMask(grad, dt.mask)
		}
		grad = e.Dense[i].backward(dt.in, dt.act, grad, &g.Dense[i], i > 0 || len(tr.convs) > 0)
	}
	for i := len(tr.convs) - 1; i >= 0; i-- {
		ct := tr.convs[i]
		conv := &e.Convs[i]
		if ct.mask != nil {
			grad = applyMask(grad, ct.mask)
		}
		if ct.argmax != nil {
			grad = maxPoolBackward(grad, ct.argmax, ct.poolIn)
		}
		if ct.lrnBase != nil {
			grad = a.LRN.Backward(ct.act, ct.lrnBase, grad, conv.Out)
		}
		grad = conv.backward(ct.in, ct.act, grad, ct.h, ct.w, &g.Convs[i], i > 0)
	}
}

func (n *Network) String() string {
	a := n.Arch()
	return fmt.Sprintf("siamese network %dx%dx%d -> %d (%d params)",
		a.Input.Height, a.Input.Width, a.Input.Channels, a.EmbeddingSize(), n.ParamCount())
}
