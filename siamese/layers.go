package siamese

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
)

// Conv holds a convolution kernel laid out as (k*k*in) x out, row-major,
// where row (ky*k+kx)*in+c is the weight for input channel c at offset (ky,kx).
type Conv struct {
	Kernel int       `cbor:"kernel"`
	In     int       `cbor:"in"`
	Out    int       `cbor:"out"`
	W      []float64 `cbor:"w"`
	B      []float64 `cbor:"b"`
}

// Dense holds an in x out weight matrix, row-major, and its bias
type Dense struct {
	In  int       `cbor:"in"`
	Out int       `cbor:"out"`
	W   []float64 `cbor:"w"`
	B   []float64 `cbor:"b"`
}

func newConv(kernel, in, out int, rng *rand.Rand) Conv {
	c := Conv{Kernel: kernel, In: in, Out: out,
		W: make([]float64, kernel*kernel*in*out),
		B: make([]float64, out),
	}
	glorot(c.W, kernel*kernel*in, kernel*kernel*out, rng)
	return c
}

func newDense(in, out int, rng *rand.Rand) Dense {
	d := Dense{In: in, Out: out, W: make([]float64, in*out), B: make([]float64, out)}
	glorot(d.W, in, out, rng)
	return d
}

// glorot fills w from U(-limit, limit) with limit sqrt(6/(fanIn+fanOut))
func glorot(w []float64, fanIn, fanOut int, rng *rand.Rand) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range w {
		w[i] = (2*rng.Float64() - 1) * limit
	}
}

func (c *Conv) zeroLike() Conv {
	return Conv{Kernel: c.Kernel, In: c.In, Out: c.Out, W: make([]float64, len(c.W)), B: make([]float64, len(c.B))}
}

func (d *Dense) zeroLike() Dense {
	return Dense{In: d.In, Out: d.Out, W: make([]float64, len(d.W)), B: make([]float64, len(d.B))}
}

// im2col unrolls every k x k neighbourhood of an h x w x in volume into one
// row, zero padding the borders the way "same" padding does.
func (c *Conv) im2col(in []float64, h, w int) []float64 {
	k, ch := c.Kernel, c.In
	pad := (k - 1) / 2
	cols := k * k * ch
	col := make([]float64, h*w*cols)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			row := col[(y*w+x)*cols:]
			for ky := 0; ky < k; ky++ {
				sy := y + ky - pad
				if sy < 0 || sy >= h {
					continue
				}
				for kx := 0; kx < k; kx++ {
					sx := x + kx - pad
					if sx < 0 || sx >= w {
						continue
					}
					copy(row[(ky*k+kx)*ch:(ky*k+kx+1)*ch], in[(sy*w+sx)*ch:(sy*w+sx+1)*ch])
				}
			}
		}
	}
	return col
}

// col2im scatters row gradients back onto the h x w x in volume
func (c *Conv) col2im(col []float64, h, w int) []float64 {
	k, ch := c.Kernel, c.In
	pad := (k - 1) / 2
	cols := k * k * ch
	out := make([]float64, h*w*ch)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			row := col[(y*w+x)*cols:]
			for ky := 0; ky < k; ky++ {
				sy := y + ky - pad
				if sy < 0 || sy >= h {
					continue
				}
				for kx := 0; kx < k; kx++ {
					sx := x + kx - pad
					if sx < 0 || sx >= w {
						continue
					}
					dst := out[(sy*w+sx)*ch : (sy*w+sx+1)*ch]
					src := row[(ky*k+kx)*ch : (ky*k+kx+1)*ch]
					for i := range dst {
						dst[i] += src[i]
					}
				}
			}
		}
	}
	return out
}

// forward computes relu(conv(in) + b) for an h x w x In volume
func (c *Conv) forward(in []float64, h, w int) []float64 {
	col := c.im2col(in, h, w)
	n := h * w
	out := make([]float64, n*c.Out)
	for p := 0; p < n; p++ {
		copy(out[p*c.Out:(p+1)*c.Out], c.B)
	}
	k := c.Kernel * c.Kernel * c.In
	blas64.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas64.General{Rows: n, Cols: k, Stride: k, Data: col},
		blas64.General{Rows: k, Cols: c.Out, Stride: c.Out, Data: c.W},
		1,
		blas64.General{Rows: n, Cols: c.Out, Stride: c.Out, Data: out})
	relu(out)
	return out
}

// backward accumulates kernel and bias gradients into g and, when needIn is
// set, returns d loss / d in. out is the activated forward output and gradOut
// is d loss / d out.
func (c *Conv) backward(in, out, gradOut []float64, h, w int, g *Conv, needIn bool) []float64 {
	n := h * w
	dz := make([]float64, len(gradOut))
	for i, v := range out {
		if v > 0 {
			dz[i] = gradOut[i]
		}
	}
	for p := 0; p < n; p++ {
		row := dz[p*c.Out : (p+1)*c.Out]
		for o, v := range row {
			g.B[o] += v
		}
	}

	k := c.Kernel * c.Kernel * c.In
	col := c.im2col(in, h, w)
	colM := blas64.General{Rows: n, Cols: k, Stride: k, Data: col}
	dzM := blas64.General{Rows: n, Cols: c.Out, Stride: c.Out, Data: dz}
	blas64.Gemm(blas.Trans, blas.NoTrans, 1, colM, dzM, 1,
		blas64.General{Rows: k, Cols: c.Out, Stride: c.Out, Data: g.W})
	if !needIn {
		return nil
	}

	dcol := make([]float64, n*k)
	blas64.Gemm(blas.NoTrans, blas.Trans, 1, dzM,
		blas64.General{Rows: k, Cols: c.Out, Stride: c.Out, Data: c.W},
		0,
		blas64.General{Rows: n, Cols: k, Stride: k, Data: dcol})
	return c.col2im(dcol, h, w)
}

// forward computes relu(in . W + b)
func (d *Dense) forward(in []float64) []float64 {
	out := make([]float64, d.Out)
	copy(out, d.B)
	blas64.Gemv(blas.Trans, 1,
		blas64.General{Rows: d.In, Cols: d.Out, Stride: d.Out, Data: d.W},
		blas64.Vector{N: d.In, Inc: 1, Data: in},
		1,
		blas64.Vector{N: d.Out, Inc: 1, Data: out})
	relu(out)
	return out
}

func (d *Dense) backward(in, out, gradOut []float64, g *Dense, needIn bool) []float64 {
	dz := make([]float64, d.Out)
	for i, v := range out {
		if v > 0 {
			dz[i] = gradOut[i]
		}
	}
	for i, v := range dz {
		g.B[i] += v
	}
	blas64.Ger(1,
		blas64.Vector{N: d.In, Inc: 1, Data: in},
		blas64.Vector{N: d.Out, Inc: 1, Data: dz},
		blas64.General{Rows: d.In, Cols: d.Out, Stride: d.Out, Data: g.W})
	if !needIn {
		return nil
	}
	dx := make([]float64, d.In)
	blas64.Gemv(blas.NoTrans, 1,
		blas64.General{Rows: d.In, Cols: d.Out, Stride: d.Out, Data: d.W},
		blas64.Vector{N: d.Out, Inc: 1, Data: dz},
		0,
		blas64.Vector{N: d.In, Inc: 1, Data: dx})
	return dx
}

func relu(v []float64) {
	for i, x := range v {
		if x < 0 {
			v[i] = 0
		}
	}
}

// maxPool is a valid-padding pool over an h x w x ch volume. argmax records
// the input offset each output was taken from.
func maxPool(in []float64, h, w, ch, size, stride int) (out []float64, argmax []int, oh, ow int) {
	oh, ow = pooled(h, size, stride), pooled(w, size, stride)
	out = make([]float64, oh*ow*ch)
	argmax = make([]int, len(out))
	for y := 0; y < oh; y++ {
		for x := 0; x < ow; x++ {
			for c := 0; c < ch; c++ {
				best := math.Inf(-1)
				at := -1
				for py := 0; py < size; py++ {
					for px := 0; px < size; px++ {
						i := ((y*stride+py)*w+x*stride+px)*ch + c
						if in[i] > best {
							best, at = in[i], i
						}
					}
				}
				o := (y*ow+x)*ch + c
				out[o], argmax[o] = best, at
			}
		}
	}
	return out, argmax, oh, ow
}

func maxPoolBackward(gradOut []float64, argmax []int, inLen int) []float64 {
	gradIn := make([]float64, inLen)
	for o, i := range argmax {
		gradIn[i] += gradOut[o]
	}
	return gradIn
}

// dropoutMask draws an inverted dropout mask: kept units are scaled by
// 1/(1-rate) so inference needs no rescaling.
func dropoutMask(n int, rate float64, rng *rand.Rand) []float64 {
	mask := make([]float64, n)
	keep := 1 / (1 - rate)
	for i := range mask {
		if rng.Float64() >= rate {
			mask[i] = keep
		}
	}
	return mask
}

func applyMask(v, mask []float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = v[i] * mask[i]
	}
	return out
}
