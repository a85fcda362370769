// Package siamese implements the twin convolutional embedding network, the
// absolute-difference similarity head and the optimizer that trains them.
//
// Tensors are height x width x channels, row-major, matching the layout the
// image normalizer produces. Heavy products go through gonum's BLAS.
package siamese

import (
	"fmt"

	"sigverify/sigerr"
)

// InputShape is the size of one normalized image
type InputShape struct {
	Height   int `json:"height" cbor:"height"`
	Width    int `json:"width" cbor:"width"`
	Channels int `json:"channels" cbor:"channels"`
}

// ConvSpec describes one convolution stage: a stride-1 "same" convolution
// with ReLU, then optionally LRN, max pooling and dropout in that order.
type ConvSpec struct {
	Filters int     `json:"filters" cbor:"filters"`
	Kernel  int     `json:"kernel" cbor:"kernel"`
	LRN     bool    `json:"lrn" cbor:"lrn"`
	Pool    bool    `json:"pool" cbor:"pool"`
	Dropout float64 `json:"dropout" cbor:"dropout"`
}

// DenseSpec describes one fully connected ReLU layer and the dropout after it
type DenseSpec struct {
	Units   int     `json:"units" cbor:"units"`
	Dropout float64 `json:"dropout" cbor:"dropout"`
}

// Arch is everything needed to rebuild a network apart from its weights
type Arch struct {
	Input      InputShape  `json:"input" cbor:"input"`
	Convs      []ConvSpec  `json:"convs" cbor:"convs"`
	Dense      []DenseSpec `json:"dense" cbor:"dense"`
	LRN        LRN         `json:"lrn" cbor:"lrn"`
	PoolSize   int         `json:"pool_size" cbor:"pool_size"`
	PoolStride int         `json:"pool_stride" cbor:"pool_stride"`
}

// DefaultArch returns the SigNet layout for a height x width grayscale input
func DefaultArch(height, width int) Arch {
	return Arch{
		Input: InputShape{Height: height, Width: width, Channels: 1},
		Convs: []ConvSpec{
			{Filters: 96, Kernel: 11, LRN: true, Pool: true},
			{Filters: 256, Kernel: 5, LRN: true, Pool: true, Dropout: 0.3},
			{Filters: 384, Kernel: 3},
			{Filters: 256, Kernel: 3, Pool: true, Dropout: 0.3},
		},
		Dense: []DenseSpec{
			{Units: 1024, Dropout: 0.5},
			{Units: 128},
		},
		LRN:        DefaultLRN(),
		PoolSize:   3,
		PoolStride: 2,
	}
}

// EmbeddingSize is the length of the vector each branch produces
func (a Arch) EmbeddingSize() int {
	if len(a.Dense) == 0 {
		h, w, c := a.convOutput()
		return h * w * c
	}
	return a.Dense[len(a.Dense)-1].Units
}

// Validate checks that every stage produces a non-empty output
func (a Arch) Validate() error {
	if a.Input.Height <= 0 || a.Input.Width <= 0 || a.Input.Channels <= 0 {
		return fmt.Errorf("invalid input shape %dx%dx%d", a.Input.Height, a.Input.Width, a.Input.Channels)
	}
	if len(a.Convs) == 0 && len(a.Dense) == 0 {
		return fmt.Errorf("architecture has no layers")
	}
	h, w := a.Input.Height, a.Input.Width
	for i, c := range a.Convs {
		if c.Filters <= 0 || c.Kernel <= 0 {
			return fmt.Errorf("conv %d: filters %d kernel %d", i, c.Filters, c.Kernel)
		}
		if c.Dropout < 0 || c.Dropout >= 1 {
			return fmt.Errorf("conv %d: dropout %v outside [0,1)", i, c.Dropout)
		}
		if c.Pool {
			if a.PoolSize <= 0 || a.PoolStride <= 0 {
				return fmt.Errorf("conv %d: pooling needs a positive size and stride", i)
			}
			h, w = pooled(h, a.PoolSize, a.PoolStride), pooled(w, a.PoolSize, a.PoolStride)
			if h <= 0 || w <= 0 {
				return fmt.Errorf("conv %d: input too small to pool", i)
			}
		}
	}
	for i, d := range a.Dense {
		if d.Units <= 0 {
			return fmt.Errorf("dense %d: units %d", i, d.Units)
		}
		if d.Dropout < 0 || d.Dropout >= 1 {
			return fmt.Errorf("dense %d: dropout %v outside [0,1)", i, d.Dropout)
		}
	}
	return nil
}

// CheckInput reports a ShapeError when t is not the size the network expects
func (a Arch) CheckInput(h, w, c int) error {
	if h != a.Input.Height || w != a.Input.Width || c != a.Input.Channels {
		return &sigerr.ShapeError{
			What: "network input",
			Want: fmt.Sprintf("%dx%dx%d", a.Input.Height, a.Input.Width, a.Input.Channels),
			Got:  fmt.Sprintf("%dx%dx%d", h, w, c),
		}
	}
	return nil
}

// convOutput returns the shape entering the first dense layer
func (a Arch) convOutput() (int, int, int) {
	h, w, c := a.Input.Height, a.Input.Width, a.Input.Channels
	for _, s := range a.Convs {
		c = s.Filters
		if s.Pool {
			h, w = pooled(h, a.PoolSize, a.PoolStride), pooled(w, a.PoolSize, a.PoolStride)
		}
	}
	return h, w, c
}

// pooled is the output length of a valid-padding pool
func pooled(n, size, stride int) int {
	if n < size {
		return 0
	}
	return (n-size)/stride + 1
}
