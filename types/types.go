package types

import (
	"fmt"

	"github.com/emirpasic/gods/sets/hashset"
)

// Tensor is a dense row-major height x width x channels volume
type Tensor struct {
	H    int
	W    int
	C    int
	Data []float64
}

// NewTensor allocates a zeroed tensor of the given shape
func NewTensor(h, w, c int) *Tensor {
	return &Tensor{H: h, W: w, C: c, Data: make([]float64, h*w*c)}
}

// At returns the value at row y, column x, channel c
func (t *Tensor) At(y, x, c int) float64 {
	return t.Data[(y*t.W+x)*t.C+c]
}

// Set stores v at row y, column x, channel c
func (t *Tensor) Set(y, x, c int, v float64) {
	t.Data[(y*t.W+x)*t.C+c] = v
}

// Shape returns the tensor dimensions as (H, W, C)
func (t *Tensor) Shape() (int, int, int) {
	return t.H, t.W, t.C
}

// Len returns the number of elements
func (t *Tensor) Len() int {
	return t.H * t.W * t.C
}

// SameShape reports whether both tensors have identical dimensions
func (t *Tensor) SameShape(o *Tensor) bool {
	return t.H == o.H && t.W == o.W && t.C == o.C
}

// Clone returns a deep copy
func (t *Tensor) Clone() *Tensor {
	data := make([]float64, len(t.Data))
	copy(data, t.Data)
	return &Tensor{H: t.H, W: t.W, C: t.C, Data: data}
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor[%d,%d,%d]", t.H, t.W, t.C)
}

// SampleKind distinguishes genuine signatures from forgeries
type SampleKind int

const (
	Original SampleKind = iota
	Forgery
)

func (k SampleKind) String() string {
	switch k {
	case Original:
		return "original"
	case Forgery:
		return "forgery"
	default:
		return "unknown"
	}
}

// Sample is one normalized signature image and where it came from
type Sample struct {
	Signer int        `json:"signer"`
	Kind   SampleKind `json:"kind"`
	Index  int        `json:"index"`
	Path   string     `json:"path"`
	Digest string     `json:"digest"`
	Image  *Tensor    `json:"-"`
}

// SignerCorpus holds the ordered genuine and forged samples of one signer.
// A sample, path or content digest appears at most once across both kinds.
type SignerCorpus struct {
	Signer    int
	Originals []*Sample
	Forgeries []*Sample
	seen      *hashset.Set
}

// NewSignerCorpus creates an empty corpus for the given signer
func NewSignerCorpus(signer int) *SignerCorpus {
	return &SignerCorpus{Signer: signer, seen: hashset.New()}
}

// Add appends the sample to the sequence matching its kind. It returns false
// and leaves the corpus unchanged when the sample, its path or its digest is
// already present.
func (c *SignerCorpus) Add(s *Sample) bool {
	if c.seen == nil {
		c.seen = hashset.New()
	}
	keys := []interface{}{s}
	if s.Path != "" {
		keys = append(keys, "path:"+s.Path)
	}
	if s.Digest != "" {
		keys = append(keys, "digest:"+s.Digest)
	}
	if anySeen(c.seen, keys) {
		return false
	}
	c.seen.Add(keys...)

	if s.Kind == Forgery {
		c.Forgeries = append(c.Forgeries, s)
	} else {
		c.Originals = append(c.Originals, s)
	}
	return true
}

func anySeen(set *hashset.Set, keys []interface{}) bool {
	for _, k := range keys {
		if set.Contains(k) {
			return true
		}
	}
	return false
}

// Pair is two images of the same signer and their similarity label.
// Label 1 means both are genuine, 0 means genuine versus forgery.
type Pair struct {
	A      *Tensor
	B      *Tensor
	Label  int
	Signer int
	IndexA int
	IndexB int
}

// Dataset is an ordered pair sequence with its parallel label sequence
type Dataset struct {
	Pairs  []Pair
	Labels []int
}

// Len returns the number of pairs
func (d Dataset) Len() int {
	return len(d.Pairs)
}

// Append adds a pair and its label
func (d *Dataset) Append(p Pair) {
	d.Pairs = append(d.Pairs, p)
	d.Labels = append(d.Labels, p.Label)
}

// Subset returns the pairs at the given indices, in index order
func (d Dataset) Subset(indices []int) Dataset {
	out := Dataset{
		Pairs:  make([]Pair, 0, len(indices)),
		Labels: make([]int, 0, len(indices)),
	}
	for _, i := range indices {
		out.Pairs = append(out.Pairs, d.Pairs[i])
		out.Labels = append(out.Labels, d.Labels[i])
	}
	return out
}

// Positives counts pairs labelled 1
func (d Dataset) Positives() int {
	n := 0
	for _, l := range d.Labels {
		if l == 1 {
			n++
		}
	}
	return n
}

// PredictionResult is the outcome of verifying one signature pair
type PredictionResult struct {
	SimilarityScore float64 `json:"similarity_score"`
	IsGenuine       bool    `json:"is_genuine"`
	Confidence      float64 `json:"confidence"`
	Threshold       float64 `json:"threshold"`
}

// EvalResult holds loss and accuracy over a labelled pair set
type EvalResult struct {
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
}

// SampleRecord is the catalogue entry of one scanned corpus file
type SampleRecord struct {
	Path        string
	Signer      int
	Kind        SampleKind
	Index       int
	Width       int
	Height      int
	ModifiedAt  string
	Size        int64
	Digest      string
	AverageHash string
}

// ModelRecord is the catalogue entry of one saved model artifact
type ModelRecord struct {
	ID          string  `json:"id"`
	Path        string  `json:"path"`
	CreatedAt   string  `json:"created_at"`
	Margin      float64 `json:"margin"`
	Alpha       float64 `json:"alpha"`
	Beta        float64 `json:"beta"`
	Epochs      int     `json:"epochs"`
	TrainPairs  int     `json:"train_pairs"`
	ValPairs    int     `json:"val_pairs"`
	TestPairs   int     `json:"test_pairs"`
	ValLoss     float64 `json:"val_loss"`
	ValAccuracy float64 `json:"val_accuracy"`
}
