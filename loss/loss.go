// Package loss implements the contrastive objective used to train the twin network.
package loss

import (
	"math"

	"sigverify/sigerr"
)

// Contrastive is the loss over similarity scores in (0,1):
//
//	alpha*(1-y)*s^2 + beta*y*max(0, margin-s)^2
//
// averaged over the batch. Label 1 pairs are pulled up to the margin and
// label 0 pairs are pushed toward zero.
type Contrastive struct {
	Margin float64 `json:"margin" cbor:"margin"`
	Alpha  float64 `json:"alpha" cbor:"alpha"`
	Beta   float64 `json:"beta" cbor:"beta"`
}

// Default returns margin, alpha and beta of 1
func Default() Contrastive {
	return Contrastive{Margin: 1, Alpha: 1, Beta: 1}
}

// Example returns the unaveraged loss of one pair
func (c Contrastive) Example(label int, score float64) float64 {
	y := float64(label)
	gap := math.Max(0, c.Margin-score)
	return c.Alpha*(1-y)*score*score + c.Beta*y*gap*gap
}

// ExampleGrad returns d Example / d score
func (c Contrastive) ExampleGrad(label int, score float64) float64 {
	y := float64(label)
	gap := math.Max(0, c.Margin-score)
	return 2*c.Alpha*(1-y)*score - 2*c.Beta*y*gap
}

// Loss returns the batch mean. Mismatched or empty inputs are shape errors.
func (c Contrastive) Loss(labels []int, scores []float64) (float64, error) {
	if err := check(labels, scores); err != nil {
		return 0, err
	}
	var sum float64
	for i, s := range scores {
		sum += c.Example(labels[i], s)
	}
	return sum / float64(len(scores)), nil
}

// Grad returns d Loss / d score_i for every example in the batch
func (c Contrastive) Grad(labels []int, scores []float64) ([]float64, error) {
	if err := check(labels, scores); err != nil {
		return nil, err
	}
	n := float64(len(scores))
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = c.ExampleGrad(labels[i], s) / n
	}
	return out, nil
}

func check(labels []int, scores []float64) error {
	if len(labels) != len(scores) {
		return sigerr.NewShapeError("contrastive loss labels/scores", len(labels), len(scores))
	}
	if len(scores) == 0 {
		return &sigerr.ShapeError{What: "contrastive loss batch", Want: "at least 1 example", Got: "0"}
	}
	return nil
}
