// Package verifier scores signature pairs against the published model and
// evaluates models on labelled pairs.
package verifier

import (
	"context"
	"fmt"
	"math"

	"sigverify/imageprocessor"
	"sigverify/logging"
	"sigverify/model"
	"sigverify/types"
)

// DefaultThreshold is used when a request does not supply one
const DefaultThreshold = 0.5

// Service answers verification requests from whatever model the holder
// currently publishes.
type Service struct {
	Holder *model.Holder
	// Shape overrides the input size; zero means the published model's own
	Shape imageprocessor.Shape
}

// NewService creates a service reading models from h
func NewService(h *model.Holder, shape imageprocessor.Shape) *Service {
	return &Service{Holder: h, Shape: shape}
}

// Decide turns a similarity into a verdict. A pair is genuine only when the
// score is strictly above the threshold. Confidence is the distance from 0.5
// scaled to [0,1] and does not depend on the threshold.
func Decide(score, threshold float64) types.PredictionResult {
	return types.PredictionResult{
		SimilarityScore: score,
		IsGenuine:       score > threshold,
		Confidence:      math.Abs(score-0.5) * 2,
		Threshold:       threshold,
	}
}

// Verify normalizes two raw images and scores them with one snapshot
func (s *Service) Verify(ctx context.Context, rawA, rawB []byte, threshold float64) (types.PredictionResult, error) {
	snap, err := s.Holder.Current()
	if err != nil {
		return types.PredictionResult{}, err
	}
	a, err := imageprocessor.NormalizeNamed("signature1", rawA, s.shapeFor(snap))
	if err != nil {
		return types.PredictionResult{}, err
	}
	b, err := imageprocessor.NormalizeNamed("signature2", rawB, s.shapeFor(snap))
	if err != nil {
		return types.PredictionResult{}, err
	}
	return s.score(ctx, snap, a, b, threshold)
}

// VerifyEncoded is Verify for base64 payloads, optionally data URIs
func (s *Service) VerifyEncoded(ctx context.Context, encA, encB string, threshold float64) (types.PredictionResult, error) {
	snap, err := s.Holder.Current()
	if err != nil {
		return types.PredictionResult{}, err
	}
	return s.VerifyEncodedWith(ctx, snap, encA, encB, threshold)
}

// VerifyEncodedWith is VerifyEncoded against a snapshot the caller already holds
func (s *Service) VerifyEncodedWith(ctx context.Context, snap *model.Snapshot, encA, encB string, threshold float64) (types.PredictionResult, error) {
	a, err := imageprocessor.NormalizePayload("signature1", encA, s.shapeFor(snap))
	if err != nil {
		return types.PredictionResult{}, err
	}
	b, err := imageprocessor.NormalizePayload("signature2", encB, s.shapeFor(snap))
	if err != nil {
		return types.PredictionResult{}, err
	}
	return s.score(ctx, snap, a, b, threshold)
}

func (s *Service) shapeFor(snap *model.Snapshot) imageprocessor.Shape {
	if s.Shape.Width > 0 && s.Shape.Height > 0 {
		return s.Shape
	}
	in := snap.Artifact.Arch.Input
	return imageprocessor.Shape{Width: in.Width, Height: in.Height}
}

func (s *Service) score(ctx context.Context, snap *model.Snapshot, a, b *types.Tensor, threshold float64) (types.PredictionResult, error) {
	if err := ctx.Err(); err != nil {
		return types.PredictionResult{}, err
	}
	score, err := snap.Network().Score(a, b)
	if err != nil {
		return types.PredictionResult{}, fmt.Errorf("score pair: %w", err)
	}
	result := Decide(score, threshold)
	logging.DebugLog("Verified pair with model %s: score %.4f genuine=%v", snap.Artifact.ID, score, result.IsGenuine)
	return result, nil
}
