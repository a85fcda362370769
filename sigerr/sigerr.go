// Package sigerr defines the error kinds reported by the verification pipeline.
// Callers inspect them with errors.As / errors.Is instead of matching messages.
package sigerr

import (
	"errors"
	"fmt"
)

// ErrModelNotLoaded matches any ModelNotLoadedError via errors.Is
var ErrModelNotLoaded = &ModelNotLoadedError{}

// DecodeError means bytes (or base64 text) could not be interpreted as an image
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("decode image: %v", e.Err)
	}
	return fmt.Sprintf("decode image %s: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ShapeError means two tensors or vectors that must agree in size do not
type ShapeError struct {
	What string
	Want string
	Got  string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("shape mismatch in %s: want %s, got %s", e.What, e.Want, e.Got)
}

// NewShapeError builds a ShapeError from integer sizes
func NewShapeError(what string, want, got int) *ShapeError {
	return &ShapeError{What: what, Want: fmt.Sprint(want), Got: fmt.Sprint(got)}
}

// ModelNotLoadedError means no model snapshot has been published yet
type ModelNotLoadedError struct {
	Reason string
}

func (e *ModelNotLoadedError) Error() string {
	if e.Reason == "" {
		return "model not loaded"
	}
	return "model not loaded: " + e.Reason
}

// Is makes every ModelNotLoadedError match ErrModelNotLoaded
func (e *ModelNotLoadedError) Is(target error) bool {
	_, ok := target.(*ModelNotLoadedError)
	return ok
}

// TrainingError wraps whatever stopped a training run
type TrainingError struct {
	Stage string
	Err   error
}

func (e *TrainingError) Error() string {
	return fmt.Sprintf("training failed during %s: %v", e.Stage, e.Err)
}

func (e *TrainingError) Unwrap() error { return e.Err }

// SampleError records a single corpus file that could not be used
type SampleError struct {
	Signer int
	Kind   string
	Path   string
	Err    error
}

func (e *SampleError) Error() string {
	return fmt.Sprintf("signer %d %s sample %s: %v", e.Signer, e.Kind, e.Path, e.Err)
}

func (e *SampleError) Unwrap() error { return e.Err }

// Kind names the error category for transport layers; "internal" for anything else
func Kind(err error) string {
	var (
		decodeErr   *DecodeError
		shapeErr    *ShapeError
		trainingErr *TrainingError
		sampleErr   *SampleError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrModelNotLoaded):
		return "model_not_loaded"
	case errors.As(err, &decodeErr):
		return "decode"
	case errors.As(err, &shapeErr):
		return "shape"
	case errors.As(err, &trainingErr):
		return "training"
	case errors.As(err, &sampleErr):
		return "sample"
	default:
		return "internal"
	}
}
