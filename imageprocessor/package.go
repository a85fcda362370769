// Package imageprocessor turns raw signature scans into the fixed-shape,
// single-channel, ink-positive tensors the embedding network consumes.
package imageprocessor

import "gocv.io/x/gocv"

// Decoder is implemented by every image decoder in the registry
type Decoder interface {
	// Name identifies the decoder in logs and errors
	Name() string

	// Decode turns raw bytes into an OpenCV matrix. An empty matrix
	// together with a nil error is never returned.
	Decode(raw []byte) (gocv.Mat, error)
}
