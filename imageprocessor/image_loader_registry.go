package imageprocessor

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"sigverify/logging"
	"sigverify/sigerr"

	"gocv.io/x/gocv"
)

// DecoderRegistry tries its decoders in registration order until one succeeds
type DecoderRegistry struct {
	decoders []Decoder
	mutex    sync.RWMutex
}

var (
	defaultRegistry     *DecoderRegistry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the shared registry: OpenCV first, then the Go
// image decoders, then netpbm.
func DefaultRegistry() *DecoderRegistry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewDecoderRegistry()
	})
	return defaultRegistry
}

// NewDecoderRegistry creates a registry with the standard decoders
func NewDecoderRegistry() *DecoderRegistry {
	registry := &DecoderRegistry{}
	registry.RegisterDecoder(NewOpenCVDecoder())
	registry.RegisterDecoder(NewGoImageDecoder())
	registry.RegisterDecoder(NewNetpbmDecoder())
	return registry
}

// RegisterDecoder appends a decoder to the chain
func (r *DecoderRegistry) RegisterDecoder(d Decoder) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.decoders = append(r.decoders, d)
}

// Decode returns the first successful decoding of raw. When every decoder
// fails the result is a *sigerr.DecodeError naming each attempt.
func (r *DecoderRegistry) Decode(source string, raw []byte) (gocv.Mat, error) {
	if len(raw) == 0 {
		return gocv.NewMat(), &sigerr.DecodeError{Source: source, Err: errors.New("empty input")}
	}

	r.mutex.RLock()
	decoders := make([]Decoder, len(r.decoders))
	copy(decoders, r.decoders)
	r.mutex.RUnlock()

	var failures []string
	for _, d := range decoders {
		img, err := safeDecode(d, raw)
		if err == nil {
			return img, nil
		}
		failures = append(failures, fmt.Sprintf("%s: %v", d.Name(), err))
	}

	logging.DebugLog("no decoder accepted %s (%d bytes)", source, len(raw))
	return gocv.NewMat(), &sigerr.DecodeError{
		Source: source,
		Err:    errors.New(strings.Join(failures, "; ")),
	}
}

// safeDecode runs one decoder and turns a panic inside it into an error
func safeDecode(d Decoder, raw []byte) (img gocv.Mat, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.LogError("panic in %s decoder: %v\n%s", d.Name(), r, string(debug.Stack()))
			img = gocv.NewMat()
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	img, err = d.Decode(raw)
	if err != nil {
		img.Close()
		return gocv.NewMat(), err
	}
	if img.Empty() {
		img.Close()
		return gocv.NewMat(), errors.New("decoded image is empty")
	}
	return img, nil
}
