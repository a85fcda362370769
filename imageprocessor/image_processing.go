package imageprocessor

import (
	"fmt"
	"image"
	"os"

	"sigverify/sigerr"
	"sigverify/types"

	"gocv.io/x/gocv"
)

// Shape is the fixed model input size in pixels
type Shape struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DefaultShape is the 110x70 input the reference model was trained on
var DefaultShape = Shape{Width: 110, Height: 70}

// Normalize decodes raw and returns a Height x Width x 1 tensor in [0,1]
// with ink near 1 and paper near 0. Any decodable image is accepted; the
// resize is unconditional.
func Normalize(raw []byte, shape Shape) (*types.Tensor, error) {
	return NormalizeNamed("", raw, shape)
}

// NormalizeNamed is Normalize with a source name for error reports
func NormalizeNamed(source string, raw []byte, shape Shape) (*types.Tensor, error) {
	img, err := DefaultRegistry().Decode(source, raw)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	t, err := NormalizeMat(img, shape)
	if err != nil {
		return nil, &sigerr.DecodeError{Source: source, Err: err}
	}
	return t, nil
}

// NormalizeFile reads and normalizes the image at path
func NormalizeFile(path string, shape Shape) (*types.Tensor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return NormalizeNamed(path, raw, shape)
}

// NormalizeMat applies grayscale conversion, Lanczos resize, scaling and
// inversion, in that order, to an already decoded matrix.
func NormalizeMat(img gocv.Mat, shape Shape) (*types.Tensor, error) {
	if img.Empty() {
		return nil, fmt.Errorf("cannot normalize empty image")
	}
	if shape.Width <= 0 || shape.Height <= 0 {
		return nil, fmt.Errorf("invalid target shape %dx%d", shape.Width, shape.Height)
	}

	gray, err := toGray(img)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(gray, &resized, image.Point{X: shape.Width, Y: shape.Height}, 0, 0, gocv.InterpolationLanczos4)

	out := types.NewTensor(shape.Height, shape.Width, 1)

	switch resized.Type() {
	case gocv.MatTypeCV8UC1:
		for y := 0; y < shape.Height; y++ {
			for x := 0; x < shape.Width; x++ {
				v := float64(resized.GetUCharAt(y, x)) / 255.0
				out.Set(y, x, 0, 1-v)
			}
		}
	case gocv.MatTypeCV16UC1:
		wide := gocv.NewMat()
		defer wide.Close()
		resized.ConvertTo(&wide, gocv.MatTypeCV32F)
		for y := 0; y < shape.Height; y++ {
			for x := 0; x < shape.Width; x++ {
				v := float64(wide.GetFloatAt(y, x)) / 65535.0
				out.Set(y, x, 0, 1-v)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported pixel type %v", resized.Type())
	}

	return out, nil
}

// toGray returns a single-channel copy of img using OpenCV's luminance weights
func toGray(img gocv.Mat) (gocv.Mat, error) {
	gray := gocv.NewMat()
	switch img.Channels() {
	case 1:
		img.CopyTo(&gray)
	case 3:
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	case 4:
		gocv.CvtColor(img, &gray, gocv.ColorBGRAToGray)
	default:
		gray.Close()
		return gocv.NewMat(), fmt.Errorf("unsupported channel count %d", img.Channels())
	}
	return gray, nil
}
