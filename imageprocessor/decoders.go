package imageprocessor

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/spakin/netpbm"
	"gocv.io/x/gocv"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// OpenCVDecoder decodes with imdecode and keeps depth and channels as stored
type OpenCVDecoder struct{}

// NewOpenCVDecoder creates the primary decoder
func NewOpenCVDecoder() *OpenCVDecoder {
	return &OpenCVDecoder{}
}

func (d *OpenCVDecoder) Name() string { return "opencv" }

func (d *OpenCVDecoder) Decode(raw []byte) (gocv.Mat, error) {
	img, err := gocv.IMDecode(raw, gocv.IMReadUnchanged)
	if err != nil {
		return gocv.NewMat(), err
	}
	return img, nil
}

// GoImageDecoder decodes with the image package (png, jpeg, gif, bmp, tiff, webp)
type GoImageDecoder struct{}

// NewGoImageDecoder creates the fallback decoder for formats OpenCV was built without
func NewGoImageDecoder() *GoImageDecoder {
	return &GoImageDecoder{}
}

func (d *GoImageDecoder) Name() string { return "go-image" }

func (d *GoImageDecoder) Decode(raw []byte) (gocv.Mat, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return gocv.NewMat(), err
	}
	return gocvMatFromGoImage(img)
}

// NetpbmDecoder decodes PBM, PGM, PPM and PAM files
type NetpbmDecoder struct{}

// NewNetpbmDecoder creates the netpbm decoder
func NewNetpbmDecoder() *NetpbmDecoder {
	return &NetpbmDecoder{}
}

func (d *NetpbmDecoder) Name() string { return "netpbm" }

func (d *NetpbmDecoder) Decode(raw []byte) (gocv.Mat, error) {
	img, err := netpbm.Decode(bytes.NewReader(raw), &netpbm.DecodeOptions{Target: netpbm.PGM})
	if err != nil {
		return gocv.NewMat(), err
	}
	return gocvMatFromGoImage(img)
}

// gocvMatFromGoImage converts a Go image into an 8-bit BGR matrix
func gocvMatFromGoImage(img image.Image) (gocv.Mat, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return gocv.NewMat(), fmt.Errorf("image has no pixels (%dx%d)", width, height)
	}

	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
			mat.SetUCharAt3(y, x, 0, uint8(b>>8))
			mat.SetUCharAt3(y, x, 1, uint8(g>>8))
			mat.SetUCharAt3(y, x, 2, uint8(r>>8))
		}
	}
	return mat, nil
}
