package imageprocessor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// ContentDigest returns the hex sha256 of raw bytes; identical files share a digest
func ContentDigest(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// ComputeAverageHash calculates a 64-bit average hash of the image.
// Always returns a hexadecimal string representation.
func ComputeAverageHash(img gocv.Mat) (string, error) {
	if img.Empty() {
		return "", fmt.Errorf("cannot compute hash for empty image")
	}

	gray, err := toGray(img)
	if err != nil {
		return "", err
	}
	defer gray.Close()

	// Resize to 8x8
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(gray, &resized, image.Point{X: 8, Y: 8}, 0, 0, gocv.InterpolationArea)

	small := gocv.NewMat()
	defer small.Close()
	if resized.Type() == gocv.MatTypeCV16UC1 {
		resized.ConvertToWithParams(&small, gocv.MatTypeCV8U, 1.0/257.0, 0)
	} else {
		resized.CopyTo(&small)
	}

	var sum uint64
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			sum += uint64(small.GetUCharAt(y, x))
		}
	}
	threshold := float64(sum) / 64

	var hash uint64
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			hash <<= 1
			if float64(small.GetUCharAt(y, x)) >= threshold {
				hash |= 1
			}
		}
	}

	return fmt.Sprintf("%016x", hash), nil
}

// AverageHashBytes decodes raw and returns its average hash
func AverageHashBytes(raw []byte) (string, error) {
	img, err := DefaultRegistry().Decode("", raw)
	if err != nil {
		return "", err
	}
	defer img.Close()
	return ComputeAverageHash(img)
}
