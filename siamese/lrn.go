package siamese

import "math"

// LRN is local response normalization across channels:
//
//	out[c] = x[c] / (Bias + Alpha * sum(x[c']^2 for |c'-c| <= Radius))^Beta
//
// It has no learned parameters.
type LRN struct {
	Radius int     `json:"radius" cbor:"radius"`
	Bias   float64 `json:"bias" cbor:"bias"`
	Alpha  float64 `json:"alpha" cbor:"alpha"`
	Beta   float64 `json:"beta" cbor:"beta"`
}

// DefaultLRN returns radius 5, bias 2, alpha 1e-4 and beta 0.75
func DefaultLRN() LRN {
	return LRN{Radius: 5, Bias: 2, Alpha: 1e-4, Beta: 0.75}
}

// Forward normalizes in, laid out as pixels of channels values each, into a
// new slice. The per-element denominators base are returned for Backward.
func (l LRN) Forward(in []float64, channels int) (out, base []float64) {
	out = make([]float64, len(in))
	base = make([]float64, len(in))
	for p := 0; p < len(in); p += channels {
		px := in[p : p+channels]
		for c := range px {
			lo, hi := window(c, l.Radius, channels)
			var sq float64
			for k := lo; k <= hi; k++ {
				sq += px[k] * px[k]
			}
			b := l.Bias + l.Alpha*sq
			base[p+c] = b
			out[p+c] = px[c] * math.Pow(b, -l.Beta)
		}
	}
	return out, base
}

// Backward returns d loss / d in given d loss / d out
func (l LRN) Backward(in, base, gradOut []float64, channels int) []float64 {
	gradIn := make([]float64, len(in))
	// g[i] * x[i] * base[i]^(-beta-1), shared by every channel in the window
	t := make([]float64, channels)
	for p := 0; p < len(in); p += channels {
		for c := 0; c < channels; c++ {
			i := p + c
			t[c] = gradOut[i] * in[i] * math.Pow(base[i], -l.Beta-1)
		}
		for c := 0; c < channels; c++ {
			i := p + c
			lo, hi := window(c, l.Radius, channels)
			var s float64
			for k := lo; k <= hi; k++ {
				s += t[k]
			}
			gradIn[i] = gradOut[i]*math.Pow(base[i], -l.Beta) - 2*l.Alpha*l.Beta*in[i]*s
		}
	}
	return gradIn
}

func window(c, radius, channels int) (int, int) {
	lo, hi := c-radius, c+radius
	if lo < 0 {
		lo = 0
	}
	if hi > channels-1 {
		hi = channels - 1
	}
	return lo, hi
}
