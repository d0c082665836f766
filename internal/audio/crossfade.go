package audio

import "math"

// CrossfadeShape selects the gain curve used when blending chunk overlaps.
type CrossfadeShape string

const (
	// ShapeLinear keeps fade_in + fade_out == 1 at every sample.
	ShapeLinear CrossfadeShape = "linear"
	// ShapeEqualPower keeps fade_in^2 + fade_out^2 == 1, which preserves
	// perceived loudness through the seam for uncorrelated material.
	ShapeEqualPower CrossfadeShape = "equalpower"
)

// Gains returns the (incoming, outgoing) gain pair at progress t in [0, 1].
func (s CrossfadeShape) Gains(t float64) (in, out float64) {
	if t <= 0 {
		t = 0
	}
	if t >= 1 {
		t = 1
	}
	switch s {
	case ShapeEqualPower:
		return math.Sin(t * math.Pi / 2), math.Cos(t * math.Pi / 2)
	default:
		return t, 1 - t
	}
}

// crossfadeInto blends the first len(incoming) samples of incoming over the
// tail region dst. Both slices are interleaved with the given channel count
// and must be the same length. dst is modified in place.
func crossfadeInto(dst, incoming []float32, channels int, shape CrossfadeShape) {
	frames := len(dst) / channels
	if frames == 0 {
		return
	}
	for f := 0; f < frames; f++ {
		t := float64(f) / float64(frames)
		gainIn, gainOut := shape.Gains(t)
		base := f * channels
		for c := 0; c < channels; c++ {
			mixed := float64(dst[base+c])*gainOut + float64(incoming[base+c])*gainIn
			dst[base+c] = clampSample(mixed)
		}
	}
}

func clampSample(v float64) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return float32(v)
}
