package audio

import (
	"errors"
	"time"
)

var ErrEmptyBuffer = errors.New("empty audio buffer")

// PostProcessor applies the final shaping pass to a stitched clip:
// a trailing fade-out, conversion to the requested channel count, and
// amplitude normalization plus clamping. Deterministic, no side effects.
type PostProcessor struct {
	FadeOut    time.Duration
	PeakTarget float64 // normalize down to this peak when exceeded
}

// NewPostProcessor returns a post-processor with the given fade-out length.
// Peak target 0.9 matches the headroom the generator has always shipped with.
func NewPostProcessor(fadeOut time.Duration) *PostProcessor {
	return &PostProcessor{FadeOut: fadeOut, PeakTarget: 0.9}
}

// Process returns a new buffer with fade-out, channel layout, and amplitude
// bounds applied, in that order.
func (p *PostProcessor) Process(in Buffer, wantChannels int) (Buffer, error) {
	if len(in.Samples) == 0 || in.Channels <= 0 || in.SampleRate <= 0 {
		return Buffer{}, ErrEmptyBuffer
	}
	out := in.Clone()
	p.applyFadeOut(out)
	out = convertChannels(out, wantChannels)
	normalizeAndClamp(out.Samples, p.PeakTarget)
	return out, nil
}

func (p *PostProcessor) applyFadeOut(b Buffer) {
	fadeFrames := int(p.FadeOut.Seconds() * float64(b.SampleRate))
	if fadeFrames <= 0 {
		return
	}
	total := b.Frames()
	if fadeFrames > total {
		fadeFrames = total
	}
	start := total - fadeFrames
	for f := 0; f < fadeFrames; f++ {
		gain := float32(fadeFrames-f) / float32(fadeFrames+1)
		base := (start + f) * b.Channels
		for c := 0; c < b.Channels; c++ {
			b.Samples[base+c] *= gain
		}
	}
}

// convertChannels duplicates mono into stereo or averages stereo down to
// mono. Matching layouts pass through untouched.
func convertChannels(b Buffer, want int) Buffer {
	if want <= 0 || want == b.Channels {
		return b
	}
	frames := b.Frames()
	out := Buffer{SampleRate: b.SampleRate, Channels: want, Samples: make([]float32, frames*want)}
	switch {
	case b.Channels == 1 && want == 2:
		for f := 0; f < frames; f++ {
			out.Samples[f*2] = b.Samples[f]
			out.Samples[f*2+1] = b.Samples[f]
		}
	case b.Channels == 2 && want == 1:
		for f := 0; f < frames; f++ {
			out.Samples[f] = (b.Samples[f*2] + b.Samples[f*2+1]) / 2
		}
	default:
		// Wider layouts: keep the first `want` channels.
		for f := 0; f < frames; f++ {
			for c := 0; c < want; c++ {
				src := c
				if src >= b.Channels {
					src = b.Channels - 1
				}
				out.Samples[f*want+c] = b.Samples[f*b.Channels+src]
			}
		}
	}
	return out
}

func normalizeAndClamp(samples []float32, peakTarget float64) {
	var peak float64
	for _, s := range samples {
		v := float64(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	if peakTarget > 0 && peak > peakTarget {
		scale := float32(peakTarget / peak)
		for i := range samples {
			samples[i] *= scale
		}
	}
	for i, s := range samples {
		if s > 1 {
			samples[i] = 1
		} else if s < -1 {
			samples[i] = -1
		}
	}
}
