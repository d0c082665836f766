package audio

import (
	"errors"
	"fmt"
)

var (
	ErrFormatMismatch = errors.New("segment format mismatch")
	ErrBadOverlap     = errors.New("overlap exceeds available frames")
)

// Stitcher concatenates chunk segments into one continuous buffer,
// crossfading each declared overlap region so seams are inaudible.
// The stitched length never decreases as segments are appended, and every
// intermediate result is a valid, playable prefix of the final clip.
type Stitcher struct {
	sampleRate int
	channels   int
	shape      CrossfadeShape
	samples    []float32
}

// NewStitcher creates a stitcher producing buffers in the given format.
func NewStitcher(sampleRate, channels int, shape CrossfadeShape) *Stitcher {
	return &Stitcher{
		sampleRate: sampleRate,
		channels:   channels,
		shape:      shape,
	}
}

// Frames returns the number of frames stitched so far.
func (s *Stitcher) Frames() int {
	return len(s.samples) / s.channels
}

// Append adds a segment whose first overlapFrames frames overlap the current
// tail. The overlap is blended with gains that hand off from the outgoing to
// the incoming segment; the remainder is copied verbatim.
func (s *Stitcher) Append(seg Buffer, overlapFrames int) error {
	if seg.SampleRate != s.sampleRate || seg.Channels != s.channels {
		return fmt.Errorf("%w: got %dHz/%dch, want %dHz/%dch",
			ErrFormatMismatch, seg.SampleRate, seg.Channels, s.sampleRate, s.channels)
	}
	if overlapFrames < 0 || overlapFrames > s.Frames() || overlapFrames > seg.Frames() {
		return fmt.Errorf("%w: overlap=%d stitched=%d segment=%d",
			ErrBadOverlap, overlapFrames, s.Frames(), seg.Frames())
	}

	if overlapFrames > 0 {
		n := overlapFrames * s.channels
		tail := s.samples[len(s.samples)-n:]
		crossfadeInto(tail, seg.Samples[:n], s.channels, s.shape)
		seg = Buffer{Samples: seg.Samples[n:], SampleRate: seg.SampleRate, Channels: seg.Channels}
	}
	s.samples = append(s.samples, seg.Samples...)
	return nil
}

// Result returns the stitched buffer. The stitcher can keep appending after
// this call; the returned buffer is a snapshot.
func (s *Stitcher) Result() Buffer {
	out := make([]float32, len(s.samples))
	copy(out, s.samples)
	return Buffer{Samples: out, SampleRate: s.sampleRate, Channels: s.channels}
}
