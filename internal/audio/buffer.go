package audio

import "time"

// Buffer holds interleaved float32 samples in [-1, 1].
type Buffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Frames returns the number of per-channel frames in the buffer.
func (b Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(b.Frames()) / float64(b.SampleRate) * float64(time.Second))
}

// Clone returns a deep copy of the buffer.
func (b Buffer) Clone() Buffer {
	out := Buffer{SampleRate: b.SampleRate, Channels: b.Channels}
	out.Samples = make([]float32, len(b.Samples))
	copy(out.Samples, b.Samples)
	return out
}
