package audio

import (
	"errors"
	"math"
	"testing"
)

func constSegment(frames, channels int, value float32) Buffer {
	b := Buffer{SampleRate: 32000, Channels: channels, Samples: make([]float32, frames*channels)}
	for i := range b.Samples {
		b.Samples[i] = value
	}
	return b
}

func TestCrossfadeGainsSumToOne(t *testing.T) {
	for i := 0; i <= 10; i++ {
		tt := float64(i) / 10
		in, out := ShapeLinear.Gains(tt)
		if math.Abs(in+out-1) > 1e-9 {
			t.Fatalf("linear gains at %f sum to %f", tt, in+out)
		}
		in, out = ShapeEqualPower.Gains(tt)
		if math.Abs(in*in+out*out-1) > 1e-9 {
			t.Fatalf("equal-power gains at %f: squares sum to %f", tt, in*in+out*out)
		}
	}
}

func TestStitcherLengthAccounting(t *testing.T) {
	s := NewStitcher(32000, 2, ShapeLinear)

	if err := s.Append(constSegment(1000, 2, 0.1), 0); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if s.Frames() != 1000 {
		t.Fatalf("Frames = %d, want 1000", s.Frames())
	}

	if err := s.Append(constSegment(800, 2, 0.1), 200); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	// 1000 + (800 - 200) overlapped frames.
	if s.Frames() != 1600 {
		t.Fatalf("Frames = %d, want 1600", s.Frames())
	}

	out := s.Result()
	if out.Frames() != 1600 || out.Channels != 2 || out.SampleRate != 32000 {
		t.Fatalf("unexpected result format: frames=%d ch=%d rate=%d", out.Frames(), out.Channels, out.SampleRate)
	}
}

func TestStitcherSeamIsBounded(t *testing.T) {
	// Crossfading two constant signals of the same value must reproduce that
	// value through the seam: the gains hand off without a dip or a spike.
	s := NewStitcher(32000, 1, ShapeLinear)
	if err := s.Append(constSegment(500, 1, 0.5), 0); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := s.Append(constSegment(500, 1, 0.5), 100); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	out := s.Result()
	for i, v := range out.Samples {
		if math.Abs(float64(v)-0.5) > 1e-6 {
			t.Fatalf("sample %d = %f, want 0.5", i, v)
		}
	}
}

func TestStitcherPrefixStaysValid(t *testing.T) {
	// Appending must never rewrite anything before the overlap region.
	s := NewStitcher(32000, 1, ShapeLinear)
	if err := s.Append(constSegment(300, 1, 0.25), 0); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	before := s.Result()

	if err := s.Append(constSegment(300, 1, 0.75), 50); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	after := s.Result()

	for i := 0; i < (300-50)*1; i++ {
		if before.Samples[i] != after.Samples[i] {
			t.Fatalf("sample %d changed from %f to %f", i, before.Samples[i], after.Samples[i])
		}
	}
	if after.Frames() != 300+250 {
		t.Fatalf("Frames = %d, want %d", after.Frames(), 550)
	}
}

func TestStitcherRejectsFormatMismatch(t *testing.T) {
	s := NewStitcher(32000, 2, ShapeLinear)
	seg := constSegment(100, 1, 0.1)
	if err := s.Append(seg, 0); !errors.Is(err, ErrFormatMismatch) {
		t.Fatalf("Append(mono) error = %v, want ErrFormatMismatch", err)
	}
	seg = constSegment(100, 2, 0.1)
	seg.SampleRate = 44100
	if err := s.Append(seg, 0); !errors.Is(err, ErrFormatMismatch) {
		t.Fatalf("Append(44.1kHz) error = %v, want ErrFormatMismatch", err)
	}
}

func TestStitcherRejectsBadOverlap(t *testing.T) {
	s := NewStitcher(32000, 1, ShapeLinear)
	if err := s.Append(constSegment(100, 1, 0.1), 0); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	// Overlap larger than what has been stitched so far.
	if err := s.Append(constSegment(400, 1, 0.1), 200); !errors.Is(err, ErrBadOverlap) {
		t.Fatalf("Append(overlap>stitched) error = %v, want ErrBadOverlap", err)
	}
	// Overlap larger than the incoming segment.
	if err := s.Append(constSegment(50, 1, 0.1), 80); !errors.Is(err, ErrBadOverlap) {
		t.Fatalf("Append(overlap>segment) error = %v, want ErrBadOverlap", err)
	}
	if err := s.Append(constSegment(50, 1, 0.1), -1); !errors.Is(err, ErrBadOverlap) {
		t.Fatalf("Append(negative overlap) error = %v, want ErrBadOverlap", err)
	}
}
