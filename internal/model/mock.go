package model

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"time"

	"github.com/ent0n29/sprout/internal/audio"
)

var errBadFrameCount = errors.New("frame count must be positive")

// MockInvoker synthesizes deterministic tones locally. It is the fallback
// backend when no inference API is configured, and the test double for the
// session controller: same (prompt, seed) always yields the same samples,
// and carried context keeps the oscillator phase continuous across chunks.
type MockInvoker struct {
	SampleRate int
	Channels   int
	Latency    time.Duration // simulated inference time per call
}

func NewMockInvoker(sampleRate, channels int) *MockInvoker {
	return &MockInvoker{SampleRate: sampleRate, Channels: channels}
}

func (m *MockInvoker) Invoke(ctx context.Context, req Request) (audio.Buffer, error) {
	if req.FrameCount <= 0 {
		return audio.Buffer{}, &Error{Code: CodeInvalidParams, Err: errBadFrameCount}
	}
	if m.Latency > 0 {
		select {
		case <-ctx.Done():
			return audio.Buffer{}, WrapErr(ctx.Err())
		case <-time.After(m.Latency):
		}
	} else if err := ctx.Err(); err != nil {
		return audio.Buffer{}, WrapErr(err)
	}

	var seed int64
	if req.Seed != nil {
		seed = *req.Seed
	}
	base := toneFrequency(req.Prompt, seed)

	offset := 0
	if req.Carried != nil {
		offset = req.Carried.FrameOffset
	}

	out := audio.Buffer{
		SampleRate: m.SampleRate,
		Channels:   m.Channels,
		Samples:    make([]float32, req.FrameCount*m.Channels),
	}
	for f := 0; f < req.FrameCount; f++ {
		t := float64(offset+f) / float64(m.SampleRate)
		// Fundamental plus a soft fifth; loud enough to exercise the
		// post-processor's normalization path.
		v := 0.5*math.Sin(2*math.Pi*base*t) + 0.2*math.Sin(2*math.Pi*base*1.5*t)
		for c := 0; c < m.Channels; c++ {
			out.Samples[f*m.Channels+c] = float32(v)
		}
	}
	return out, nil
}

// toneFrequency maps (prompt, seed) onto a stable audible frequency.
func toneFrequency(prompt string, seed int64) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(prompt))
	mixed := h.Sum64() ^ uint64(seed)*0x9e3779b97f4a7c15
	return 110 + float64(mixed%660)
}
