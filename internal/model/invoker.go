// Package model is the boundary to the neural audio-generation backend.
// The orchestrator only ever sees the Invoker interface; everything behind
// it (GPU scheduling, diffusion steps, token decoding) is opaque.
package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/ent0n29/sprout/internal/audio"
)

// Error codes attached to failed invocations.
const (
	CodeCanceled      = "canceled"
	CodeTimeout       = "timeout"
	CodeBackend       = "backend"
	CodeInvalidParams = "invalid_params"
)

// Error is a model invocation failure with a stable code.
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("model error (%s)", e.Code)
	}
	return fmt.Sprintf("model error (%s): %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// WrapErr classifies err as a model error, mapping context termination to
// the canceled/timeout codes so callers can tell user cancellation apart
// from a slow backend.
func WrapErr(err error) *Error {
	var me *Error
	if errors.As(err, &me) {
		return me
	}
	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Code: CodeCanceled, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Code: CodeTimeout, Err: err}
	default:
		return &Error{Code: CodeBackend, Err: err}
	}
}

// Context is the conditioning state carried from one chunk to the next so
// the model continues the clip instead of starting a disjoint one. Opaque to
// the orchestrator; it only threads it through.
type Context struct {
	Tail        []float32 // predecessor's trailing interleaved samples
	FrameOffset int       // absolute frame position of this chunk's start
}

// Request describes a single bounded inference call.
type Request struct {
	Prompt        string
	GuidanceScale float64
	FrameCount    int
	Carried       *Context // nil for the first chunk
	Seed          *int64   // nil draws backend-chosen randomness
}

// Invoker produces one audio segment per call. Invoke blocks, may be slow,
// and must honor ctx cancellation; it is the only operation in a generation
// session with unbounded wall-clock time.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (audio.Buffer, error)
}

// conformFrames trims or zero-pads a segment to exactly the requested frame
// count, mirroring what the backend's own decoder does on window edges.
func conformFrames(b audio.Buffer, frames int) audio.Buffer {
	want := frames * b.Channels
	switch {
	case len(b.Samples) > want:
		b.Samples = b.Samples[:want]
	case len(b.Samples) < want:
		padded := make([]float32, want)
		copy(padded, b.Samples)
		b.Samples = padded
	}
	return b
}
