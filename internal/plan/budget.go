// Package plan converts a requested clip duration into per-call frame
// budgets and an ordered chunk schedule for the model invoker.
package plan

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidDuration = errors.New("requested duration out of bounds")
	ErrPlanning        = errors.New("chunk planning misconfigured")
)

// Calculator derives frame budgets from the model's fixed context window.
// It is pure and safe for concurrent use by any number of sessions.
type Calculator struct {
	MinDuration      time.Duration
	MaxDuration      time.Duration
	SampleRate       int
	MaxContextTokens int
	SamplesPerToken  float64
}

// Budget is the frame accounting for one generation request.
type Budget struct {
	TotalFrames      int // requested duration at the configured rate
	MaxFramesPerCall int // the most one inference call can produce
}

// Budget computes the frame budget for the requested duration. Both bounds
// are inclusive; anything outside fails with ErrInvalidDuration before any
// model work starts.
func (c Calculator) Budget(requested time.Duration) (Budget, error) {
	if requested < c.MinDuration || requested > c.MaxDuration {
		return Budget{}, fmt.Errorf("%w: %s not in [%s, %s]",
			ErrInvalidDuration, requested, c.MinDuration, c.MaxDuration)
	}
	total := int(requested.Seconds()*float64(c.SampleRate) + 0.5)
	perCall := int(float64(c.MaxContextTokens) * c.SamplesPerToken)
	if perCall <= 0 {
		return Budget{}, fmt.Errorf("%w: non-positive per-call frame budget", ErrPlanning)
	}
	return Budget{TotalFrames: total, MaxFramesPerCall: perCall}, nil
}

// Multi reports whether the budget needs more than one inference call.
func (b Budget) Multi() bool {
	return b.TotalFrames > b.MaxFramesPerCall
}
