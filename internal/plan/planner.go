package plan

import "fmt"

// ChunkSpec describes one bounded inference call. OverlapFrames is the
// number of leading frames shared with the predecessor's tail; the model is
// conditioned on that tail so consecutive chunks stay coherent.
type ChunkSpec struct {
	Index         int
	FrameCount    int
	OverlapFrames int
	CarryContext  bool // chunk needs the predecessor's trailing audio
}

// Plan produces the ordered chunk schedule for a budget. A request that fits
// one call yields a single chunk with no overlap. Larger requests repeat
// full-size chunks with a fixed overlap, truncating only the last chunk so
// the stitched length lands exactly on TotalFrames. When the budget divides
// evenly the final chunk stays full-size and still carries its overlap, so
// every non-final chunk contributes a stitchable tail.
func Plan(b Budget, overlapFraction float64) ([]ChunkSpec, error) {
	if b.TotalFrames <= 0 {
		return nil, fmt.Errorf("%w: total frame budget %d", ErrPlanning, b.TotalFrames)
	}
	if b.TotalFrames <= b.MaxFramesPerCall {
		return []ChunkSpec{{Index: 0, FrameCount: b.TotalFrames}}, nil
	}

	overlap := int(overlapFraction * float64(b.MaxFramesPerCall))
	stride := b.MaxFramesPerCall - overlap
	if overlap < 0 || stride <= 0 {
		// Always a configuration defect, never a runtime condition.
		return nil, fmt.Errorf("%w: overlap %d vs per-call max %d",
			ErrPlanning, overlap, b.MaxFramesPerCall)
	}

	// First chunk contributes MaxFramesPerCall new frames, every later chunk
	// contributes its frame count minus the overlap.
	n := 1 + ceilDiv(b.TotalFrames-b.MaxFramesPerCall, stride)
	chunks := make([]ChunkSpec, 0, n)
	for i := 0; i < n; i++ {
		spec := ChunkSpec{Index: i, FrameCount: b.MaxFramesPerCall}
		if i > 0 {
			spec.OverlapFrames = overlap
			spec.CarryContext = true
		}
		if i == n-1 {
			spec.FrameCount = b.TotalFrames - (n-1)*stride
		}
		chunks = append(chunks, spec)
	}
	return chunks, nil
}

// StitchedFrames returns the non-overlapping length of the schedule, which
// Plan guarantees equals the total frame budget.
func StitchedFrames(chunks []ChunkSpec) int {
	total := 0
	for _, c := range chunks {
		total += c.FrameCount - c.OverlapFrames
	}
	return total
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
