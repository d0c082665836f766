// Package history persists completed generations: one audio file per entry
// under the samples directory, plus an index queried by the history list.
package history

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ent0n29/sprout/internal/audio"
)

var ErrNotFound = errors.New("history entry not found")

// Entry is the persisted record of one completed generation. Immutable
// after creation.
type Entry struct {
	ID                string        `json:"id"`
	Prompt            string        `json:"prompt"`
	RequestedDuration time.Duration `json:"requested_duration"`
	GuidanceScale     float64       `json:"guidance_scale"`
	Channels          int           `json:"channels"`
	Seed              *int64        `json:"seed,omitempty"`
	FilePath          string        `json:"file_path"`
	CreatedAt         time.Time     `json:"created_at"`
	DurationActual    time.Duration `json:"duration_actual"`
}

// Store indexes completed generations. Put serializes concurrent writers;
// List and Get may run concurrently with each other.
type Store interface {
	Put(ctx context.Context, entry Entry, buf audio.Buffer) (Entry, error)
	List(ctx context.Context) ([]Entry, error)
	Get(ctx context.Context, id string) (Entry, audio.Buffer, error)
	Close() error
}

// DeriveID produces the stable content key for a set of generation
// parameters. Identical parameters map to the same id on purpose; any seed
// difference changes it. The session controller pins a concrete random seed
// before deriving the id, so two independent generations never share one.
// A put with an existing id therefore only ever replaces a regeneration of
// the same deterministic content, never a distinct clip.
func DeriveID(prompt string, requested time.Duration, guidance float64, seed *int64) string {
	seedPart := "none"
	if seed != nil {
		seedPart = fmt.Sprintf("%d", *seed)
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%.6f|%s",
		prompt, requested.Milliseconds(), guidance, seedPart)))
	return hex.EncodeToString(sum[:])[:16]
}
