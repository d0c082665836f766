package session

import (
	"errors"
	"time"

	"github.com/ent0n29/sprout/internal/history"
)

// State is the lifecycle position of one generation session.
type State string

const (
	StateIdle       State = "idle"
	StatePlanning   State = "planning"
	StateGenerating State = "generating"
	StateStitching  State = "stitching"
	StateFinalizing State = "finalizing"
	StateCompleted  State = "completed"
	StateCancelled  State = "cancelled"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateFailed:
		return true
	}
	return false
}

// ErrorKind classifies terminal failures for the caller. The GUI only ever
// sees a kind and a message, never a raw stack.
type ErrorKind string

const (
	KindNone            ErrorKind = ""
	KindInvalidDuration ErrorKind = "invalid_duration"
	KindPlanning        ErrorKind = "planning_error"
	KindModel           ErrorKind = "model_error"
	KindPostProcess     ErrorKind = "postprocess_error"
	KindStorage         ErrorKind = "storage_error"
)

// ErrSessionBusy is returned by Start when the controller already owns a
// session. Callers should cancel or wait, or use a fresh controller.
var ErrSessionBusy = errors.New("generation session already active")

// Request are the immutable parameters of one generation. Zero-valued
// guidance and channels inherit the configured defaults at Start.
type Request struct {
	Prompt        string        `json:"prompt"`
	Duration      time.Duration `json:"duration"`
	GuidanceScale float64       `json:"guidance_scale"`
	Channels      int           `json:"channels"`
	Seed          *int64        `json:"seed,omitempty"`
}

// EventType identifies progress stream payload variants.
type EventType string

const (
	TypeStateEvent     EventType = "state"
	TypeProgressEvent  EventType = "progress"
	TypeCompletedEvent EventType = "completed"
	TypeFailedEvent    EventType = "failed"
)

// Event is one update on a session's progress stream.
type Event struct {
	Type        EventType      `json:"type"`
	SessionID   string         `json:"session_id"`
	State       State          `json:"state"`
	ChunksDone  int            `json:"chunks_done,omitempty"`
	ChunksTotal int            `json:"chunks_total,omitempty"`
	Percent     float64        `json:"percent,omitempty"`
	FramesReady int            `json:"frames_ready,omitempty"`
	Entry       *history.Entry `json:"entry,omitempty"`
	ErrorKind   ErrorKind      `json:"error_kind,omitempty"`
	Detail      string         `json:"detail,omitempty"`
}

// Snapshot is the poll-friendly view of a session for status endpoints.
type Snapshot struct {
	SessionID   string         `json:"session_id"`
	State       State          `json:"state"`
	Request     Request        `json:"request"`
	ChunksDone  int            `json:"chunks_done"`
	ChunksTotal int            `json:"chunks_total"`
	FramesReady int            `json:"frames_ready"`
	Entry       *history.Entry `json:"entry,omitempty"`
	ErrorKind   ErrorKind      `json:"error_kind,omitempty"`
	Detail      string         `json:"detail,omitempty"`
}
