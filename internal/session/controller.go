// Package session owns the lifecycle of one generation request: planning,
// the sequential chunk loop against the model invoker, stitching,
// post-processing, and the single history write on success.
package session

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/sprout/internal/audio"
	"github.com/ent0n29/sprout/internal/history"
	"github.com/ent0n29/sprout/internal/model"
	"github.com/ent0n29/sprout/internal/observability"
	"github.com/ent0n29/sprout/internal/plan"
)

const eventBuffer = 64

// Config carries the orchestration constants, injected at construction.
type Config struct {
	Calculator      plan.Calculator
	OverlapFraction float64
	CrossfadeShape  audio.CrossfadeShape
	FadeOut         time.Duration
	ChunkTimeout    time.Duration // 0 disables the per-chunk ceiling
	SampleRate      int
	ModelChannels   int // channel count the invoker produces
	DefaultGuidance float64
	DefaultChannels int
}

// Controller runs exactly one generation session end to end. A second Start
// on the same instance fails with ErrSessionBusy; concurrent generations
// each get their own controller.
type Controller struct {
	id      string
	cfg     Config
	invoker model.Invoker
	store   history.Store
	metrics *observability.Metrics

	events chan Event
	done   chan struct{}

	mu          sync.Mutex
	state       State
	req         Request
	chunksDone  int
	chunksTotal int
	framesReady int
	entry       *history.Entry
	result      *audio.Buffer
	errKind     ErrorKind
	errDetail   string
	cancel      context.CancelFunc
}

func NewController(cfg Config, invoker model.Invoker, store history.Store, metrics *observability.Metrics) *Controller {
	return &Controller{
		id:      uuid.NewString(),
		cfg:     cfg,
		invoker: invoker,
		store:   store,
		metrics: metrics,
		state:   StateIdle,
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
	}
}

func (c *Controller) ID() string { return c.id }

// Events returns the progress stream. It closes after the terminal event.
func (c *Controller) Events() <-chan Event { return c.events }

// Done closes when the session reaches a terminal state.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Snapshot returns the current session view for status polling.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		SessionID:   c.id,
		State:       c.state,
		Request:     c.req,
		ChunksDone:  c.chunksDone,
		ChunksTotal: c.chunksTotal,
		FramesReady: c.framesReady,
		Entry:       c.entry,
		ErrorKind:   c.errKind,
		Detail:      c.errDetail,
	}
}

// Result returns the finished clip once the session completed. It is
// available even when persistence failed, so playback never depends on
// storage health.
func (c *Controller) Result() (audio.Buffer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return audio.Buffer{}, false
	}
	return *c.result, true
}

// Start validates the request and launches the session. The request is
// immutable from here on. An out-of-bounds duration fails synchronously,
// before any model work is scheduled.
func (c *Controller) Start(req Request) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrSessionBusy
	}
	if req.GuidanceScale <= 0 {
		req.GuidanceScale = c.cfg.DefaultGuidance
	}
	if req.Channels == 0 {
		req.Channels = c.cfg.DefaultChannels
	}
	if req.Seed == nil {
		// Pin the randomness up front: the history id is derived from the
		// seed, and a backend-drawn one would let two different clips land
		// under the same id.
		seed := rand.Int63()
		req.Seed = &seed
	}
	// The cancel func must be visible the moment the state leaves Idle, or a
	// racing Cancel would be dropped.
	ctx, cancel := context.WithCancel(context.Background())
	c.req = req
	c.state = StatePlanning
	c.cancel = cancel
	c.mu.Unlock()

	c.emit(Event{Type: TypeStateEvent, SessionID: c.id, State: StatePlanning})

	if _, err := c.cfg.Calculator.Budget(req.Duration); err != nil {
		cancel()
		kind := KindPlanning
		if errors.Is(err, plan.ErrInvalidDuration) {
			kind = KindInvalidDuration
		}
		c.fail(kind, err)
		return err
	}

	if c.metrics != nil {
		c.metrics.ActiveSessions.Inc()
	}
	go c.run(ctx)
	return nil
}

// Cancel aborts the session. If a model call is in flight the cancellation
// propagates into it; the terminal Cancelled transition runs regardless of
// where the cancellation was observed.
func (c *Controller) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	idle := c.state == StateIdle
	c.mu.Unlock()

	if idle {
		// Never started; finish the lifecycle without a goroutine.
		if c.transition(StateCancelled) {
			c.emit(Event{Type: TypeStateEvent, SessionID: c.id, State: StateCancelled})
			close(c.events)
			close(c.done)
		}
		return
	}
	if cancel != nil {
		cancel()
	}
}

func (c *Controller) run(ctx context.Context) {
	defer func() {
		if c.metrics != nil {
			c.metrics.ActiveSessions.Dec()
		}
	}()

	req := c.req

	budget, err := c.cfg.Calculator.Budget(req.Duration)
	if err != nil {
		kind := KindPlanning
		if errors.Is(err, plan.ErrInvalidDuration) {
			kind = KindInvalidDuration
		}
		c.fail(kind, err)
		return
	}

	chunks, err := plan.Plan(budget, c.cfg.OverlapFraction)
	if err != nil {
		c.fail(KindPlanning, err)
		return
	}
	c.setProgressTotal(len(chunks))

	if !c.transition(StateGenerating) {
		return
	}
	c.emit(Event{Type: TypeStateEvent, SessionID: c.id, State: StateGenerating, ChunksTotal: len(chunks)})

	stitcher := audio.NewStitcher(c.cfg.SampleRate, c.cfg.ModelChannels, c.cfg.CrossfadeShape)
	var carried *model.Context

	for i, chunk := range chunks {
		if ctx.Err() != nil {
			c.cancelled()
			return
		}

		invokeCtx := ctx
		var timeoutCancel context.CancelFunc
		if c.cfg.ChunkTimeout > 0 {
			invokeCtx, timeoutCancel = context.WithTimeout(ctx, c.cfg.ChunkTimeout)
		}

		started := time.Now()
		seg, err := c.invoker.Invoke(invokeCtx, model.Request{
			Prompt:        req.Prompt,
			GuidanceScale: req.GuidanceScale,
			FrameCount:    chunk.FrameCount,
			Carried:       carried,
			Seed:          req.Seed,
		})
		if timeoutCancel != nil {
			timeoutCancel()
		}
		if c.metrics != nil {
			c.metrics.ObserveChunkLatency(time.Since(started))
		}

		if err != nil {
			if ctx.Err() != nil {
				// User cancellation unwound the call; completed chunks
				// are discarded, nothing is persisted.
				c.observeChunk("cancelled")
				c.cancelled()
				return
			}
			me := model.WrapErr(err)
			c.observeChunk("error")
			if c.metrics != nil {
				c.metrics.ModelErrors.WithLabelValues(me.Code).Inc()
			}
			// No per-chunk retry: carried context makes a regenerated
			// chunk semantically unsafe to splice.
			c.fail(KindModel, me)
			return
		}
		c.observeChunk("ok")

		if err := stitcher.Append(seg, chunk.OverlapFrames); err != nil {
			c.fail(KindPostProcess, err)
			return
		}

		if next := i + 1; next < len(chunks) {
			carried = carryContext(seg, stitcher.Frames(), chunks[next].OverlapFrames, c.cfg.ModelChannels)
		}

		c.setProgress(i+1, stitcher.Frames())
		c.emit(Event{
			Type:        TypeProgressEvent,
			SessionID:   c.id,
			State:       StateGenerating,
			ChunksDone:  i + 1,
			ChunksTotal: len(chunks),
			Percent:     float64(i+1) / float64(len(chunks)) * 100,
			FramesReady: stitcher.Frames(),
		})
	}

	if ctx.Err() != nil {
		c.cancelled()
		return
	}

	if !c.transition(StateStitching) {
		return
	}
	c.emit(Event{Type: TypeStateEvent, SessionID: c.id, State: StateStitching})
	stitched := stitcher.Result()

	if !c.transition(StateFinalizing) {
		return
	}
	c.emit(Event{Type: TypeStateEvent, SessionID: c.id, State: StateFinalizing})

	post := audio.NewPostProcessor(c.cfg.FadeOut)
	final, err := post.Process(stitched, req.Channels)
	if err != nil {
		c.fail(KindPostProcess, err)
		return
	}
	if ctx.Err() != nil {
		// Cancelled during finalization: no partial artifacts persist.
		c.cancelled()
		return
	}

	c.mu.Lock()
	c.result = &final
	c.mu.Unlock()

	entry := history.Entry{
		ID:                history.DeriveID(req.Prompt, req.Duration, req.GuidanceScale, req.Seed),
		Prompt:            req.Prompt,
		RequestedDuration: req.Duration,
		GuidanceScale:     req.GuidanceScale,
		Channels:          final.Channels,
		Seed:              req.Seed,
	}

	storeCtx, storeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	saved, putErr := c.store.Put(storeCtx, entry, final)
	storeCancel()

	var detail string
	if putErr != nil {
		// Persistence failed but the clip is done; hand it to the caller
		// from memory rather than failing the session.
		log.Printf("session %s: history write failed: %v", c.id, putErr)
		if c.metrics != nil {
			c.metrics.HistoryWrites.WithLabelValues("error").Inc()
		}
		detail = string(KindStorage) + ": " + putErr.Error()
		c.mu.Lock()
		c.errDetail = detail
		c.mu.Unlock()
	} else {
		if c.metrics != nil {
			c.metrics.HistoryWrites.WithLabelValues("ok").Inc()
		}
		c.mu.Lock()
		c.entry = &saved
		c.mu.Unlock()
	}

	if !c.transition(StateCompleted) {
		return
	}
	if c.metrics != nil {
		c.metrics.SessionOutcomes.WithLabelValues("completed").Inc()
	}
	evt := Event{Type: TypeCompletedEvent, SessionID: c.id, State: StateCompleted, Detail: detail}
	if putErr == nil {
		evt.Entry = &saved
	}
	c.emit(evt)
	close(c.events)
	close(c.done)
}

// carryContext builds the conditioning state for the next chunk from the
// just-produced segment's tail.
func carryContext(seg audio.Buffer, stitchedFrames, nextOverlap, channels int) *model.Context {
	if nextOverlap <= 0 {
		return &model.Context{FrameOffset: stitchedFrames}
	}
	n := nextOverlap * channels
	if n > len(seg.Samples) {
		n = len(seg.Samples)
	}
	tail := make([]float32, n)
	copy(tail, seg.Samples[len(seg.Samples)-n:])
	return &model.Context{Tail: tail, FrameOffset: stitchedFrames - nextOverlap}
}

func (c *Controller) cancelled() {
	if !c.transition(StateCancelled) {
		return
	}
	if c.metrics != nil {
		c.metrics.SessionOutcomes.WithLabelValues("cancelled").Inc()
	}
	log.Printf("session %s: cancelled", c.id)
	c.emit(Event{Type: TypeStateEvent, SessionID: c.id, State: StateCancelled})
	close(c.events)
	close(c.done)
}

func (c *Controller) fail(kind ErrorKind, err error) {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return
	}
	c.state = StateFailed
	c.errKind = kind
	c.errDetail = err.Error()
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SessionOutcomes.WithLabelValues("failed").Inc()
	}
	log.Printf("session %s: failed (%s): %v", c.id, kind, err)
	c.emit(Event{
		Type:      TypeFailedEvent,
		SessionID: c.id,
		State:     StateFailed,
		ErrorKind: kind,
		Detail:    err.Error(),
	})
	close(c.events)
	close(c.done)
}

// transition moves to next unless the session already terminated. Terminal
// states are sticky; a racing cancel wins.
func (c *Controller) transition(next State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Terminal() {
		return false
	}
	c.state = next
	return true
}

func (c *Controller) setProgressTotal(total int) {
	c.mu.Lock()
	c.chunksTotal = total
	c.mu.Unlock()
}

func (c *Controller) setProgress(done, frames int) {
	c.mu.Lock()
	c.chunksDone = done
	c.framesReady = frames
	c.mu.Unlock()
}

func (c *Controller) observeChunk(result string) {
	if c.metrics != nil {
		c.metrics.ChunkInvocations.WithLabelValues(result).Inc()
	}
}

// emit never blocks the chunk loop: slow subscribers lose intermediate
// progress events but always observe the terminal state via Snapshot.
func (c *Controller) emit(evt Event) {
	select {
	case c.events <- evt:
	default:
	}
}
