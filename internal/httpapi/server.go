// Package httpapi is the thin presentation shell around the orchestrator:
// it starts and cancels generation sessions, streams their progress, and
// serves the history list and stored audio. It holds no generation logic.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/sprout/internal/audio"
	"github.com/ent0n29/sprout/internal/config"
	"github.com/ent0n29/sprout/internal/history"
	"github.com/ent0n29/sprout/internal/model"
	"github.com/ent0n29/sprout/internal/observability"
	"github.com/ent0n29/sprout/internal/plan"
	"github.com/ent0n29/sprout/internal/session"
)

// terminalRetention is how long finished controllers stay queryable before
// the janitor drops them.
const terminalRetention = time.Hour

type trackedSession struct {
	ctrl    *session.Controller
	created time.Time
}

type Server struct {
	cfg     config.Config
	invoker model.Invoker
	store   history.Store
	metrics *observability.Metrics

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*trackedSession
}

func New(cfg config.Config, invoker model.Invoker, store history.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		invoker:  invoker,
		store:    store,
		metrics:  metrics,
		sessions: make(map[string]*trackedSession),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections unless explicitly
				// opened up; non-browser clients omit Origin and pass.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/generations", s.handleCreateGeneration)
	r.Get("/v1/generations/{id}", s.handleGetGeneration)
	r.Post("/v1/generations/{id}/cancel", s.handleCancelGeneration)
	r.Get("/v1/generations/{id}/ws", s.handleGenerationWS)
	r.Get("/v1/generations/{id}/audio", s.handleGenerationAudio)

	r.Get("/v1/history", s.handleListHistory)
	r.Get("/v1/history/{id}/audio", s.handleHistoryAudio)

	return r
}

// StartJanitor prunes terminal sessions so the map does not grow without
// bound across a long-lived process.
func (s *Server) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.pruneTerminal()
			}
		}
	}()
}

func (s *Server) pruneTerminal() {
	cutoff := time.Now().Add(-terminalRetention)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ts := range s.sessions {
		if ts.ctrl.Snapshot().State.Terminal() && ts.created.Before(cutoff) {
			delete(s.sessions, id)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type createGenerationRequest struct {
	Prompt          string  `json:"prompt"`
	DurationSeconds float64 `json:"duration_seconds"`
	GuidanceScale   float64 `json:"guidance_scale"`
	Channels        int     `json:"channels"`
	Seed            *int64  `json:"seed,omitempty"`
}

func (s *Server) handleCreateGeneration(w http.ResponseWriter, r *http.Request) {
	var req createGenerationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "prompt is required")
		return
	}

	ctrl := session.NewController(s.controllerConfig(), s.invoker, s.store, s.metrics)
	err := ctrl.Start(session.Request{
		Prompt:        strings.TrimSpace(req.Prompt),
		Duration:      time.Duration(req.DurationSeconds * float64(time.Second)),
		GuidanceScale: req.GuidanceScale,
		Channels:      req.Channels,
		Seed:          req.Seed,
	})
	if err != nil {
		if errors.Is(err, plan.ErrInvalidDuration) {
			respondError(w, http.StatusBadRequest, "invalid_duration", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "start_failed", err.Error())
		return
	}

	s.mu.Lock()
	s.sessions[ctrl.ID()] = &trackedSession{ctrl: ctrl, created: time.Now()}
	s.mu.Unlock()

	respondJSON(w, http.StatusAccepted, ctrl.Snapshot())
}

func (s *Server) controllerConfig() session.Config {
	return session.Config{
		Calculator: plan.Calculator{
			MinDuration:      s.cfg.MinDuration,
			MaxDuration:      s.cfg.MaxDuration,
			SampleRate:       s.cfg.SampleRate,
			MaxContextTokens: s.cfg.MaxContextTokens,
			SamplesPerToken:  s.cfg.SamplesPerToken(),
		},
		OverlapFraction: s.cfg.OverlapFraction,
		CrossfadeShape:  audio.CrossfadeShape(s.cfg.CrossfadeShape),
		FadeOut:         s.cfg.FadeOut,
		ChunkTimeout:    s.cfg.ChunkTimeout,
		SampleRate:      s.cfg.SampleRate,
		ModelChannels:   s.cfg.Channels,
		DefaultGuidance: s.cfg.GuidanceScale,
		DefaultChannels: s.cfg.Channels,
	}
}

func (s *Server) lookup(id string) (*session.Controller, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return ts.ctrl, true
}

func (s *Server) handleGetGeneration(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookup(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, "session_not_found", "unknown generation id")
		return
	}
	respondJSON(w, http.StatusOK, ctrl.Snapshot())
}

func (s *Server) handleCancelGeneration(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookup(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, "session_not_found", "unknown generation id")
		return
	}
	ctrl.Cancel()
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "state": ctrl.Snapshot().State})
}

// handleGenerationWS streams session events to one subscriber. Writes stay
// single-threaded on this goroutine; the connection closes after the
// terminal event.
func (s *Server) handleGenerationWS(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookup(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, "session_not_found", "unknown generation id")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Late subscribers first get the current snapshot so they are never
	// behind by more than one event.
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(ctrl.Snapshot()); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ctrl.Events():
			if !ok {
				final := ctrl.Snapshot()
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				_ = conn.WriteJSON(final)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}

// handleGenerationAudio serves the finished clip from memory. This works
// even when the history write failed, so playback never depends on storage.
func (s *Server) handleGenerationAudio(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.lookup(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, "session_not_found", "unknown generation id")
		return
	}
	buf, ok := ctrl.Result()
	if !ok {
		respondError(w, http.StatusNotFound, "not_completed", "generation has no audio yet")
		return
	}
	serveWAV(w, ctrl.ID(), buf)
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "history_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleHistoryAudio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	_, buf, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			respondError(w, http.StatusNotFound, "entry_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "history_unavailable", err.Error())
		return
	}
	serveWAV(w, id, buf)
}

func serveWAV(w http.ResponseWriter, name string, buf audio.Buffer) {
	raw, err := audio.EncodeWAV(buf)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "encode_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.wav"`, name))
	_, _ = w.Write(raw)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
