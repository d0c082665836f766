package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/sprout/internal/audio"
	"github.com/ent0n29/sprout/internal/config"
	"github.com/ent0n29/sprout/internal/history"
	"github.com/ent0n29/sprout/internal/model"
	"github.com/ent0n29/sprout/internal/observability"
	"github.com/ent0n29/sprout/internal/session"
)

// testServer wires a server against the mock backend with a tiny frame
// budget: 1 kHz audio and a 1000-frame per-call window keep sessions fast.
func testServer(t *testing.T, namespace string) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Config{
		MinDuration:      time.Second,
		MaxDuration:      60 * time.Second,
		SampleRate:       1000,
		Channels:         1,
		GuidanceScale:    3.0,
		MaxContextTokens: 100,
		ModelWindow:      time.Second,
		OverlapFraction:  0.10,
		CrossfadeShape:   "linear",
		FadeOut:          20 * time.Millisecond,
		AllowAnyOrigin:   true,
	}
	store, err := history.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	metrics := observability.NewMetrics("test_httpapi_" + namespace + "_" + time.Now().Format("150405") + "_" + time.Now().Format("000000000"))
	srv := New(cfg, model.NewMockInvoker(cfg.SampleRate, cfg.Channels), store, metrics)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func postGeneration(t *testing.T, ts *httptest.Server, body map[string]any) session.Snapshot {
	t.Helper()
	raw, _ := json.Marshal(body)
	res, err := http.Post(ts.URL+"/v1/generations", "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("create generation request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusAccepted {
		payload, _ := io.ReadAll(res.Body)
		t.Fatalf("create status = %d, body = %s", res.StatusCode, payload)
	}
	var snap session.Snapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if snap.SessionID == "" {
		t.Fatalf("missing session_id in create response")
	}
	return snap
}

func awaitTerminal(t *testing.T, ts *httptest.Server, id string) session.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		res, err := http.Get(ts.URL + "/v1/generations/" + id)
		if err != nil {
			t.Fatalf("status request error = %v", err)
		}
		var snap session.Snapshot
		err = json.NewDecoder(res.Body).Decode(&snap)
		res.Body.Close()
		if err != nil {
			t.Fatalf("decode status response: %v", err)
		}
		if snap.State.Terminal() {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session %s never reached a terminal state", id)
	return session.Snapshot{}
}

func TestGenerationLifecycle(t *testing.T) {
	_, ts := testServer(t, "lifecycle")

	created := postGeneration(t, ts, map[string]any{
		"prompt":           "upbeat jazz trio",
		"duration_seconds": 3,
	})
	snap := awaitTerminal(t, ts, created.SessionID)
	if snap.State != session.StateCompleted {
		t.Fatalf("State = %s, want completed (detail: %s)", snap.State, snap.Detail)
	}
	if snap.Entry == nil {
		t.Fatalf("completed session missing history entry")
	}

	// The finished clip is servable both from the session and from history.
	for _, path := range []string{
		"/v1/generations/" + created.SessionID + "/audio",
		"/v1/history/" + snap.Entry.ID + "/audio",
	} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		raw, _ := io.ReadAll(res.Body)
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d", path, res.StatusCode)
		}
		if ct := res.Header.Get("Content-Type"); ct != "audio/wav" {
			t.Fatalf("GET %s content type = %q", path, ct)
		}
		buf, err := audio.DecodeWAV(raw)
		if err != nil {
			t.Fatalf("GET %s returned invalid wav: %v", path, err)
		}
		if buf.Frames() != 3000 {
			t.Fatalf("GET %s frames = %d, want 3000", path, buf.Frames())
		}
	}

	res, err := http.Get(ts.URL + "/v1/history")
	if err != nil {
		t.Fatalf("history request error = %v", err)
	}
	defer res.Body.Close()
	var listing struct {
		Entries []history.Entry `json:"entries"`
	}
	if err := json.NewDecoder(res.Body).Decode(&listing); err != nil {
		t.Fatalf("decode history response: %v", err)
	}
	if len(listing.Entries) != 1 || listing.Entries[0].ID != snap.Entry.ID {
		t.Fatalf("unexpected history listing: %+v", listing.Entries)
	}
}

func TestCreateGenerationRejectsBadRequests(t *testing.T) {
	_, ts := testServer(t, "badreq")

	cases := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"empty prompt", `{"duration_seconds": 3}`, "invalid_request"},
		{"garbage json", `{`, "invalid_request"},
		{"duration too short", `{"prompt": "x", "duration_seconds": 0.1}`, "invalid_duration"},
		{"duration too long", `{"prompt": "x", "duration_seconds": 600}`, "invalid_duration"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := http.Post(ts.URL+"/v1/generations", "application/json", strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("request error = %v", err)
			}
			defer res.Body.Close()
			if res.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
			}
			var payload struct {
				Code string `json:"code"`
			}
			if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if payload.Code != tc.wantCode {
				t.Fatalf("code = %q, want %q", payload.Code, tc.wantCode)
			}
		})
	}
}

func TestUnknownSessionRoutes(t *testing.T) {
	_, ts := testServer(t, "unknown")

	res, err := http.Get(ts.URL + "/v1/generations/nope")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("GET unknown session status = %d, want 404", res.StatusCode)
	}

	res, err = http.Get(ts.URL + "/v1/history/nope/audio")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("GET unknown history audio status = %d, want 404", res.StatusCode)
	}
}

func TestCancelGeneration(t *testing.T) {
	_, ts := testServer(t, "cancel")

	created := postGeneration(t, ts, map[string]any{
		"prompt":           "long drone",
		"duration_seconds": 30,
	})

	res, err := http.Post(ts.URL+"/v1/generations/"+created.SessionID+"/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("cancel request error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200", res.StatusCode)
	}

	snap := awaitTerminal(t, ts, created.SessionID)
	// The mock backend is fast, so the race between cancel and completion is
	// real; both terminal states are acceptable, anything else is a bug.
	if snap.State != session.StateCancelled && snap.State != session.StateCompleted {
		t.Fatalf("State = %s, want cancelled or completed", snap.State)
	}
}

func TestGenerationWebSocketStream(t *testing.T) {
	_, ts := testServer(t, "ws")

	created := postGeneration(t, ts, map[string]any{
		"prompt":           "streamed",
		"duration_seconds": 3,
	})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/generations/" + created.SessionID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial error = %v", err)
	}
	defer conn.Close()

	sawTerminal := false
	deadline := time.Now().Add(5 * time.Second)
	for !sawTerminal && time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg struct {
			State session.State `json:"state"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("decode ws message: %v (%s)", err, raw)
		}
		if msg.State.Terminal() {
			sawTerminal = true
		}
	}
	if !sawTerminal {
		t.Fatalf("websocket stream never delivered a terminal state")
	}
}
