package model

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/sprout/internal/audio"
)

// HTTPConfig configures the REST inference backend client.
type HTTPConfig struct {
	APIURL       string
	APIKey       string
	SampleRate   int
	Channels     int
	PollInterval time.Duration
}

// HTTPInvoker drives a task-queue style inference API: submit a generation
// task, then poll until the worker reports the PCM payload. Cancellation is
// honored between and inside polls; an abandoned task is left to the
// backend's own reaper.
type HTTPInvoker struct {
	cfg  HTTPConfig
	http *http.Client
}

func NewHTTPInvoker(cfg HTTPConfig) *HTTPInvoker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &HTTPInvoker{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

type submitRequest struct {
	Prompt        string  `json:"prompt"`
	GuidanceScale float64 `json:"guidance_scale"`
	FrameCount    int     `json:"frame_count"`
	SampleRate    int     `json:"sample_rate"`
	Channels      int     `json:"channels"`
	Seed          *int64  `json:"seed,omitempty"`
	ContextBase64 string  `json:"context_pcm16_base64,omitempty"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

type resultResponse struct {
	Status      string `json:"status"` // pending | running | done | failed
	PCM16Base64 string `json:"pcm16_base64"`
	Error       string `json:"error"`
}

// WaitForHealthy blocks until the backend answers health checks or ctx ends.
func (c *HTTPInvoker) WaitForHealthy(ctx context.Context) error {
	log.Println("waiting for model backend to be ready...")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIURL+"/health", nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			log.Println("model backend is healthy")
			return nil
		}
		if resp != nil {
			resp.Body.Close()
		}

		log.Println("model backend not ready, retrying in 5s...")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

func (c *HTTPInvoker) Invoke(ctx context.Context, req Request) (audio.Buffer, error) {
	if req.FrameCount <= 0 {
		return audio.Buffer{}, &Error{Code: CodeInvalidParams, Err: errBadFrameCount}
	}

	taskID, err := c.submit(ctx, req)
	if err != nil {
		return audio.Buffer{}, WrapErr(err)
	}

	pcm, err := c.pollUntilDone(ctx, taskID)
	if err != nil {
		return audio.Buffer{}, WrapErr(err)
	}

	buf := pcm16ToBuffer(pcm, c.cfg.SampleRate, c.cfg.Channels)
	return conformFrames(buf, req.FrameCount), nil
}

func (c *HTTPInvoker) submit(ctx context.Context, req Request) (string, error) {
	payload := submitRequest{
		Prompt:        req.Prompt,
		GuidanceScale: req.GuidanceScale,
		FrameCount:    req.FrameCount,
		SampleRate:    c.cfg.SampleRate,
		Channels:      c.cfg.Channels,
		Seed:          req.Seed,
	}
	if req.Carried != nil && len(req.Carried.Tail) > 0 {
		payload.ContextBase64 = base64.StdEncoding.EncodeToString(bufferToPCM16(req.Carried.Tail))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("submit task: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		// The error body may not be ours (a proxy's HTML page, say), so it
		// only decorates the status, it is never parsed.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("backend status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if result.TaskID == "" {
		return "", fmt.Errorf("backend returned no task id")
	}
	return result.TaskID, nil
}

func (c *HTTPInvoker) pollUntilDone(ctx context.Context, taskID string) ([]byte, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIURL+"/v1/tasks/"+taskID, nil)
		if err != nil {
			return nil, fmt.Errorf("create poll request: %w", err)
		}
		if c.cfg.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("poll error for task %s: %v, retrying...", taskID, err)
			if err := sleepCtx(ctx, c.cfg.PollInterval); err != nil {
				return nil, err
			}
			continue
		}

		var result resultResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()
		if decodeErr != nil {
			log.Printf("decode error for task %s: %v, retrying...", taskID, decodeErr)
			if err := sleepCtx(ctx, c.cfg.PollInterval); err != nil {
				return nil, err
			}
			continue
		}

		switch result.Status {
		case "done":
			pcm, err := base64.StdEncoding.DecodeString(result.PCM16Base64)
			if err != nil {
				return nil, fmt.Errorf("decode pcm payload: %w", err)
			}
			if len(pcm) == 0 {
				return nil, fmt.Errorf("task %s finished with empty payload", taskID)
			}
			return pcm, nil
		case "failed":
			return nil, fmt.Errorf("generation failed for task %s: %s", taskID, result.Error)
		default:
			if err := sleepCtx(ctx, c.cfg.PollInterval); err != nil {
				return nil, err
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func pcm16ToBuffer(pcm []byte, sampleRate, channels int) audio.Buffer {
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:i*2+2]))) / 32768
	}
	return audio.Buffer{Samples: samples, SampleRate: sampleRate, Channels: channels}
}

func bufferToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*32767)))
	}
	return out
}
