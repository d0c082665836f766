package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the generation service.
// It is loaded once at startup and injected into constructors; nothing
// reads configuration from ambient global state after that.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	// Generation bounds and audio format.
	MinDuration   time.Duration
	MaxDuration   time.Duration
	SampleRate    int
	Channels      int
	GuidanceScale float64
	ExportFormat  string

	// Model constraints. The model emits a fixed number of tokens per
	// embedding window, so samples-per-token is derived from the window
	// length, not configured directly.
	MaxContextTokens int
	ModelWindow      time.Duration

	// Stitching and post-processing.
	OverlapFraction float64
	CrossfadeShape  string // "linear" or "equalpower"
	FadeOut         time.Duration

	// Model backend.
	ModelProvider     string // auto | http | mock
	ModelAPIURL       string
	ModelAPIKey       string
	ModelPollInterval time.Duration
	ChunkTimeout      time.Duration // 0 disables the per-chunk ceiling

	// Storage.
	CacheDir    string
	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "sprout"),
		AllowAnyOrigin:    false,
		ShutdownTimeout:   15 * time.Second,
		MinDuration:       time.Second,
		MaxDuration:       120 * time.Second,
		SampleRate:        32000,
		Channels:          2,
		GuidanceScale:     3.0,
		ExportFormat:      envOrDefault("AUDIO_EXPORT_FORMAT", "wav"),
		MaxContextTokens:  2048,
		ModelWindow:       30 * time.Second,
		OverlapFraction:   0.10,
		CrossfadeShape:    envOrDefault("AUDIO_CROSSFADE_SHAPE", "linear"),
		FadeOut:           20 * time.Millisecond,
		ModelProvider:     envOrDefault("MODEL_PROVIDER", "auto"),
		ModelAPIURL:       stringsTrimSpace("MODEL_API_URL"),
		ModelAPIKey:       stringsTrimSpace("MODEL_API_KEY"),
		ModelPollInterval: 2 * time.Second,
		ChunkTimeout:      0,
		CacheDir:          stringsTrimSpace("APP_CACHE_DIR"),
		DatabaseURL:       stringsTrimSpace("DATABASE_URL"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MinDuration, err = durationFromEnv("GEN_MIN_DURATION", cfg.MinDuration)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxDuration, err = durationFromEnv("GEN_MAX_DURATION", cfg.MaxDuration)
	if err != nil {
		return Config{}, err
	}
	cfg.SampleRate, err = intFromEnv("AUDIO_SAMPLE_RATE", cfg.SampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.Channels, err = intFromEnv("AUDIO_CHANNELS", cfg.Channels)
	if err != nil {
		return Config{}, err
	}
	cfg.GuidanceScale, err = floatFromEnv("GEN_GUIDANCE_SCALE", cfg.GuidanceScale)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxContextTokens, err = intFromEnv("MODEL_MAX_CONTEXT_TOKENS", cfg.MaxContextTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.ModelWindow, err = durationFromEnv("MODEL_WINDOW", cfg.ModelWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.OverlapFraction, err = floatFromEnv("GEN_OVERLAP_FRACTION", cfg.OverlapFraction)
	if err != nil {
		return Config{}, err
	}
	cfg.FadeOut, err = durationFromEnv("AUDIO_FADE_OUT", cfg.FadeOut)
	if err != nil {
		return Config{}, err
	}
	cfg.ModelPollInterval, err = durationFromEnv("MODEL_POLL_INTERVAL", cfg.ModelPollInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.ChunkTimeout, err = durationFromEnv("MODEL_CHUNK_TIMEOUT", cfg.ChunkTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.CacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve cache dir: %w", err)
		}
		cfg.CacheDir = filepath.Join(base, "sprout")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the orchestrator cannot run with.
func (c Config) Validate() error {
	if c.MinDuration <= 0 {
		return fmt.Errorf("GEN_MIN_DURATION must be positive")
	}
	if c.MaxDuration < c.MinDuration {
		return fmt.Errorf("GEN_MAX_DURATION must be >= GEN_MIN_DURATION")
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("AUDIO_SAMPLE_RATE must be positive")
	}
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("AUDIO_CHANNELS must be 1 or 2")
	}
	if c.GuidanceScale <= 0 {
		return fmt.Errorf("GEN_GUIDANCE_SCALE must be positive")
	}
	if c.MaxContextTokens <= 0 {
		return fmt.Errorf("MODEL_MAX_CONTEXT_TOKENS must be positive")
	}
	if c.ModelWindow <= 0 {
		return fmt.Errorf("MODEL_WINDOW must be positive")
	}
	if c.OverlapFraction < 0 || c.OverlapFraction >= 0.5 {
		return fmt.Errorf("GEN_OVERLAP_FRACTION must be in [0, 0.5)")
	}
	if c.FadeOut < 0 {
		return fmt.Errorf("AUDIO_FADE_OUT must be >= 0")
	}
	if c.CrossfadeShape != "linear" && c.CrossfadeShape != "equalpower" {
		return fmt.Errorf("AUDIO_CROSSFADE_SHAPE must be linear or equalpower")
	}
	if !strings.EqualFold(c.ExportFormat, "wav") {
		return fmt.Errorf("AUDIO_EXPORT_FORMAT %q not supported (only wav)", c.ExportFormat)
	}
	switch strings.ToLower(strings.TrimSpace(c.ModelProvider)) {
	case "auto", "http", "mock":
	default:
		return fmt.Errorf("invalid MODEL_PROVIDER: %q (expected auto|http|mock)", c.ModelProvider)
	}
	return nil
}

// SamplesPerToken returns the approximate number of audio frames one model
// token encodes, derived from the fixed embedding window.
func (c Config) SamplesPerToken() float64 {
	return c.ModelWindow.Seconds() * float64(c.SampleRate) / float64(c.MaxContextTokens)
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
