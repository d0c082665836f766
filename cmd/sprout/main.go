package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ent0n29/sprout/internal/config"
	"github.com/ent0n29/sprout/internal/history"
	"github.com/ent0n29/sprout/internal/httpapi"
	"github.com/ent0n29/sprout/internal/model"
	"github.com/ent0n29/sprout/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := history.NewStore(ctx, cfg.DatabaseURL, cfg.CacheDir)
	if err != nil {
		log.Fatalf("history store init failed: %v", err)
	}
	defer store.Close()

	invoker := selectInvoker(ctx, cfg, 2*time.Minute)

	api := httpapi.New(cfg, invoker, store, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	api.StartJanitor(runCtx, time.Minute)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

// selectInvoker resolves the model backend. "auto" uses the HTTP backend
// when MODEL_API_URL is set and it comes up healthy, and otherwise falls
// back to the local tone synthesizer, so the service always starts.
func selectInvoker(ctx context.Context, cfg config.Config, healthTimeout time.Duration) model.Invoker {
	mode := strings.ToLower(strings.TrimSpace(cfg.ModelProvider))
	if mode == "" {
		mode = "auto"
	}

	newHTTP := func() (model.Invoker, error) {
		inv := model.NewHTTPInvoker(model.HTTPConfig{
			APIURL:       strings.TrimRight(cfg.ModelAPIURL, "/"),
			APIKey:       cfg.ModelAPIKey,
			SampleRate:   cfg.SampleRate,
			Channels:     cfg.Channels,
			PollInterval: cfg.ModelPollInterval,
		})
		healthCtx, cancel := context.WithTimeout(ctx, healthTimeout)
		defer cancel()
		if err := inv.WaitForHealthy(healthCtx); err != nil {
			return nil, err
		}
		log.Printf("model backend: http (%s)", cfg.ModelAPIURL)
		return inv, nil
	}

	switch mode {
	case "http":
		if strings.TrimSpace(cfg.ModelAPIURL) == "" {
			log.Fatalf("MODEL_PROVIDER=http but MODEL_API_URL is not set")
		}
		inv, err := newHTTP()
		if err != nil {
			log.Fatalf("model backend never became healthy: %v", err)
		}
		return inv
	case "mock":
		log.Printf("model backend: mock tone synthesizer")
		return model.NewMockInvoker(cfg.SampleRate, cfg.Channels)
	case "auto":
		if strings.TrimSpace(cfg.ModelAPIURL) != "" {
			inv, err := newHTTP()
			if err == nil {
				return inv
			}
			log.Printf("model backend unhealthy, falling back to mock: %v", err)
		} else {
			log.Printf("model backend: mock tone synthesizer (no MODEL_API_URL)")
		}
		return model.NewMockInvoker(cfg.SampleRate, cfg.Channels)
	default:
		log.Fatalf("invalid MODEL_PROVIDER: %q (expected auto|http|mock)", cfg.ModelProvider)
		return nil
	}
}
