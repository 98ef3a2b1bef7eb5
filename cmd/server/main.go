package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/boomhq/meeting-scribe/internal/api"
	"github.com/boomhq/meeting-scribe/internal/backend"
	"github.com/boomhq/meeting-scribe/internal/batch"
	"github.com/boomhq/meeting-scribe/internal/conference"
	"github.com/boomhq/meeting-scribe/internal/config"
	"github.com/boomhq/meeting-scribe/internal/notes"
	"github.com/boomhq/meeting-scribe/internal/observability"
	"github.com/boomhq/meeting-scribe/internal/session"
	"github.com/boomhq/meeting-scribe/internal/stt"
	"github.com/boomhq/meeting-scribe/internal/transcript"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("conference_url", cfg.ConferenceURL).
		Str("backend_url", cfg.BackendAPIURL).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Meeting Scribe Service starting")

	// Wire collaborators: conference dialer, transcript store, per-speaker
	// stream factory, backend notifier, session manager, notes generator.
	store := transcript.NewStore(cfg.MaxTranscriptEntries)
	dialer := conference.NewWSDialer(cfg)
	notifier := backend.NewNotifier(cfg)
	generator := notes.NewGenerator(cfg)

	streamFactory := func(room, participantID, displayName string) stt.Stream {
		return stt.NewDeepgramStream(cfg, room, displayName)
	}

	manager := session.NewManager(cfg, dialer, streamFactory, store, notifier.BroadcastTranscript)
	processor := batch.NewProcessor(stt.NewBatchTranscriber(cfg), generator, notifier)

	// HTTP control surface
	mux := http.NewServeMux()
	api.NewServer(manager, generator, notifier, processor, store).Register(mux)

	// Readiness endpoint - cheap config-level probes, no paid API calls
	conferenceCheck := func(ctx context.Context) (bool, error) {
		if _, err := url.Parse(cfg.ConferenceURL); err != nil {
			return false, fmt.Errorf("invalid conference URL: %w", err)
		}
		return true, nil
	}
	deepgramCheck := func(ctx context.Context) (bool, error) {
		if cfg.DeepgramAPIKey == "" {
			return false, fmt.Errorf("deepgram API key not configured")
		}
		return true, nil
	}
	anthropicCheck := func(ctx context.Context) (bool, error) {
		if cfg.AnthropicAPIKey == "" {
			return false, fmt.Errorf("anthropic API key not configured")
		}
		return true, nil
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"conference": conferenceCheck,
		"deepgram":   deepgramCheck,
		"anthropic":  anthropicCheck,
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // leave responses wait on notes generation
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Leave every room first so conference peers see a clean departure.
	manager.Shutdown()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
