package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adeetya02/leafloaf-voice-gateway/internal/config"
	"github.com/adeetya02/leafloaf-voice-gateway/internal/dispatch"
	"github.com/adeetya02/leafloaf-voice-gateway/internal/observability"
	"github.com/adeetya02/leafloaf-voice-gateway/internal/session"
	"github.com/adeetya02/leafloaf-voice-gateway/internal/speech/providers"
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
		Str("agent_url", cfg.AgentURL).
		Str("stt_provider", cfg.STTProvider).
		Str("tts_provider", cfg.TTSProvider).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice Gateway Service starting")

	agent := dispatch.NewAgentClient(cfg)
	manager := session.NewManager(cfg, agent)

	mux := http.NewServeMux()

	// Duplex voice WebSocket endpoint
	mux.HandleFunc("/voice", manager.HandleVoiceWS())

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness: provider construction validates credentials; the agent
	// check actually probes its endpoint.
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"recognizer": func(ctx context.Context) (bool, error) {
			if _, err := providers.NewRecognizer(cfg); err != nil {
				return false, err
			}
			return true, nil
		},
		"synthesizer": func(ctx context.Context) (bool, error) {
			if _, err := providers.NewSynthesizer(cfg); err != nil {
				return false, err
			}
			return true, nil
		},
		"agent": agent.HealthCheck,
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/voice", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop live conversations first so clients get a clean close, then
	// stop the listener.
	manager.Shutdown(ctx)

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
