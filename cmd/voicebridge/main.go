package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aurelia-labs/voicebridge/internal/audio"
	"github.com/aurelia-labs/voicebridge/internal/config"
	"github.com/aurelia-labs/voicebridge/internal/conversation"
	"github.com/aurelia-labs/voicebridge/internal/observability"
	"github.com/aurelia-labs/voicebridge/internal/session"
	"github.com/aurelia-labs/voicebridge/internal/tools"
	"github.com/aurelia-labs/voicebridge/internal/ui"
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
		Str("mcp_server_url", cfg.MCPServerURL).
		Str("live_model", cfg.LiveModel).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("VoiceBridge starting")

	// Wire the conversation pipeline: the browser websocket is both the
	// microphone device and the speaker sink
	state := conversation.NewState()
	gateway := tools.NewGateway(cfg, logger)
	bridge := ui.NewBridge()

	vadConfig := &audio.VADConfig{
		EnergyThreshold: cfg.VADEnergyThreshold,
		SilenceFrames:   cfg.VADSilenceFrames,
	}
	capture := audio.NewCapture(bridge, cfg.CaptureSampleRate, cfg.CaptureSampleRate, vadConfig, cfg.AudioBufferSize)
	player := audio.NewPlayer(bridge, cfg.PlaybackSampleRate)

	orch := session.New(cfg, gateway, capture, player, state, logger)
	player.OnTransportDead(func(err error) {
		logger.Warn().Err(err).Msg("Playback transport gone, ending conversation")
		go func() {
			if err := orch.Stop(); err != nil {
				logger.Warn().Err(err).Msg("Error stopping conversation")
			}
		}()
	})

	mux := http.NewServeMux()

	// UI websocket: audio both ways plus control and transcript traffic
	mux.Handle("/ws", ui.NewHandler(orch, state, bridge, logger))

	// Dev reverse proxy so the browser can reach the tool server without
	// cross-origin restrictions
	if cfg.MCPProxyPath != "" {
		proxy, err := ui.NewToolProxy(cfg.MCPServerURL, cfg.MCPProxyPath, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create tool server proxy")
		}
		mux.Handle(cfg.MCPProxyPath+"/", proxy)
		logger.Info().Str("path", cfg.MCPProxyPath).Msg("Tool server proxy enabled")
	}

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness: the tool server must be reachable and live credentials
	// present
	toolServerCheck := func(ctx context.Context) (bool, error) {
		parsed, err := url.Parse(cfg.MCPServerURL)
		if err != nil {
			return false, err
		}
		host := parsed.Host
		if !strings.Contains(host, ":") {
			port := "80"
			if parsed.Scheme == "https" {
				port = "443"
			}
			host = net.JoinHostPort(host, port)
		}
		conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", host)
		if err != nil {
			return false, err
		}
		_ = conn.Close()
		return true, nil
	}

	liveCredentialCheck := func(ctx context.Context) (bool, error) {
		if cfg.GeminiAPIKey == "" {
			return false, fmt.Errorf("live session API key missing")
		}
		return true, nil
	}

	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"tool-server":      toolServerCheck,
		"live-credentials": liveCredentialCheck,
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	if err := orch.Stop(); err != nil {
		logger.Warn().Err(err).Msg("Error ending active conversation")
	}
	if err := gateway.Close(); err != nil {
		logger.Warn().Err(err).Msg("Error closing tool server session")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
