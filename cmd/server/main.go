package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/eincosmos/sirenvoice/internal/audio"
	"github.com/eincosmos/sirenvoice/internal/config"
	"github.com/eincosmos/sirenvoice/internal/decision"
	"github.com/eincosmos/sirenvoice/internal/forensic"
	"github.com/eincosmos/sirenvoice/internal/metrics"
	"github.com/eincosmos/sirenvoice/internal/model"
	"github.com/eincosmos/sirenvoice/internal/risk"
	"github.com/eincosmos/sirenvoice/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "sirenvoice"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	calibration := cfg.Risk.Calibration()

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		slog.Bool("api_key_configured", cfg.API.Key != ""),
		slog.Bool("legacy_endpoint", cfg.HTTP.LegacyEndpoint),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Float64("min_duration", cfg.Audio.MinDuration),
		slog.Float64("top_db", cfg.Audio.TopDB),
		slog.String("model_endpoint", cfg.Model.Endpoint),
		slog.String("risk_strategy", cfg.Risk.Strategy),
		slog.Int("risk_layer", calibration.Layer),
		slog.Float64("decision_threshold", cfg.Decision.Threshold),
		slog.String("log_level", cfg.Logging.Level),
	)

	if cfg.API.Key == "" {
		logger.Warn("No API key configured, every detection request will be rejected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	preprocessor, err := audio.NewPreprocessor(audio.PreprocessorConfig{
		SampleRate:  cfg.Audio.SampleRate,
		MinDuration: cfg.Audio.MinDuration,
		TopDB:       cfg.Audio.TopDB,
		FrameLength: cfg.Audio.FrameLength,
		HopLength:   cfg.Audio.HopLength,
	})
	if err != nil {
		logger.Error("Failed to create preprocessor", slog.String("error", err.Error()))
		os.Exit(1)
	}

	modelClient, err := model.NewClient(model.Config{
		Endpoint:       cfg.Model.Endpoint,
		HealthPath:     cfg.Model.HealthPath,
		APIKey:         cfg.Model.APIKey,
		Timeout:        cfg.Model.GetTimeoutDuration(),
		MaxConcurrent:  cfg.Model.MaxConcurrent,
		ResponseFormat: cfg.Model.ResponseFormat,
		Layer:          calibration.Layer,
	}, logger)
	if err != nil {
		logger.Error("Failed to create model client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Not fatal: requests fall back to the neutral score until the sidecar answers
	checkCtx, checkCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := modelClient.Initialize(checkCtx); err != nil {
		logger.Warn("Model sidecar not reachable at startup", slog.String("error", err.Error()))
	}
	checkCancel()

	strategy, err := risk.New(cfg.Risk.Strategy, calibration.Layer, calibration.Center, calibration.Scale)
	if err != nil {
		logger.Error("Failed to create risk strategy", slog.String("error", err.Error()))
		os.Exit(1)
	}

	auditor, err := forensic.NewAuditor(forensic.Config{
		Preprocessor: preprocessor,
		Extractor:    modelClient,
		Strategy:     strategy,
		Policy: decision.Policy{
			Threshold: cfg.Decision.Threshold,
			AIFloor:   cfg.Decision.AIFloor,
			HumanCap:  cfg.Decision.HumanCap,
			Precision: cfg.Decision.Precision,
		},
		DegenerateConfidence: cfg.Decision.DegenerateConfidence,
		Logger:               logger,
		Metrics:              appMetrics,
	})
	if err != nil {
		logger.Error("Failed to create auditor", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Auditor initialized",
		slog.String("strategy", strategy.Name()),
		slog.Int("min_samples", preprocessor.MinSamples()),
	)

	httpServer := server.NewHTTPServer(cfg, logger, auditor, modelClient, appMetrics)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop HTTP server first (stop accepting new requests)
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Wait for in-flight sidecar calls
	if err := modelClient.Close(shutdownCtx); err != nil {
		logger.Error("Error closing model client", slog.String("error", err.Error()))
	}

	stats := auditor.GetStats()
	logger.Info("Final auditor statistics",
		slog.Uint64("total_analyses", stats.TotalAnalyses),
		slog.Uint64("ai_verdicts", stats.AIVerdicts),
		slog.Uint64("human_verdicts", stats.HumanVerdicts),
		slog.Uint64("degenerate", stats.Degenerate),
		slog.Uint64("model_fallbacks", stats.Fallbacks),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler).With(slog.String("service", serviceName))
}
