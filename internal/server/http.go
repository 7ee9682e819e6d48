package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eincosmos/sirenvoice/internal/audio"
	"github.com/eincosmos/sirenvoice/internal/config"
	"github.com/eincosmos/sirenvoice/internal/forensic"
	"github.com/eincosmos/sirenvoice/internal/metrics"
	"github.com/eincosmos/sirenvoice/internal/model"
	"github.com/eincosmos/sirenvoice/internal/vad"
)

const (
	serviceName    = "sirenvoice"
	serviceVersion = "1.0.0"

	// GenericErrorMessage is the only error text ever returned to clients
	GenericErrorMessage = "Invalid API key or malformed request"

	apiKeyHeader    = "x-api-key"
	requestIDHeader = "X-Request-ID"
)

// Analyzer is the part of the auditor the transport depends on
type Analyzer interface {
	AnalyzeBase64(ctx context.Context, payload string) (*forensic.Verdict, error)
	GetStats() forensic.AuditorStats
	DetectorStats() vad.DetectorStats
}

// ModelStatsProvider reports feature model client statistics
type ModelStatsProvider interface {
	GetStats() model.ClientStats
}

// HTTPServer serves the detection API and the operational endpoints
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	auditor  Analyzer
	modelAPI ModelStatsProvider
	metrics  *metrics.Metrics

	// Server state
	startTime time.Time
	requests  uint64
	rejected  uint64
	mu        sync.RWMutex
}

// DetectionRequest is the body of POST /api/voice-detection
type DetectionRequest struct {
	Language    string `json:"language"`
	AudioFormat string `json:"audioFormat"`
	AudioBase64 string `json:"audioBase64"`
}

// LegacyDetectionRequest is the body of POST /v1/detect
type LegacyDetectionRequest struct {
	AudioData string `json:"audio_data"`
	Language  string `json:"language"`
}

// DetectionResponse is the success envelope
type DetectionResponse struct {
	Status          string                  `json:"status"`
	Language        string                  `json:"language"`
	Classification  forensic.Classification `json:"classification"`
	ConfidenceScore float64                 `json:"confidenceScore"`
	Explanation     string                  `json:"explanation"`
}

// ErrorResponse is the error envelope
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// NewHTTPServer creates a new HTTP API server. modelAPI may be nil.
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, auditor Analyzer,
	modelAPI ModelStatsProvider, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger.With(slog.String("component", "http")),
		config:    cfg,
		auditor:   auditor,
		modelAPI:  modelAPI,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.HTTP.GetRequestTimeoutDuration() + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Detection endpoints
	mux.HandleFunc("/api/voice-detection", h.withMetrics("/api/voice-detection", h.handleVoiceDetection))
	if h.config.HTTP.LegacyEndpoint {
		mux.HandleFunc("/v1/detect", h.withMetrics("/v1/detect", h.handleLegacyDetect))
	}

	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// Handler returns the root handler, for tests and embedding
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleVoiceDetection implements POST /api/voice-detection
func (h *HTTPServer) handleVoiceDetection(w http.ResponseWriter, r *http.Request) {
	requestID := h.requestID(w, r)
	logger := h.logger.With(slog.String("request_id", requestID))

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.authorized(r) {
		logger.Warn("Rejected request with invalid API key", slog.String("remote", r.RemoteAddr))
		h.writeError(w, http.StatusUnauthorized)
		return
	}

	var req DetectionRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		logger.Info("Rejected malformed request body", slog.String("error", err.Error()))
		h.writeError(w, http.StatusBadRequest)
		return
	}

	if err := h.validateRequest(&req); err != nil {
		logger.Info("Rejected invalid request", slog.String("error", err.Error()))
		h.writeError(w, http.StatusBadRequest)
		return
	}

	h.detect(w, r, logger, req.Language, req.AudioBase64)
}

// handleLegacyDetect implements POST /v1/detect
func (h *HTTPServer) handleLegacyDetect(w http.ResponseWriter, r *http.Request) {
	requestID := h.requestID(w, r)
	logger := h.logger.With(slog.String("request_id", requestID), slog.String("endpoint", "legacy"))

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req LegacyDetectionRequest
	if err := h.decodeBody(w, r, &req); err != nil || req.AudioData == "" {
		logger.Info("Rejected malformed legacy request")
		h.writeError(w, http.StatusBadRequest)
		return
	}

	if req.Language == "" {
		req.Language = "Unknown"
	}

	h.detect(w, r, logger, req.Language, req.AudioData)
}

// detect runs the auditor under the request timeout and writes the envelope
func (h *HTTPServer) detect(w http.ResponseWriter, r *http.Request, logger *slog.Logger, language, payload string) {
	ctx, cancel := context.WithTimeout(r.Context(), h.config.HTTP.GetRequestTimeoutDuration())
	defer cancel()

	h.incrementRequests()

	verdict, err := h.auditor.AnalyzeBase64(ctx, payload)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, audio.ErrDecode) {
			status = http.StatusBadRequest
		}
		logger.Warn("Analysis failed",
			slog.String("error", err.Error()),
			slog.Int("status", status))
		h.writeError(w, status)
		return
	}

	logger.Info("Voice detection completed",
		slog.String("language", language),
		slog.String("classification", string(verdict.Classification)),
		slog.Float64("confidence", verdict.ConfidenceScore),
		slog.String("path", string(verdict.Details.Path)),
		slog.Duration("elapsed", verdict.Details.Elapsed))

	h.writeJSON(w, http.StatusOK, DetectionResponse{
		Status:          "success",
		Language:        language,
		Classification:  verdict.Classification,
		ConfidenceScore: verdict.ConfidenceScore,
		Explanation:     verdict.Explanation,
	})
}

// authorized checks the x-api-key header. No configured key rejects everything.
func (h *HTTPServer) authorized(r *http.Request) bool {
	key := h.config.API.Key
	if key == "" {
		return false
	}
	return r.Header.Get(apiKeyHeader) == key
}

func (h *HTTPServer) validateRequest(req *DetectionRequest) error {
	if !h.config.API.SupportsLanguage(req.Language) {
		return fmt.Errorf("unsupported language %q", req.Language)
	}
	if !h.config.API.SupportsFormat(req.AudioFormat) {
		return fmt.Errorf("unsupported audio format %q", req.AudioFormat)
	}
	if strings.TrimSpace(req.AudioBase64) == "" {
		return fmt.Errorf("audioBase64 is required")
	}
	return nil
}

func (h *HTTPServer) decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, h.config.HTTP.MaxBodyBytes)
	defer body.Close()

	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode request body: %w", err)
	}
	return nil
}

// requestID returns the caller's X-Request-ID or a new one, and echoes it
func (h *HTTPServer) requestID(w http.ResponseWriter, r *http.Request) string {
	id := r.Header.Get(requestIDHeader)
	if id == "" || len(id) > 128 {
		id = uuid.NewString()
	}
	w.Header().Set(requestIDHeader, id)
	return id
}

func (h *HTTPServer) writeError(w http.ResponseWriter, status int) {
	h.mu.Lock()
	h.rejected++
	h.mu.Unlock()

	h.writeJSON(w, status, ErrorResponse{Status: "error", Message: GenericErrorMessage})
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to write response", slog.String("error", err.Error()))
	}
}

func (h *HTTPServer) incrementRequests() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests++
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	auditorStats := h.auditor.GetStats()

	components := map[string]interface{}{
		"auditor": map[string]interface{}{
			"status":         "running",
			"strategy":       auditorStats.Strategy,
			"total_analyses": auditorStats.TotalAnalyses,
		},
	}

	if h.modelAPI != nil {
		modelStats := h.modelAPI.GetStats()
		status := "unreachable"
		if modelStats.Ready {
			status = "ready"
		}
		components["model"] = map[string]interface{}{
			"status":          status,
			"total_requests":  modelStats.TotalRequests,
			"success_rate":    modelStats.SuccessRate,
			"active_requests": modelStats.ActiveRequests,
		}
	}

	health := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": components,
	}

	h.writeJSON(w, http.StatusOK, health)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	calibration := h.config.Risk.Calibration()

	// API keys are intentionally omitted
	sanitizedConfig := map[string]interface{}{
		"http": map[string]interface{}{
			"address":         h.config.HTTP.Address,
			"port":            h.config.HTTP.Port,
			"request_timeout": h.config.HTTP.RequestTimeout,
			"max_body_bytes":  h.config.HTTP.MaxBodyBytes,
			"legacy_endpoint": h.config.HTTP.LegacyEndpoint,
		},
		"api": map[string]interface{}{
			"api_key_configured": h.config.API.Key != "",
			"languages":          h.config.API.Languages,
			"formats":            h.config.API.Formats,
		},
		"audio": map[string]interface{}{
			"sample_rate":  h.config.Audio.SampleRate,
			"min_duration": h.config.Audio.MinDuration,
			"top_db":       h.config.Audio.TopDB,
			"frame_length": h.config.Audio.FrameLength,
			"hop_length":   h.config.Audio.HopLength,
		},
		"model": map[string]interface{}{
			"endpoint":        h.config.Model.Endpoint,
			"health_path":     h.config.Model.HealthPath,
			"timeout":         h.config.Model.Timeout,
			"max_concurrent":  h.config.Model.MaxConcurrent,
			"response_format": h.config.Model.ResponseFormat,
		},
		"risk": map[string]interface{}{
			"strategy": h.config.Risk.Strategy,
			"layer":    calibration.Layer,
			"center":   calibration.Center,
			"scale":    calibration.Scale,
		},
		"decision": map[string]interface{}{
			"threshold":             h.config.Decision.Threshold,
			"ai_floor":              h.config.Decision.AIFloor,
			"human_cap":             h.config.Decision.HumanCap,
			"precision":             h.config.Decision.Precision,
			"degenerate_confidence": h.config.Decision.DegenerateConfidence,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	h.writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.mu.RLock()
	requests, rejected := h.requests, h.rejected
	h.mu.RUnlock()

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"http": map[string]interface{}{
			"detection_requests": requests,
			"rejected_requests":  rejected,
		},
		"auditor":  h.auditor.GetStats(),
		"detector": h.auditor.DetectorStats(),
	}

	if h.modelAPI != nil {
		stats["model"] = h.modelAPI.GetStats()
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	endpoints := map[string]interface{}{
		"GET /":                     "API documentation",
		"POST /api/voice-detection": "Classify a base64 MP3 recording (x-api-key required)",
		"GET /health":               "Service health check",
		"GET /config":               "Get service configuration",
		"GET /stats":                "Get service statistics",
		"GET /metrics":              "Prometheus metrics",
	}
	if h.config.HTTP.LegacyEndpoint {
		endpoints["POST /v1/detect"] = "Classify a base64 recording (legacy judge API)"
	}

	apiDoc := map[string]interface{}{
		"service":   "SirenVoice AI Voice Detection API",
		"version":   serviceVersion,
		"endpoints": endpoints,
		"timestamp": time.Now().UTC(),
	}

	h.writeJSON(w, http.StatusOK, apiDoc)
}
