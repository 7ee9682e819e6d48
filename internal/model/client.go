package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/eincosmos/sirenvoice/internal/audio"
)

const (
	// FormatJSON requests JSON-encoded hidden states
	FormatJSON = "json"
	// FormatMsgpack requests MessagePack-encoded hidden states
	FormatMsgpack = "msgpack"

	contentTypeMsgpack = "application/msgpack"
	userAgent          = "SirenVoice/1.0"
)

// Client extracts hidden states from an inference sidecar over HTTP
type Client struct {
	config     Config
	healthURL  string
	httpClient *http.Client
	semaphore  chan struct{}
	logger     *slog.Logger

	initOnce sync.Once
	initErr  error
	ready    atomic.Bool

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains model client configuration
type Config struct {
	Endpoint       string
	HealthPath     string
	APIKey         string
	Timeout        time.Duration
	MaxConcurrent  int
	ResponseFormat string // "json" or "msgpack"
	Layer          int    // deepest layer the caller reads
}

// ExtractResponse is the sidecar response body
type ExtractResponse struct {
	RequestID    string       `json:"request_id" msgpack:"request_id"`
	Model        string       `json:"model,omitempty" msgpack:"model,omitempty"`
	HiddenStates HiddenStates `json:"hidden_states" msgpack:"hidden_states"`
}

// ClientStats represents client statistics
type ClientStats struct {
	Endpoint        string        `json:"endpoint"`
	Ready           bool          `json:"ready"`
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
	MaxConcurrent   int           `json:"max_concurrent"`
}

// NewClient creates a new model HTTP client
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	endpoint, err := url.Parse(config.Endpoint)
	if err != nil || endpoint.Scheme == "" || endpoint.Host == "" {
		return nil, fmt.Errorf("invalid endpoint %q", config.Endpoint)
	}

	if config.Timeout <= 0 {
		config.Timeout = 20 * time.Second
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = runtime.NumCPU()
	}

	switch config.ResponseFormat {
	case "":
		config.ResponseFormat = FormatMsgpack
	case FormatJSON, FormatMsgpack:
	default:
		return nil, fmt.Errorf("unsupported response format %q", config.ResponseFormat)
	}

	if config.HealthPath == "" {
		config.HealthPath = "/health"
	}

	if logger == nil {
		logger = slog.Default()
	}

	health := *endpoint
	health.Path = config.HealthPath
	health.RawQuery = ""

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: config.MaxConcurrent,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		healthURL:  health.String(),
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
		logger:     logger.With(slog.String("component", "model_client")),
	}, nil
}

// Initialize checks the sidecar health endpoint. Only the first call performs
// the check; later calls return its result.
func (c *Client) Initialize(ctx context.Context) error {
	c.initOnce.Do(func() {
		c.initErr = c.checkHealth(ctx)
		if c.initErr != nil {
			c.logger.Warn("Model sidecar health check failed",
				slog.String("url", c.healthURL),
				slog.String("error", c.initErr.Error()))
			return
		}
		c.ready.Store(true)
		c.logger.Info("Model sidecar is ready", slog.String("url", c.healthURL))
	})
	return c.initErr
}

func (c *Client) checkHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Extract sends the waveform to the sidecar and returns its hidden states.
// Failures are returned as-is; there is no retry.
func (c *Client) Extract(ctx context.Context, waveform audio.Waveform) (HiddenStates, error) {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	response, err := c.doRequest(ctx, waveform)
	if err != nil {
		c.incrementFailedRequests()
		return nil, fmt.Errorf("hidden-state extraction failed: %w", err)
	}

	if response.HiddenStates.Empty() {
		c.incrementFailedRequests()
		return nil, ErrEmptyStack
	}

	c.incrementSuccessRequests()
	c.updateAvgResponseTime(time.Since(startTime))

	return response.HiddenStates, nil
}

// doRequest performs a single HTTP request to the sidecar
func (c *Client) doRequest(ctx context.Context, waveform audio.Waveform) (*ExtractResponse, error) {
	requestID := uuid.NewString()

	body, contentType, err := c.createMultipartRequest(waveform, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	if c.config.ResponseFormat == FormatMsgpack {
		httpReq.Header.Set("Accept", contentTypeMsgpack)
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var extractResp ExtractResponse
	if isMsgpack(resp.Header.Get("Content-Type")) {
		if err := msgpack.Unmarshal(respBody, &extractResp); err != nil {
			return nil, fmt.Errorf("failed to parse response msgpack: %w", err)
		}
	} else {
		if err := json.Unmarshal(respBody, &extractResp); err != nil {
			return nil, fmt.Errorf("failed to parse response JSON: %w", err)
		}
	}

	c.logger.Debug("Hidden states received",
		slog.String("request_id", requestID),
		slog.Int("layers", extractResp.HiddenStates.Layers()),
		slog.Int("bytes", len(respBody)))

	return &extractResp, nil
}

// createMultipartRequest creates a multipart/form-data request body
func (c *Client) createMultipartRequest(waveform audio.Waveform, requestID string) (io.Reader, string, error) {
	wavData, err := audio.EncodeWAV(waveform.Samples, waveform.SampleRate)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode waveform: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", requestID+".wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := fileWriter.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := [][2]string{
		{"request_id", requestID},
		{"sample_rate", strconv.Itoa(waveform.SampleRate)},
		{"duration", strconv.FormatFloat(waveform.Duration(), 'f', 3, 64)},
		{"layer", strconv.Itoa(c.config.Layer)},
		{"response_format", c.config.ResponseFormat},
	}

	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", field[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

func isMsgpack(contentType string) bool {
	contentType = strings.ToLower(contentType)
	return strings.Contains(contentType, "msgpack")
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		Endpoint:        c.config.Endpoint,
		Ready:           c.ready.Load(),
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
		MaxConcurrent:   c.config.MaxConcurrent,
	}
}

// Close waits for in-flight requests and releases idle connections
func (c *Client) Close(ctx context.Context) error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		select {
		case c.semaphore <- struct{}{}:
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for model requests: %w", ctx.Err())
		}
	}

	c.httpClient.CloseIdleConnections()
	return nil
}
