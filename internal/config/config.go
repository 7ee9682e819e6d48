package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override (SIREN_HTTP_PORT, SIREN_API_KEY, ...)
const EnvPrefix = "SIREN"

// Config represents the complete service configuration
type Config struct {
	HTTP     HTTPConfig     `yaml:"http" envconfig:"HTTP"`
	API      APIConfig      `yaml:"api" envconfig:"API"`
	Audio    AudioConfig    `yaml:"audio" envconfig:"AUDIO"`
	Model    ModelConfig    `yaml:"model" envconfig:"MODEL"`
	Risk     RiskConfig     `yaml:"risk" envconfig:"RISK"`
	Decision DecisionConfig `yaml:"decision" envconfig:"DECISION"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOG"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port           int    `yaml:"port" envconfig:"PORT"`
	Address        string `yaml:"address" envconfig:"ADDRESS"`
	RequestTimeout int    `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"` // seconds
	MaxBodyBytes   int64  `yaml:"max_body_bytes" envconfig:"MAX_BODY_BYTES"`
	LegacyEndpoint bool   `yaml:"legacy_endpoint" envconfig:"LEGACY_ENDPOINT"`
}

// APIConfig contains request authentication and schema settings
type APIConfig struct {
	Key       string   `yaml:"api_key" envconfig:"KEY"`
	Languages []string `yaml:"languages" envconfig:"LANGUAGES"`
	Formats   []string `yaml:"formats" envconfig:"FORMATS"`
}

// AudioConfig contains audio normalization parameters
type AudioConfig struct {
	SampleRate  int     `yaml:"sample_rate" envconfig:"SAMPLE_RATE"`
	MinDuration float64 `yaml:"min_duration" envconfig:"MIN_DURATION"` // seconds
	TopDB       float64 `yaml:"top_db" envconfig:"TOP_DB"`
	FrameLength int     `yaml:"frame_length" envconfig:"FRAME_LENGTH"` // samples
	HopLength   int     `yaml:"hop_length" envconfig:"HOP_LENGTH"`     // samples
}

// ModelConfig contains feature model sidecar configuration
type ModelConfig struct {
	Endpoint       string `yaml:"endpoint" envconfig:"ENDPOINT"`
	HealthPath     string `yaml:"health_path" envconfig:"HEALTH_PATH"`
	APIKey         string `yaml:"api_key" envconfig:"API_KEY"`
	Timeout        int    `yaml:"timeout" envconfig:"TIMEOUT"` // seconds
	MaxConcurrent  int    `yaml:"max_concurrent" envconfig:"MAX_CONCURRENT"`
	ResponseFormat string `yaml:"response_format" envconfig:"RESPONSE_FORMAT"`
}

// RiskConfig selects the risk statistic. Each strategy carries its own
// calibration so switching strategy never inherits the other's constants.
type RiskConfig struct {
	Strategy         string            `yaml:"strategy" envconfig:"STRATEGY"`
	LengthNormalized CalibrationConfig `yaml:"length_normalized" envconfig:"LENGTH_NORMALIZED"`
	BatchZScore      CalibrationConfig `yaml:"batch_zscore" envconfig:"BATCH_ZSCORE"`
}

// CalibrationConfig holds the constants of one risk strategy. Scale is unused
// by batch_zscore.
type CalibrationConfig struct {
	Layer  int     `yaml:"layer" envconfig:"LAYER"`
	Center float64 `yaml:"center" envconfig:"CENTER"`
	Scale  float64 `yaml:"scale" envconfig:"SCALE"`
}

// DecisionConfig contains the verdict policy constants
type DecisionConfig struct {
	Threshold            float64 `yaml:"threshold" envconfig:"THRESHOLD"`
	AIFloor              float64 `yaml:"ai_floor" envconfig:"AI_FLOOR"`
	HumanCap             float64 `yaml:"human_cap" envconfig:"HUMAN_CAP"`
	Precision            int     `yaml:"precision" envconfig:"PRECISION"`
	DegenerateConfidence float64 `yaml:"degenerate_confidence" envconfig:"DEGENERATE_CONFIDENCE"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"`
	Output string `yaml:"output" envconfig:"OUTPUT"`
}

// Strategy names accepted by RiskConfig.Strategy
const (
	StrategyLengthNormalized = "length_normalized"
	StrategyBatchZScore      = "batch_zscore"
)

// Default returns the configuration the service runs with when nothing overrides it
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:           8000,
			Address:        "0.0.0.0",
			RequestTimeout: 30,
			MaxBodyBytes:   20 << 20,
			LegacyEndpoint: true,
		},
		API: APIConfig{
			Languages: []string{"Tamil", "English", "Hindi", "Malayalam", "Telugu"},
			Formats:   []string{"mp3"},
		},
		Audio: AudioConfig{
			SampleRate:  16000,
			MinDuration: 0.25,
			TopDB:       30,
			FrameLength: 2048,
			HopLength:   512,
		},
		Model: ModelConfig{
			Endpoint:       "http://127.0.0.1:9000/v1/hidden-states",
			HealthPath:     "/health",
			Timeout:        20,
			MaxConcurrent:  0, // resolved to runtime.NumCPU() by the model client
			ResponseFormat: "msgpack",
		},
		Risk: RiskConfig{
			Strategy: StrategyLengthNormalized,
			LengthNormalized: CalibrationConfig{
				Layer:  6,
				Center: 0.015,
				Scale:  0.010,
			},
			BatchZScore: CalibrationConfig{
				Layer:  12,
				Center: 0.02,
			},
		},
		Decision: DecisionConfig{
			Threshold:            0.66,
			AIFloor:              0.75,
			HumanCap:             0.35,
			Precision:            2,
			DegenerateConfidence: 0.20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file over the defaults, applies environment
// overrides and validates the result
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv loads an optional .env file and overlays SIREN_* environment variables.
// The bare API_KEY variable is honoured when no key was configured otherwise.
func (c *Config) ApplyEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return err
	}

	if c.API.Key == "" {
		c.API.Key = os.Getenv("API_KEY")
	}

	return nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model config: %w", err)
	}

	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("risk config: %w", err)
	}

	if err := c.Decision.Validate(); err != nil {
		return fmt.Errorf("decision config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("http address cannot be empty")
	}

	if h.RequestTimeout < 1 {
		return fmt.Errorf("request_timeout must be at least 1 second, got %d", h.RequestTimeout)
	}

	if h.MaxBodyBytes < 1024 {
		return fmt.Errorf("max_body_bytes must be at least 1024, got %d", h.MaxBodyBytes)
	}

	return nil
}

// Validate validates the request schema settings. An empty API key is allowed
// and makes the official endpoint reject every request.
func (a *APIConfig) Validate() error {
	if len(a.Languages) == 0 {
		return fmt.Errorf("languages cannot be empty")
	}

	if len(a.Formats) == 0 {
		return fmt.Errorf("formats cannot be empty")
	}

	for _, f := range a.Formats {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("formats cannot contain empty entries")
		}
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.MinDuration <= 0 {
		return fmt.Errorf("min_duration must be positive, got %f", a.MinDuration)
	}

	if a.TopDB <= 0 {
		return fmt.Errorf("top_db must be positive, got %f", a.TopDB)
	}

	if a.FrameLength < 16 {
		return fmt.Errorf("frame_length must be at least 16 samples, got %d", a.FrameLength)
	}

	if a.HopLength < 1 || a.HopLength > a.FrameLength {
		return fmt.Errorf("hop_length must be between 1 and frame_length (%d), got %d", a.FrameLength, a.HopLength)
	}

	return nil
}

// Validate validates feature model configuration
func (m *ModelConfig) Validate() error {
	if m.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if m.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", m.Timeout)
	}

	if m.MaxConcurrent < 0 {
		return fmt.Errorf("max_concurrent cannot be negative, got %d", m.MaxConcurrent)
	}

	validFormats := map[string]bool{"json": true, "msgpack": true}
	if !validFormats[m.ResponseFormat] {
		return fmt.Errorf("response_format must be 'json' or 'msgpack', got '%s'", m.ResponseFormat)
	}

	return nil
}

// Validate validates risk statistic configuration
func (r *RiskConfig) Validate() error {
	switch r.Strategy {
	case StrategyLengthNormalized, StrategyBatchZScore:
	default:
		return fmt.Errorf("strategy must be '%s' or '%s', got '%s'",
			StrategyLengthNormalized, StrategyBatchZScore, r.Strategy)
	}

	if r.LengthNormalized.Layer < 0 {
		return fmt.Errorf("length_normalized.layer cannot be negative, got %d", r.LengthNormalized.Layer)
	}

	if r.LengthNormalized.Scale <= 0 {
		return fmt.Errorf("length_normalized.scale must be positive, got %f", r.LengthNormalized.Scale)
	}

	if r.BatchZScore.Layer < 0 {
		return fmt.Errorf("batch_zscore.layer cannot be negative, got %d", r.BatchZScore.Layer)
	}

	return nil
}

// Calibration returns the constants of the selected strategy
func (r *RiskConfig) Calibration() CalibrationConfig {
	if r.Strategy == StrategyBatchZScore {
		return r.BatchZScore
	}
	return r.LengthNormalized
}

// Validate validates the decision policy
func (d *DecisionConfig) Validate() error {
	if d.Threshold <= 0 || d.Threshold >= 1 {
		return fmt.Errorf("threshold must be between 0 and 1 (exclusive), got %f", d.Threshold)
	}

	if d.AIFloor < 0 || d.AIFloor > 1 {
		return fmt.Errorf("ai_floor must be between 0 and 1, got %f", d.AIFloor)
	}

	if d.HumanCap < 0 || d.HumanCap > 1 {
		return fmt.Errorf("human_cap must be between 0 and 1, got %f", d.HumanCap)
	}

	if d.Precision < 0 || d.Precision > 6 {
		return fmt.Errorf("precision must be between 0 and 6, got %d", d.Precision)
	}

	if d.DegenerateConfidence < 0 || d.DegenerateConfidence > 1 {
		return fmt.Errorf("degenerate_confidence must be between 0 and 1, got %f", d.DegenerateConfidence)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetRequestTimeoutDuration returns the per-request timeout as a time.Duration
func (h *HTTPConfig) GetRequestTimeoutDuration() time.Duration {
	return time.Duration(h.RequestTimeout) * time.Second
}

// GetTimeoutDuration returns the model request timeout as a time.Duration
func (m *ModelConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(m.Timeout) * time.Second
}

// GetMinSamples returns the minimum clip length in samples at the target rate
func (a *AudioConfig) GetMinSamples() int {
	return int(float64(a.SampleRate) * a.MinDuration)
}

// SupportsLanguage reports whether language is in the configured set (exact match)
func (a *APIConfig) SupportsLanguage(language string) bool {
	for _, l := range a.Languages {
		if l == language {
			return true
		}
	}
	return false
}

// SupportsFormat reports whether format is accepted, ignoring case
func (a *APIConfig) SupportsFormat(format string) bool {
	for _, f := range a.Formats {
		if strings.EqualFold(f, format) {
			return true
		}
	}
	return false
}
