package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eincosmos/sirenvoice/internal/risk"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected default config to be valid, got: %v", err)
	}

	if cfg.Audio.GetMinSamples() != 4000 {
		t.Errorf("Expected 4000 minimum samples, got %d", cfg.Audio.GetMinSamples())
	}

	if cfg.Risk.Strategy != StrategyLengthNormalized {
		t.Errorf("Expected default strategy %s, got %s", StrategyLengthNormalized, cfg.Risk.Strategy)
	}

	if cfg.Decision.Threshold != 0.66 || cfg.Decision.AIFloor != 0.75 || cfg.Decision.HumanCap != 0.35 {
		t.Errorf("Unexpected decision defaults: %+v", cfg.Decision)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid configuration",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "invalid http port",
			mutate:      func(c *Config) { c.HTTP.Port = 70000 },
			expectError: true,
			errorMsg:    "http port must be between 1 and 65535",
		},
		{
			name:        "empty languages",
			mutate:      func(c *Config) { c.API.Languages = nil },
			expectError: true,
			errorMsg:    "languages cannot be empty",
		},
		{
			name:        "invalid sample rate",
			mutate:      func(c *Config) { c.Audio.SampleRate = 4000 },
			expectError: true,
			errorMsg:    "sample_rate must be between",
		},
		{
			name:        "hop longer than frame",
			mutate:      func(c *Config) { c.Audio.HopLength = 4096 },
			expectError: true,
			errorMsg:    "hop_length must be between",
		},
		{
			name:        "unknown response format",
			mutate:      func(c *Config) { c.Model.ResponseFormat = "protobuf" },
			expectError: true,
			errorMsg:    "response_format must be",
		},
		{
			name:        "unknown strategy",
			mutate:      func(c *Config) { c.Risk.Strategy = "spectral" },
			expectError: true,
			errorMsg:    "strategy must be",
		},
		{
			name:        "zero scale",
			mutate:      func(c *Config) { c.Risk.LengthNormalized.Scale = 0 },
			expectError: true,
			errorMsg:    "scale must be positive",
		},
		{
			name:        "negative batch layer",
			mutate:      func(c *Config) { c.Risk.BatchZScore.Layer = -1 },
			expectError: true,
			errorMsg:    "batch_zscore.layer cannot be negative",
		},
		{
			name:        "threshold out of range",
			mutate:      func(c *Config) { c.Decision.Threshold = 1.5 },
			expectError: true,
			errorMsg:    "threshold must be between 0 and 1",
		},
		{
			name:        "invalid log level",
			mutate:      func(c *Config) { c.Logging.Level = "trace" },
			expectError: true,
			errorMsg:    "level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config file",
			configYAML: `
http:
  port: 8080
  address: "127.0.0.1"
  request_timeout: 15
  max_body_bytes: 1048576
api:
  api_key: "file-key"
  languages: ["English", "Hindi"]
  formats: ["mp3"]
audio:
  sample_rate: 16000
  min_duration: 0.25
  top_db: 30
  frame_length: 2048
  hop_length: 512
model:
  endpoint: "http://model:9000/v1/hidden-states"
  timeout: 10
  max_concurrent: 2
  response_format: "json"
risk:
  strategy: "batch_zscore"
  batch_zscore:
    layer: 12
    center: 0.02
decision:
  threshold: 0.66
  ai_floor: 0.75
  human_cap: 0.35
  precision: 2
  degenerate_confidence: 0.2
logging:
  level: "debug"
  format: "text"
  output: "stderr"
`,
			expectError: false,
		},
		{
			name: "partial file keeps defaults",
			configYAML: `
logging:
  level: "warn"
`,
			expectError: false,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
http:
  port: invalid_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "invalid values",
			configYAML: `
decision:
  precision: 12
`,
			expectError: true,
			errorMsg:    "precision must be between",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			err := os.WriteFile(configPath, []byte(tt.configYAML), 0644)
			if err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if config == nil {
				t.Fatal("Expected config but got nil")
			}
		})
	}
}

func TestConfigLoadValues(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
risk:
  strategy: "batch_zscore"
  batch_zscore:
    layer: 10
logging:
  level: "warn"
`
	if err := os.WriteFile(configPath, []byte(yaml), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	calibration := cfg.Risk.Calibration()
	if cfg.Risk.Strategy != StrategyBatchZScore || calibration.Layer != 10 {
		t.Errorf("Expected batch_zscore on layer 10, got %s on layer %d", cfg.Risk.Strategy, calibration.Layer)
	}
	if calibration.Center != 0.02 {
		t.Errorf("Expected unset center to keep the batch_zscore default 0.02, got %f", calibration.Center)
	}

	// Untouched sections keep their defaults
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("Expected default sample rate 16000, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected default log format json, got %s", cfg.Logging.Format)
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Error("Expected error when loading nonexistent file")
	}

	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected read error, got: %v", err)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SIREN_HTTP_PORT", "9090")
	t.Setenv("SIREN_API_KEY", "env-key")
	t.Setenv("SIREN_API_LANGUAGES", "English,Tamil")
	t.Setenv("SIREN_DECISION_THRESHOLD", "0.7")
	t.Setenv("SIREN_MODEL_ENDPOINT", "http://sidecar:9000/extract")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTP.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.HTTP.Port)
	}
	if cfg.API.Key != "env-key" {
		t.Errorf("Expected api key from environment, got %q", cfg.API.Key)
	}
	if len(cfg.API.Languages) != 2 || cfg.API.Languages[1] != "Tamil" {
		t.Errorf("Expected languages [English Tamil], got %v", cfg.API.Languages)
	}
	if cfg.Decision.Threshold != 0.7 {
		t.Errorf("Expected threshold 0.7, got %f", cfg.Decision.Threshold)
	}
	if cfg.Model.Endpoint != "http://sidecar:9000/extract" {
		t.Errorf("Unexpected model endpoint %s", cfg.Model.Endpoint)
	}
}

func TestStrategySwitchUsesItsOwnCalibration(t *testing.T) {
	t.Setenv("SIREN_RISK_STRATEGY", "batch_zscore")

	cfg, err := Load("../../configs/config.yaml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	calibration := cfg.Risk.Calibration()
	if calibration.Layer != 12 {
		t.Errorf("Expected batch_zscore layer 12, got %d", calibration.Layer)
	}
	if calibration.Center != 0.02 {
		t.Errorf("Expected batch_zscore center 0.02, got %f", calibration.Center)
	}

	t.Setenv("SIREN_RISK_BATCH_ZSCORE_LAYER", "11")
	cfg, err = Load("../../configs/config.yaml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := cfg.Risk.Calibration().Layer; got != 11 {
		t.Errorf("Expected env layer override 11, got %d", got)
	}
	if got := cfg.Risk.LengthNormalized.Layer; got != 6 {
		t.Errorf("Expected length_normalized layer to stay 6, got %d", got)
	}
}

func TestDefaultCalibrationMatchesStrategies(t *testing.T) {
	r := Default().Risk

	ln := risk.DefaultLengthNormalized()
	if r.LengthNormalized.Layer != ln.Layer || r.LengthNormalized.Center != ln.Center || r.LengthNormalized.Scale != ln.Scale {
		t.Errorf("length_normalized defaults %+v differ from %+v", r.LengthNormalized, ln)
	}

	bz := risk.DefaultBatchZScore()
	if r.BatchZScore.Layer != bz.Layer || r.BatchZScore.Center != bz.Center {
		t.Errorf("batch_zscore defaults %+v differ from %+v", r.BatchZScore, bz)
	}
}

func TestBareAPIKeyFallback(t *testing.T) {
	t.Setenv("SIREN_API_KEY", "")
	t.Setenv("API_KEY", "legacy-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.Key != "legacy-key" {
		t.Errorf("Expected API_KEY fallback, got %q", cfg.API.Key)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	cfg.HTTP.RequestTimeout = 15
	cfg.Model.Timeout = 3

	if got := cfg.HTTP.GetRequestTimeoutDuration(); got != 15*time.Second {
		t.Errorf("Expected 15s request timeout, got %v", got)
	}
	if got := cfg.Model.GetTimeoutDuration(); got != 3*time.Second {
		t.Errorf("Expected 3s model timeout, got %v", got)
	}
}

func TestSchemaHelpers(t *testing.T) {
	api := Default().API

	if !api.SupportsLanguage("Malayalam") {
		t.Error("Expected Malayalam to be supported")
	}
	if api.SupportsLanguage("english") {
		t.Error("Expected language match to be case sensitive")
	}
	if !api.SupportsFormat("MP3") {
		t.Error("Expected format match to ignore case")
	}
	if api.SupportsFormat("wav") {
		t.Error("Expected wav to be rejected by default")
	}
}

func TestShippedConfigMatchesDefaults(t *testing.T) {
	cfg, err := Load("../../configs/config.yaml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	def := Default()
	if cfg.HTTP != def.HTTP {
		t.Errorf("HTTP section differs from defaults: %+v vs %+v", cfg.HTTP, def.HTTP)
	}
	if cfg.Audio != def.Audio {
		t.Errorf("Audio section differs from defaults: %+v vs %+v", cfg.Audio, def.Audio)
	}
	if cfg.Risk != def.Risk {
		t.Errorf("Risk section differs from defaults: %+v vs %+v", cfg.Risk, def.Risk)
	}
	if cfg.Decision != def.Decision {
		t.Errorf("Decision section differs from defaults: %+v vs %+v", cfg.Decision, def.Decision)
	}
}
