package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue sums every sample of the named counter family in reg
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		total := 0.0
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
		return total
	}
	return 0
}

func TestNewMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordAnalysis("HUMAN", "model", 0.35)
	m.RecordAnalysis("AI_GENERATED", "model", 0.75)
	m.RecordDegenerateAudio()
	m.RecordModelFailure(0.2)
	m.RecordModelFallback()
	m.RecordHTTPRequest("POST", "/api/voice-detection", "200", 0.1)

	assert.Equal(t, float64(2), counterValue(t, reg, "siren_analyses_total"))
	assert.Equal(t, float64(1), counterValue(t, reg, "siren_degenerate_audio_total"))
	assert.Equal(t, float64(1), counterValue(t, reg, "siren_model_failures_total"))
	assert.Equal(t, float64(1), counterValue(t, reg, "siren_model_requests_total"))
	assert.Equal(t, float64(1), counterValue(t, reg, "siren_model_fallbacks_total"))
	assert.Equal(t, float64(1), counterValue(t, reg, "siren_http_requests_total"))
}

func TestNewMetricsSeparateRegistries(t *testing.T) {
	// Each registry owns its collectors, so repeated construction must not panic
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordAnalysis("HUMAN", "degenerate", 0.2)
		m.RecordAnalysisFailure("decode")
		m.RecordDegenerateAudio()
		m.RecordAudio(1, 0.1)
		m.RecordRiskScore(0.5)
		m.RecordStage("preprocess", 0.01)
		m.IncInFlight()
		m.DecInFlight()
		m.RecordModelSuccess(0.1)
		m.RecordModelFailure(0.1)
		m.RecordModelFallback()
		m.RecordHTTPRequest("GET", "/health", "200", 0.001)
		m.RecordHTTPError("GET", "/health", "client_error")
	})
}
