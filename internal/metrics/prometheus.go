package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice detection service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Analysis metrics
	Analyses        *prometheus.CounterVec
	AnalysesFailed  *prometheus.CounterVec
	DegenerateAudio prometheus.Counter
	AudioDuration   prometheus.Histogram
	TrimmedRatio    prometheus.Histogram
	RiskScore       prometheus.Histogram
	Confidence      *prometheus.HistogramVec
	StageDuration   *prometheus.HistogramVec
	InFlight        prometheus.Gauge

	// Model metrics
	ModelRequests  prometheus.Counter
	ModelFailures  prometheus.Counter
	ModelFallbacks prometheus.Counter
	ModelDuration  prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on the default handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Analysis metrics
		Analyses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "siren_analyses_total",
			Help: "Total number of completed analyses by classification and path",
		}, []string{"classification", "path"}),
		AnalysesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "siren_analyses_failed_total",
			Help: "Total number of analyses that returned an error",
		}, []string{"reason"}),
		DegenerateAudio: factory.NewCounter(prometheus.CounterOpts{
			Name: "siren_degenerate_audio_total",
			Help: "Total number of clips too short to analyse after trimming",
		}),
		AudioDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "siren_audio_duration_seconds",
			Help:    "Duration of normalized clips sent for analysis",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2 minutes
		}),
		TrimmedRatio: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "siren_trimmed_ratio",
			Help:    "Fraction of each clip removed as leading or trailing silence",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		RiskScore: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "siren_risk_score",
			Help:    "Neural risk score produced by the risk statistic",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
		}),
		Confidence: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "siren_confidence_score",
			Help:    "Reported confidence score by classification",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}, []string{"classification"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "siren_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		}, []string{"stage"}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "siren_analyses_in_flight",
			Help: "Current number of analyses being processed",
		}),

		// Model metrics
		ModelRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "siren_model_requests_total",
			Help: "Total number of hidden-state extraction requests",
		}),
		ModelFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "siren_model_failures_total",
			Help: "Total number of failed hidden-state extraction requests",
		}),
		ModelFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "siren_model_fallbacks_total",
			Help: "Total number of analyses that used the neutral risk score",
		}),
		ModelDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "siren_model_duration_seconds",
			Help:    "Duration of hidden-state extraction requests",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "siren_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "siren_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "siren_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordAnalysis records a completed analysis. path is "model", "fallback"
// or "degenerate".
func (m *Metrics) RecordAnalysis(classification, path string, confidence float64) {
	if m == nil {
		return
	}
	m.Analyses.WithLabelValues(classification, path).Inc()
	m.Confidence.WithLabelValues(classification).Observe(confidence)
}

// RecordAnalysisFailure records an analysis that returned an error
func (m *Metrics) RecordAnalysisFailure(reason string) {
	if m == nil {
		return
	}
	m.AnalysesFailed.WithLabelValues(reason).Inc()
}

// RecordDegenerateAudio increments the degenerate audio counter
func (m *Metrics) RecordDegenerateAudio() {
	if m == nil {
		return
	}
	m.DegenerateAudio.Inc()
}

// RecordAudio records the normalized clip duration and the trimmed fraction
func (m *Metrics) RecordAudio(durationSeconds, trimmedRatio float64) {
	if m == nil {
		return
	}
	m.AudioDuration.Observe(durationSeconds)
	m.TrimmedRatio.Observe(trimmedRatio)
}

// RecordRiskScore observes a risk score
func (m *Metrics) RecordRiskScore(score float64) {
	if m == nil {
		return
	}
	m.RiskScore.Observe(score)
}

// RecordStage observes the duration of a pipeline stage
func (m *Metrics) RecordStage(stage string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// IncInFlight increments the in-flight analyses gauge
func (m *Metrics) IncInFlight() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

// DecInFlight decrements the in-flight analyses gauge
func (m *Metrics) DecInFlight() {
	if m == nil {
		return
	}
	m.InFlight.Dec()
}

// RecordModelSuccess records a successful extraction
func (m *Metrics) RecordModelSuccess(durationSeconds float64) {
	if m == nil {
		return
	}
	m.ModelRequests.Inc()
	m.ModelDuration.Observe(durationSeconds)
}

// RecordModelFailure records a failed extraction
func (m *Metrics) RecordModelFailure(durationSeconds float64) {
	if m == nil {
		return
	}
	m.ModelRequests.Inc()
	m.ModelFailures.Inc()
	m.ModelDuration.Observe(durationSeconds)
}

// RecordModelFallback increments the neutral-score fallback counter
func (m *Metrics) RecordModelFallback() {
	if m == nil {
		return
	}
	m.ModelFallbacks.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
