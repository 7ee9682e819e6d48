package forensic

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/eincosmos/sirenvoice/internal/audio"
	"github.com/eincosmos/sirenvoice/internal/decision"
	"github.com/eincosmos/sirenvoice/internal/metrics"
	"github.com/eincosmos/sirenvoice/internal/model"
	"github.com/eincosmos/sirenvoice/internal/risk"
	"github.com/eincosmos/sirenvoice/internal/vad"
)

// Config wires the pipeline stages into an Auditor
type Config struct {
	Preprocessor         *audio.Preprocessor
	Extractor            model.Extractor
	Strategy             risk.Strategy
	Policy               decision.Policy
	DegenerateConfidence float64

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Auditor sequences preprocessing, feature extraction, risk scoring and the
// decision policy. It is safe for concurrent use.
type Auditor struct {
	preprocessor         *audio.Preprocessor
	extractor            model.Extractor
	strategy             risk.Strategy
	policy               decision.Policy
	degenerateConfidence float64

	logger  *slog.Logger
	metrics *metrics.Metrics

	// Statistics
	totalAnalyses  uint64
	aiVerdicts     uint64
	humanVerdicts  uint64
	degenerate     uint64
	fallbacks      uint64
	decodeFailures uint64
	panics         uint64
	lastAnalysis   time.Time

	mu sync.RWMutex
}

// AuditorStats represents auditor statistics
type AuditorStats struct {
	Strategy       string    `json:"strategy"`
	TotalAnalyses  uint64    `json:"total_analyses"`
	AIVerdicts     uint64    `json:"ai_verdicts"`
	HumanVerdicts  uint64    `json:"human_verdicts"`
	Degenerate     uint64    `json:"degenerate"`
	Fallbacks      uint64    `json:"model_fallbacks"`
	DecodeFailures uint64    `json:"decode_failures"`
	Panics         uint64    `json:"panics"`
	LastAnalysis   time.Time `json:"last_analysis"`
}

// NewAuditor creates an auditor from its stages
func NewAuditor(config Config) (*Auditor, error) {
	if config.Preprocessor == nil {
		return nil, fmt.Errorf("preprocessor cannot be nil")
	}

	if config.Extractor == nil {
		return nil, fmt.Errorf("extractor cannot be nil")
	}

	if config.Strategy == nil {
		return nil, fmt.Errorf("risk strategy cannot be nil")
	}

	if err := config.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid decision policy: %w", err)
	}

	if config.DegenerateConfidence < 0 || config.DegenerateConfidence > 1 {
		return nil, fmt.Errorf("degenerate confidence must be between 0 and 1, got %f", config.DegenerateConfidence)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Auditor{
		preprocessor:         config.Preprocessor,
		extractor:            config.Extractor,
		strategy:             config.Strategy,
		policy:               config.Policy,
		degenerateConfidence: config.DegenerateConfidence,
		logger:               logger.With(slog.String("component", "auditor")),
		metrics:              config.Metrics,
	}, nil
}

// AnalyzeBase64 decodes a standard base64 payload and analyses it. An invalid
// payload is reported as a *audio.DecodeError.
func (a *Auditor) AnalyzeBase64(ctx context.Context, payload string) (*Verdict, error) {
	raw, err := DecodeBase64(payload)
	if err != nil {
		a.recordDecodeFailure(err)
		return nil, err
	}
	return a.Analyze(ctx, raw)
}

// DecodeBase64 decodes standard base64, ignoring surrounding and embedded
// whitespace and tolerating missing padding
func DecodeBase64(payload string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, payload)

	raw, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		var rawErr error
		raw, rawErr = base64.RawStdEncoding.DecodeString(strings.TrimRight(cleaned, "="))
		if rawErr != nil {
			return nil, &audio.DecodeError{Format: "base64", Reason: "invalid payload", Err: err}
		}
	}

	return raw, nil
}

// Analyze classifies a raw recording. The only errors returned are
// *audio.DecodeError for malformed input, the context error if ctx is done
// and ErrAnalysisFailed if the pipeline panics.
func (a *Auditor) Analyze(ctx context.Context, raw []byte) (verdict *Verdict, err error) {
	startTime := time.Now()
	a.metrics.IncInFlight()
	defer a.metrics.DecInFlight()

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Analysis panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			a.incrementPanics()
			a.metrics.RecordAnalysisFailure("panic")
			verdict = nil
			err = fmt.Errorf("%w: %v", ErrAnalysisFailed, r)
		}
	}()

	stageStart := time.Now()
	outcome, err := a.preprocessor.Normalize(raw)
	a.metrics.RecordStage("preprocess", time.Since(stageStart).Seconds())
	if err != nil {
		a.recordDecodeFailure(err)
		return nil, err
	}

	details := Details{
		Strategy:       a.strategy.Name(),
		SourceFormat:   outcome.SourceFormat,
		SourceRate:     outcome.SourceRate,
		SourceChannels: outcome.SourceChannels,
		Duration:       outcome.Waveform.Duration(),
		TrimmedSamples: outcome.TrimmedSamples,
	}

	if total := outcome.Waveform.Len() + outcome.TrimmedSamples; total > 0 {
		a.metrics.RecordAudio(details.Duration, float64(outcome.TrimmedSamples)/float64(total))
	}

	if outcome.Status == audio.StatusTooShort {
		a.logger.Debug("Clip too short for analysis",
			slog.Int("samples", outcome.Waveform.Len()),
			slog.Int("min_samples", a.preprocessor.MinSamples()))

		// No risk was computed, so RiskScore stays zero
		details.Path = PathDegenerate
		details.Elapsed = time.Since(startTime)

		v := &Verdict{
			Classification:  Human,
			ConfidenceScore: a.degenerateConfidence,
			Explanation:     ExplanationHuman,
			Details:         details,
		}
		a.metrics.RecordDegenerateAudio()
		a.record(v)
		return v, nil
	}

	score, path, err := a.score(ctx, outcome.Waveform)
	if err != nil {
		a.metrics.RecordAnalysisFailure("cancelled")
		return nil, err
	}

	result := a.policy.Classify(score)
	classification := Human
	if result.IsAI {
		classification = AIGenerated
	}

	details.Path = path
	details.RiskScore = score
	details.Elapsed = time.Since(startTime)

	v := &Verdict{
		Classification:  classification,
		ConfidenceScore: result.Confidence,
		Explanation:     ExplanationFor(classification),
		Details:         details,
	}

	a.logger.Info("Analysis completed",
		slog.String("classification", string(v.Classification)),
		slog.Float64("confidence", v.ConfidenceScore),
		slog.Float64("risk", score),
		slog.String("path", string(path)),
		slog.Float64("duration_s", details.Duration),
		slog.Duration("elapsed", details.Elapsed))

	a.record(v)
	return v, nil
}

// score runs the feature model and the risk strategy. Model failures and
// empty stacks resolve to the neutral score; only a done context is an error.
func (a *Auditor) score(ctx context.Context, waveform audio.Waveform) (float64, Path, error) {
	stageStart := time.Now()
	states, err := a.extractor.Extract(ctx, waveform)
	elapsed := time.Since(stageStart)
	a.metrics.RecordStage("extract", elapsed.Seconds())

	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, "", fmt.Errorf("analysis aborted: %w", ctxErr)
	}

	if err == nil && states.Empty() {
		err = model.ErrEmptyStack
	}

	if err != nil {
		a.metrics.RecordModelFailure(elapsed.Seconds())
		a.metrics.RecordModelFallback()
		a.incrementFallbacks()

		a.logger.Warn("Feature model unavailable, using neutral risk",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", elapsed))

		a.metrics.RecordRiskScore(risk.Neutral)
		return risk.Neutral, PathFallback, nil
	}

	a.metrics.RecordModelSuccess(elapsed.Seconds())

	stageStart = time.Now()
	score := a.strategy.Compute(states)
	a.metrics.RecordStage("risk", time.Since(stageStart).Seconds())
	a.metrics.RecordRiskScore(score)

	a.logger.Debug("Risk computed",
		slog.String("strategy", a.strategy.Name()),
		slog.Int("layers", states.Layers()),
		slog.Float64("risk", score))

	return score, PathModel, nil
}

func (a *Auditor) recordDecodeFailure(err error) {
	var decodeErr *audio.DecodeError
	if errors.As(err, &decodeErr) {
		a.logger.Debug("Rejected undecodable audio",
			slog.String("format", decodeErr.Format),
			slog.String("reason", decodeErr.Reason))
	}

	a.mu.Lock()
	a.decodeFailures++
	a.mu.Unlock()

	a.metrics.RecordAnalysisFailure("decode")
}

// record updates statistics for a completed verdict
func (a *Auditor) record(v *Verdict) {
	a.metrics.RecordAnalysis(string(v.Classification), string(v.Details.Path), v.ConfidenceScore)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalAnalyses++
	if v.IsAI() {
		a.aiVerdicts++
	} else {
		a.humanVerdicts++
	}
	if v.Details.Path == PathDegenerate {
		a.degenerate++
	}
	a.lastAnalysis = time.Now()
}

func (a *Auditor) incrementFallbacks() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fallbacks++
}

func (a *Auditor) incrementPanics() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.panics++
}

// GetStats returns current auditor statistics
func (a *Auditor) GetStats() AuditorStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return AuditorStats{
		Strategy:       a.strategy.Name(),
		TotalAnalyses:  a.totalAnalyses,
		AIVerdicts:     a.aiVerdicts,
		HumanVerdicts:  a.humanVerdicts,
		Degenerate:     a.degenerate,
		Fallbacks:      a.fallbacks,
		DecodeFailures: a.decodeFailures,
		Panics:         a.panics,
		LastAnalysis:   a.lastAnalysis,
	}
}

// DetectorStats exposes the silence detector statistics of the preprocessor
func (a *Auditor) DetectorStats() vad.DetectorStats {
	return a.preprocessor.DetectorStats()
}
