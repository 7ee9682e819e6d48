package audio

import (
	"fmt"
	"math"

	"github.com/eincosmos/sirenvoice/internal/vad"
)

// Status tags the result of normalizing a recording
type Status int

const (
	// StatusReady means the waveform can be sent to the feature model
	StatusReady Status = iota
	// StatusTooShort means the clip is below the minimum duration after trimming
	StatusTooShort
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusTooShort:
		return "too_short"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Waveform is a mono, peak-normalized signal at the target sample rate
type Waveform struct {
	Samples    []float32
	SampleRate int
}

// Len returns the number of samples
func (w Waveform) Len() int {
	return len(w.Samples)
}

// Duration returns the waveform length in seconds
func (w Waveform) Duration() float64 {
	if w.SampleRate <= 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SampleRate)
}

// Outcome is the tagged result of Preprocessor.Normalize. Decode failures are
// returned as errors instead.
type Outcome struct {
	Status         Status
	Waveform       Waveform // trimmed and normalized; set for every status
	SourceFormat   string
	SourceRate     int
	SourceChannels int
	TrimmedSamples int     // samples removed by silence trimming
	Peak           float32 // absolute peak before normalization
}

// PreprocessorConfig contains the normalization parameters
type PreprocessorConfig struct {
	SampleRate  int
	MinDuration float64 // seconds
	TopDB       float64
	FrameLength int
	HopLength   int
}

// Preprocessor normalizes recordings for analysis. It is safe for concurrent use.
type Preprocessor struct {
	sampleRate int
	minSamples int
	detector   *vad.Detector
}

// NewPreprocessor creates a preprocessor from config
func NewPreprocessor(config PreprocessorConfig) (*Preprocessor, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}

	if config.MinDuration <= 0 {
		return nil, fmt.Errorf("min duration must be positive, got %f", config.MinDuration)
	}

	detector, err := vad.NewDetector(config.TopDB, config.FrameLength, config.HopLength)
	if err != nil {
		return nil, fmt.Errorf("failed to create silence detector: %w", err)
	}

	return &Preprocessor{
		sampleRate: config.SampleRate,
		minSamples: int(float64(config.SampleRate) * config.MinDuration),
		detector:   detector,
	}, nil
}

// Normalize decodes raw and prepares it for analysis. The only error it returns
// is a *DecodeError; short or silent clips are reported through Outcome.Status.
func (p *Preprocessor) Normalize(raw []byte) (*Outcome, error) {
	pcm, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	samples, err := Resample(pcm.Samples, pcm.SampleRate, p.sampleRate)
	if err != nil {
		return nil, &DecodeError{Format: pcm.Format, Reason: "resampling failed", Err: err}
	}

	outcome := p.NormalizeSamples(samples)
	outcome.SourceFormat = pcm.Format
	outcome.SourceRate = pcm.SampleRate
	outcome.SourceChannels = pcm.Channels

	return outcome, nil
}

// NormalizeSamples trims, length-checks and peak-normalizes mono samples that are
// already at the target rate. The input slice is not modified.
func (p *Preprocessor) NormalizeSamples(samples []float32) *Outcome {
	span := p.detector.Trim(samples)

	trimmed := make([]float32, span.Len())
	copy(trimmed, samples[span.Start:span.End])

	outcome := &Outcome{
		Waveform:       Waveform{Samples: trimmed, SampleRate: p.sampleRate},
		TrimmedSamples: len(samples) - len(trimmed),
	}

	if len(trimmed) < p.minSamples {
		outcome.Status = StatusTooShort
		return outcome
	}

	outcome.Peak = PeakNormalize(trimmed)
	outcome.Status = StatusReady

	return outcome
}

// PeakNormalize scales samples in place so the largest magnitude becomes 1 and
// returns the original peak. A peak of exactly zero leaves the samples untouched.
func PeakNormalize(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if a := float32(math.Abs(float64(s))); a > peak {
			peak = a
		}
	}

	if peak > 0 {
		for i := range samples {
			samples[i] /= peak
		}
	}

	return peak
}

// MinSamples returns the minimum analysable clip length in samples
func (p *Preprocessor) MinSamples() int {
	return p.minSamples
}

// SampleRate returns the target sample rate
func (p *Preprocessor) SampleRate() int {
	return p.sampleRate
}

// DetectorStats exposes the silence detector statistics
func (p *Preprocessor) DetectorStats() vad.DetectorStats {
	return p.detector.GetStats()
}
