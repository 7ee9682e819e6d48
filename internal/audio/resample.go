package audio

import (
	"fmt"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resample converts mono samples from srcRate to dstRate. Samples are returned
// unchanged when the rates already match. The output always holds
// ceil(len(samples) * dstRate / srcRate) samples.
func Resample(samples []float32, srcRate, dstRate int) ([]float32, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("sample rates must be positive, got %d -> %d", srcRate, dstRate)
	}

	if srcRate == dstRate || len(samples) == 0 {
		return samples, nil
	}

	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	input := make([]float64, len(samples))
	for i, s := range samples {
		input[i] = float64(s)
	}

	output, err := rs.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}

	// Drain the samples still held by the filter stages
	tail, err := rs.Flush()
	if err != nil {
		return nil, fmt.Errorf("resample flush error: %w", err)
	}
	output = append(output, tail...)

	want := ResampledLength(len(samples), srcRate, dstRate)
	if len(output) > want {
		output = output[:want]
	}

	// Any shortfall left by the filter is padded with silence
	result := make([]float32, want)
	for i, s := range output {
		result[i] = float32(s)
	}

	return result, nil
}

// ResampledLength returns the number of samples n source samples occupy at dstRate
func ResampledLength(n, srcRate, dstRate int) int {
	if srcRate <= 0 || dstRate <= 0 {
		return 0
	}
	return int(math.Ceil(float64(n) * float64(dstRate) / float64(srcRate)))
}
