package risk

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/eincosmos/sirenvoice/internal/model"
)

const (
	// Neutral is the score reported when no statistic can be computed
	Neutral = 0.5

	// Precision is the number of decimal digits kept in a score
	Precision = 3

	// NameLengthNormalized selects the LengthNormalized strategy
	NameLengthNormalized = "length_normalized"
	// NameBatchZScore selects the BatchZScore strategy
	NameBatchZScore = "batch_zscore"

	// zscoreEpsilon keeps the batch z-score finite for a constant batch
	zscoreEpsilon = 1e-9
)

// Strategy turns a hidden-state stack into a risk score in [0,1]
type Strategy interface {
	Name() string
	Compute(states model.HiddenStates) float64
}

// New builds a strategy by name. scale is ignored by BatchZScore.
func New(name string, layer int, center, scale float64) (Strategy, error) {
	switch name {
	case NameLengthNormalized:
		return NewLengthNormalized(layer, center, scale)
	case NameBatchZScore:
		return NewBatchZScore(layer, center)
	default:
		return nil, fmt.Errorf("unknown risk strategy %q", name)
	}
}

// LengthNormalized divides the mean per-timestep variance by log(T+1) and
// calibrates it with fixed constants
type LengthNormalized struct {
	Layer  int
	Center float64
	Scale  float64
}

// NewLengthNormalized creates the length-normalized strategy
func NewLengthNormalized(layer int, center, scale float64) (*LengthNormalized, error) {
	if layer < 0 {
		return nil, fmt.Errorf("layer cannot be negative, got %d", layer)
	}
	if scale <= 0 || math.IsNaN(scale) {
		return nil, fmt.Errorf("scale must be positive, got %f", scale)
	}
	return &LengthNormalized{Layer: layer, Center: center, Scale: scale}, nil
}

// DefaultLengthNormalized returns the production calibration
func DefaultLengthNormalized() *LengthNormalized {
	return &LengthNormalized{Layer: 6, Center: 0.015, Scale: 0.010}
}

// Name returns the strategy name
func (s *LengthNormalized) Name() string {
	return NameLengthNormalized
}

// Compute returns the risk score, or Neutral for degenerate input
func (s *LengthNormalized) Compute(states model.HiddenStates) float64 {
	variances, ok := timestepVariances(states, s.Layer)
	if !ok {
		return Neutral
	}

	value := stat.Mean(variances, nil) / math.Log(float64(len(variances))+1)
	return finalize((value - s.Center) / s.Scale)
}

// BatchZScore standardizes the mean per-timestep variance by the spread of
// the variances within the same clip
type BatchZScore struct {
	Layer  int
	Center float64
}

// NewBatchZScore creates the batch z-score strategy
func NewBatchZScore(layer int, center float64) (*BatchZScore, error) {
	if layer < 0 {
		return nil, fmt.Errorf("layer cannot be negative, got %d", layer)
	}
	return &BatchZScore{Layer: layer, Center: center}, nil
}

// DefaultBatchZScore returns the alternate calibration
func DefaultBatchZScore() *BatchZScore {
	return &BatchZScore{Layer: 12, Center: 0.02}
}

// Name returns the strategy name
func (s *BatchZScore) Name() string {
	return NameBatchZScore
}

// Compute returns the risk score, or Neutral for degenerate input
func (s *BatchZScore) Compute(states model.HiddenStates) float64 {
	variances, ok := timestepVariances(states, s.Layer)
	if !ok {
		return Neutral
	}

	mean, std := stat.MeanStdDev(variances, nil)
	return finalize((mean - s.Center) / (std + zscoreEpsilon))
}

// timestepVariances returns the unbiased variance across channels for every
// timestep of the selected layer. ok is false when the layer is missing,
// empty, non-finite or carries no variance at all.
func timestepVariances(states model.HiddenStates, index int) ([]float64, bool) {
	layer, ok := states.Layer(index)
	if !ok || len(layer) == 0 {
		return nil, false
	}

	variances := make([]float64, len(layer))
	row := make([]float64, 0)
	allZero := true

	for t, frame := range layer {
		if len(frame) < 2 {
			return nil, false
		}

		row = row[:0]
		for _, v := range frame {
			row = append(row, float64(v))
		}

		variance := stat.Variance(row, nil)
		if math.IsNaN(variance) || math.IsInf(variance, 0) {
			return nil, false
		}
		if variance != 0 {
			allZero = false
		}
		variances[t] = variance
	}

	if allZero {
		return nil, false
	}

	return variances, true
}

// finalize maps z through the logistic function, clips and rounds it
func finalize(z float64) float64 {
	if math.IsNaN(z) {
		return Neutral
	}

	score := Clip(Sigmoid(z))
	if math.IsNaN(score) {
		return Neutral
	}

	return Round(score, Precision)
}

// Sigmoid is the logistic function 1/(1+e^-z)
func Sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// Clip bounds v to [0,1]
func Clip(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Round rounds v to the given number of decimal digits
func Round(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}
