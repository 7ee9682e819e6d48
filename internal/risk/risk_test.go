package risk

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eincosmos/sirenvoice/internal/model"
)

// pairFrame returns a two-channel frame {0, a} whose unbiased variance is a*a/2
func pairFrame(variance float64) []float32 {
	return []float32{0, float32(math.Sqrt(2 * variance))}
}

// stackWithLayer places layer at index and fills the rest with noise
func stackWithLayer(index int, layer [][]float32) model.HiddenStates {
	stack := make(model.HiddenStates, index+1)
	for i := range stack {
		stack[i] = [][]float32{{1, 2, 3}, {4, 5, 6}}
	}
	stack[index] = layer
	return stack
}

func TestNew(t *testing.T) {
	s, err := New(NameLengthNormalized, 6, 0.015, 0.010)
	require.NoError(t, err)
	assert.Equal(t, NameLengthNormalized, s.Name())

	s, err = New(NameBatchZScore, 12, 0.02, 0)
	require.NoError(t, err)
	assert.Equal(t, NameBatchZScore, s.Name())

	_, err = New("median", 6, 0, 1)
	assert.Error(t, err)

	_, err = New(NameLengthNormalized, -1, 0.015, 0.010)
	assert.Error(t, err)

	_, err = New(NameLengthNormalized, 6, 0.015, 0)
	assert.Error(t, err)
}

func TestLengthNormalizedCalibration(t *testing.T) {
	// Three timesteps; mean variance / log(4) = 0.025 gives z = 1
	v := 0.025 * math.Log(4)
	layer := [][]float32{pairFrame(v), pairFrame(v), pairFrame(v)}

	score := DefaultLengthNormalized().Compute(stackWithLayer(6, layer))
	assert.Equal(t, 0.731, score)
}

func TestLengthNormalizedLowVariance(t *testing.T) {
	// value = 0.005 gives z = -1
	v := 0.005 * math.Log(3)
	layer := [][]float32{pairFrame(v), pairFrame(v)}

	score := DefaultLengthNormalized().Compute(stackWithLayer(6, layer))
	assert.Equal(t, 0.269, score)
}

func TestBatchZScoreCalibration(t *testing.T) {
	// variances 0.01 and 0.05: mean 0.03, std 0.04/sqrt(2), z = 0.3536
	layer := [][]float32{pairFrame(0.01), pairFrame(0.05)}

	score := DefaultBatchZScore().Compute(stackWithLayer(12, layer))
	assert.Equal(t, 0.587, score)
}

func TestStrategiesReadOnlyTheirLayer(t *testing.T) {
	v := 0.025 * math.Log(4)
	stack := stackWithLayer(12, [][]float32{pairFrame(0.01), pairFrame(0.05)})
	stack[6] = [][]float32{pairFrame(v), pairFrame(v), pairFrame(v)}

	assert.Equal(t, 0.731, DefaultLengthNormalized().Compute(stack))
	assert.Equal(t, 0.587, DefaultBatchZScore().Compute(stack))
}

func TestNeutralFallback(t *testing.T) {
	strategies := []Strategy{DefaultLengthNormalized(), DefaultBatchZScore()}

	nan := float32(math.NaN())
	inf := float32(math.Inf(1))

	tests := []struct {
		name  string
		stack func(layer int) model.HiddenStates
	}{
		{
			name:  "nil stack",
			stack: func(int) model.HiddenStates { return nil },
		},
		{
			name:  "layer out of range",
			stack: func(layer int) model.HiddenStates { return stackWithLayer(layer, nil)[:layer] },
		},
		{
			name:  "no timesteps",
			stack: func(layer int) model.HiddenStates { return stackWithLayer(layer, [][]float32{}) },
		},
		{
			name: "all zero",
			stack: func(layer int) model.HiddenStates {
				return stackWithLayer(layer, [][]float32{make([]float32, 768), make([]float32, 768)})
			},
		},
		{
			name: "single channel",
			stack: func(layer int) model.HiddenStates {
				return stackWithLayer(layer, [][]float32{{0.5}, {0.7}})
			},
		},
		{
			name: "nan activation",
			stack: func(layer int) model.HiddenStates {
				return stackWithLayer(layer, [][]float32{{0, nan}, {0, 1}})
			},
		},
		{
			name: "inf activation",
			stack: func(layer int) model.HiddenStates {
				return stackWithLayer(layer, [][]float32{{0, inf}, {0, 1}})
			},
		},
	}

	for _, s := range strategies {
		layer := 6
		if bz, ok := s.(*BatchZScore); ok {
			layer = bz.Layer
		}
		for _, tt := range tests {
			t.Run(s.Name()+"/"+tt.name, func(t *testing.T) {
				assert.Equal(t, Neutral, s.Compute(tt.stack(layer)))
			})
		}
	}
}

func TestBatchZScoreSingleTimestep(t *testing.T) {
	// The spread of a single variance is undefined
	score := DefaultBatchZScore().Compute(stackWithLayer(12, [][]float32{pairFrame(0.3)}))
	assert.Equal(t, Neutral, score)
}

func TestScoreAlwaysInRangeAndRounded(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	strategies := []Strategy{DefaultLengthNormalized(), DefaultBatchZScore()}

	for i := 0; i < 200; i++ {
		timesteps := 1 + rng.Intn(40)
		channels := 1 + rng.Intn(16)
		amplitude := math.Pow(10, rng.Float64()*6-3)

		stack := make(model.HiddenStates, 13)
		for l := range stack {
			stack[l] = make([][]float32, timesteps)
			for ts := range stack[l] {
				frame := make([]float32, channels)
				for c := range frame {
					frame[c] = float32(rng.NormFloat64() * amplitude)
				}
				stack[l][ts] = frame
			}
		}

		for _, s := range strategies {
			score := s.Compute(stack)
			require.False(t, math.IsNaN(score), "%s produced NaN", s.Name())
			require.GreaterOrEqual(t, score, 0.0)
			require.LessOrEqual(t, score, 1.0)
			assert.InDelta(t, Round(score, Precision), score, 1e-12)
		}
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	layer := [][]float32{pairFrame(0.02), pairFrame(0.04), pairFrame(0.03)}
	stack := stackWithLayer(12, layer)
	stack[6] = layer

	for _, s := range []Strategy{DefaultLengthNormalized(), DefaultBatchZScore()} {
		assert.Equal(t, s.Compute(stack), s.Compute(stack), s.Name())
	}
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, 0.5, Sigmoid(0))
	assert.Equal(t, 1.0, Sigmoid(math.Inf(1)))
	assert.Equal(t, 0.0, Sigmoid(math.Inf(-1)))

	assert.Equal(t, 0.0, Clip(-0.2))
	assert.Equal(t, 1.0, Clip(1.7))
	assert.Equal(t, 0.4, Clip(0.4))

	assert.Equal(t, 0.123, Round(0.12345, 3))
	assert.Equal(t, 0.66, Round(0.6649, 2))
	assert.Equal(t, Neutral, finalize(math.NaN()))
}
