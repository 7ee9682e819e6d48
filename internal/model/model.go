package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/eincosmos/sirenvoice/internal/audio"
)

// ErrEmptyStack is returned when the model produced no hidden states
var ErrEmptyStack = errors.New("model returned an empty hidden-state stack")

// HiddenStates is the per-layer activation stack for a single clip,
// indexed as [layer][timestep][channel]
type HiddenStates [][][]float32

// Layers returns the number of layers in the stack
func (h HiddenStates) Layers() int {
	return len(h)
}

// Layer returns layer i, or false if it is out of range
func (h HiddenStates) Layer(i int) ([][]float32, bool) {
	if i < 0 || i >= len(h) {
		return nil, false
	}
	return h[i], true
}

// Empty reports whether the stack holds no layers or only empty layers
func (h HiddenStates) Empty() bool {
	for _, layer := range h {
		if len(layer) > 0 {
			return false
		}
	}
	return true
}

// DecodeMsgpack accepts float32, float64 and integer values and narrows them
// to float32. numpy-backed sidecars encode float64 by default.
func (h *HiddenStates) DecodeMsgpack(dec *msgpack.Decoder) error {
	layers, err := dec.DecodeArrayLen()
	if err != nil {
		return fmt.Errorf("failed to decode layer count: %w", err)
	}
	if layers < 0 {
		*h = nil
		return nil
	}

	stack := make(HiddenStates, layers)
	for l := range stack {
		steps, err := dec.DecodeArrayLen()
		if err != nil {
			return fmt.Errorf("failed to decode layer %d: %w", l, err)
		}
		if steps < 0 {
			continue
		}

		stack[l] = make([][]float32, steps)
		for t := range stack[l] {
			channels, err := dec.DecodeArrayLen()
			if err != nil {
				return fmt.Errorf("failed to decode layer %d timestep %d: %w", l, t, err)
			}
			if channels < 0 {
				continue
			}

			frame := make([]float32, channels)
			for c := range frame {
				v, err := dec.DecodeFloat64()
				if err != nil {
					return fmt.Errorf("failed to decode layer %d timestep %d channel %d: %w", l, t, c, err)
				}
				frame[c] = float32(v)
			}
			stack[l][t] = frame
		}
	}

	*h = stack
	return nil
}

// Extractor produces hidden states for a waveform. Implementations must be
// deterministic and safe for concurrent use.
type Extractor interface {
	Extract(ctx context.Context, waveform audio.Waveform) (HiddenStates, error)
}

// ExtractorFunc adapts a function to the Extractor interface
type ExtractorFunc func(ctx context.Context, waveform audio.Waveform) (HiddenStates, error)

// Extract calls f(ctx, waveform)
func (f ExtractorFunc) Extract(ctx context.Context, waveform audio.Waveform) (HiddenStates, error) {
	return f(ctx, waveform)
}
