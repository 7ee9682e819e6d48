package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/h2non/filetype"
	"github.com/hajimehoshi/go-mp3"
)

// Container formats recognised by Decode
const (
	FormatMP3 = "mp3"
	FormatWAV = "wav"
)

// ErrDecode matches every DecodeError with errors.Is
var ErrDecode = errors.New("audio decode failed")

// DecodeError reports bytes that are empty or not a parseable audio stream
type DecodeError struct {
	Format string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "audio decode failed"
	if e.Format != "" {
		msg += " (" + e.Format + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrDecode) true for any DecodeError
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// PCM is a decoded, downmixed signal at its source sample rate
type PCM struct {
	Samples    []float32 // mono, [-1, 1]
	SampleRate int
	Channels   int    // channel count of the source before downmix
	Format     string // container the samples came from
}

// Duration returns the signal length in seconds
func (p *PCM) Duration() float64 {
	if p.SampleRate <= 0 {
		return 0
	}
	return float64(len(p.Samples)) / float64(p.SampleRate)
}

// SniffFormat identifies the container of raw. It returns an empty string when
// the bytes are neither MP3 nor WAV.
func SniffFormat(raw []byte) string {
	kind, err := filetype.Match(raw)
	if err == nil {
		switch kind.Extension {
		case "mp3":
			return FormatMP3
		case "wav":
			return FormatWAV
		}
	}

	// Bare MPEG audio frame without an ID3 tag
	if len(raw) > 1 && raw[0] == 0xFF && raw[1]&0xE0 == 0xE0 {
		return FormatMP3
	}

	return ""
}

// Decode parses raw as MP3 or WAV and downmixes it to mono
func Decode(raw []byte) (*PCM, error) {
	if len(raw) == 0 {
		return nil, &DecodeError{Reason: "empty input"}
	}

	switch format := SniffFormat(raw); format {
	case FormatMP3:
		return decodeMP3(raw)
	case FormatWAV:
		return decodeWAV(raw)
	default:
		return nil, &DecodeError{Reason: "unrecognised container"}
	}
}

// decodeMP3 decodes an MP3 stream. go-mp3 always yields 16-bit little-endian stereo.
func decodeMP3(raw []byte) (*PCM, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{Format: FormatMP3, Reason: "invalid stream", Err: err}
	}

	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, &DecodeError{Format: FormatMP3, Reason: "failed to read frames", Err: err}
	}

	numFrames := len(data) / 4
	if numFrames == 0 {
		return nil, &DecodeError{Format: FormatMP3, Reason: "no audio frames"}
	}

	samples := make([]float32, numFrames)
	for i := 0; i < numFrames; i++ {
		j := i * 4
		l := int16(data[j]) | int16(data[j+1])<<8
		r := int16(data[j+2]) | int16(data[j+3])<<8
		samples[i] = float32((float64(l) + float64(r)) / 2 / 32768.0)
	}

	return &PCM{
		Samples:    samples,
		SampleRate: dec.SampleRate(),
		Channels:   2,
		Format:     FormatMP3,
	}, nil
}

// decodeWAV decodes integer PCM WAV data of any channel count
func decodeWAV(raw []byte) (*PCM, error) {
	dec := wav.NewDecoder(bytes.NewReader(raw))
	if !dec.IsValidFile() {
		return nil, &DecodeError{Format: FormatWAV, Reason: "invalid file"}
	}

	// 1 = PCM, 0xFFFE = WAVE_FORMAT_EXTENSIBLE
	if dec.WavAudioFormat != 1 && dec.WavAudioFormat != 0xFFFE {
		return nil, &DecodeError{Format: FormatWAV, Reason: fmt.Sprintf("unsupported audio format %d", dec.WavAudioFormat)}
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, &DecodeError{Format: FormatWAV, Reason: "failed to read PCM buffer", Err: err}
	}

	if buf.Format == nil || buf.Format.NumChannels < 1 || buf.Format.SampleRate <= 0 {
		return nil, &DecodeError{Format: FormatWAV, Reason: "missing format information"}
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth == 0 {
		bitDepth = buf.SourceBitDepth
	}
	if bitDepth < 8 || bitDepth > 32 {
		return nil, &DecodeError{Format: FormatWAV, Reason: fmt.Sprintf("unsupported bit depth %d", bitDepth)}
	}

	samples := downmixInts(buf, bitDepth)
	if len(samples) == 0 {
		return nil, &DecodeError{Format: FormatWAV, Reason: "no audio data"}
	}

	return &PCM{
		Samples:    samples,
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
		Format:     FormatWAV,
	}, nil
}

// downmixInts averages interleaved integer channels into mono floats in [-1, 1]
func downmixInts(buf *goaudio.IntBuffer, bitDepth int) []float32 {
	channels := buf.Format.NumChannels
	numFrames := len(buf.Data) / channels

	full := float64(int64(1) << (bitDepth - 1))
	offset := 0.0
	if bitDepth == 8 {
		// 8-bit WAV samples are unsigned
		offset = 128
	}

	samples := make([]float32, numFrames)
	for i := 0; i < numFrames; i++ {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			sum += (float64(buf.Data[i*channels+ch]) - offset) / full
		}
		samples[i] = float32(sum / float64(channels))
	}

	return samples
}
