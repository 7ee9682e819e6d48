package audio

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writeStereoWAV writes a stereo 16-bit WAV with left=tone and right=silence
func writeStereoWAV(t *testing.T, sampleRate int, tone []float32) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "stereo.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create wav file: %v", err)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 2, 1)
	data := make([]int, 0, len(tone)*2)
	for _, s := range tone {
		data = append(data, int(s*32767), 0)
	}

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 2, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("Failed to write wav data: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Failed to close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Failed to close file: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read wav file: %v", err)
	}
	return raw
}

func TestSniffFormat(t *testing.T) {
	wavData, err := EncodeWAV([]float32{0.1, 0.2}, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{name: "wav", data: wavData, want: FormatWAV},
		{name: "id3 tagged mp3", data: append([]byte("ID3"), make([]byte, 64)...), want: FormatMP3},
		{name: "bare mpeg frame", data: []byte{0xFF, 0xFB, 0x90, 0x64, 0x00}, want: FormatMP3},
		{name: "text", data: []byte("definitely not audio"), want: ""},
		{name: "empty", data: nil, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SniffFormat(tt.data); got != tt.want {
				t.Errorf("SniffFormat() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty input", data: []byte{}},
		{name: "nil input", data: nil},
		{name: "unknown container", data: []byte("hello world, this is text")},
		{name: "truncated mp3", data: append([]byte("ID3"), make([]byte, 16)...)},
		{name: "truncated wav", data: []byte("RIFF\x24\x00\x00\x00WAVEfmt ")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pcm, err := Decode(tt.data)
			if err == nil {
				t.Fatalf("Expected decode error, got %d samples", len(pcm.Samples))
			}

			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Errorf("Expected *DecodeError, got %T", err)
			}
			if !errors.Is(err, ErrDecode) {
				t.Error("Expected errors.Is(err, ErrDecode)")
			}
		})
	}
}

// clipFrames is the number of MPEG-1 Layer III frames in testdata/clip.mp3
const clipFrames = 20

func readClip(t *testing.T) []byte {
	t.Helper()

	raw, err := os.ReadFile(filepath.Join("testdata", "clip.mp3"))
	if err != nil {
		t.Fatalf("Failed to read fixture: %v", err)
	}
	return raw
}

func TestDecodeMP3(t *testing.T) {
	raw := readClip(t)

	if got := SniffFormat(raw); got != FormatMP3 {
		t.Fatalf("Expected mp3, got %q", got)
	}

	pcm, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if pcm.Format != FormatMP3 || pcm.SampleRate != 44100 || pcm.Channels != 2 {
		t.Errorf("Expected 44100 Hz stereo mp3, got %s %d Hz %d ch", pcm.Format, pcm.SampleRate, pcm.Channels)
	}

	// 1152 samples per frame, one mono sample per stereo pair
	if want := clipFrames * 1152; len(pcm.Samples) != want {
		t.Errorf("Expected %d mono samples, got %d", want, len(pcm.Samples))
	}

	var peak float64
	for i, s := range pcm.Samples {
		a := math.Abs(float64(s))
		if a > 1 || math.IsNaN(a) {
			t.Fatalf("Sample %d out of range: %f", i, s)
		}
		peak = math.Max(peak, a)
	}
	if peak < 0.01 {
		t.Errorf("Expected audible content, peak %f", peak)
	}
}

func TestDecodeTruncatedMP3(t *testing.T) {
	raw := readClip(t)

	// Cut inside the first frame's side information
	_, err := Decode(raw[:16])
	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("Expected *DecodeError, got %v", err)
	}
	if decErr.Format != FormatMP3 {
		t.Errorf("Expected mp3 decode error, got %q", decErr.Format)
	}
}

func TestDecodeMonoWAV(t *testing.T) {
	tone := generateTone(16000, 0.5, 440, 0.5)
	wavData, err := EncodeWAV(tone, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	pcm, err := Decode(wavData)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if pcm.Format != FormatWAV {
		t.Errorf("Expected wav format, got %s", pcm.Format)
	}
	if pcm.SampleRate != 16000 {
		t.Errorf("Expected 16000 Hz, got %d", pcm.SampleRate)
	}
	if pcm.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", pcm.Channels)
	}
	if len(pcm.Samples) != len(tone) {
		t.Fatalf("Expected %d samples, got %d", len(tone), len(pcm.Samples))
	}
	for i := range tone {
		if math.Abs(float64(pcm.Samples[i]-tone[i])) > 1e-3 {
			t.Fatalf("Sample %d: expected %f, got %f", i, tone[i], pcm.Samples[i])
		}
	}
	if math.Abs(pcm.Duration()-0.5) > 1e-6 {
		t.Errorf("Expected 0.5s duration, got %f", pcm.Duration())
	}
}

func TestDecodeStereoWAVDownmix(t *testing.T) {
	tone := generateTone(8000, 0.25, 440, 0.8)
	raw := writeStereoWAV(t, 8000, tone)

	pcm, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if pcm.Channels != 2 {
		t.Errorf("Expected 2 source channels, got %d", pcm.Channels)
	}
	if len(pcm.Samples) != len(tone) {
		t.Fatalf("Expected %d frames, got %d", len(tone), len(pcm.Samples))
	}

	// Right channel is silent, so the mono mix is half the left channel
	for i := range tone {
		if math.Abs(float64(pcm.Samples[i]-tone[i]/2)) > 1e-3 {
			t.Fatalf("Frame %d: expected %f, got %f", i, tone[i]/2, pcm.Samples[i])
		}
	}
}

func TestResample(t *testing.T) {
	same := []float32{0.1, 0.2, 0.3}
	out, err := Resample(same, 16000, 16000)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	if len(out) != len(same) {
		t.Errorf("Expected passthrough, got %d samples", len(out))
	}

	tone := generateTone(8000, 1.0, 440, 0.5)
	if _, err := Resample(tone, 0, 16000); err == nil {
		t.Error("Expected error for zero source rate")
	}
}

func TestResampleKeepsDuration(t *testing.T) {
	tests := []struct {
		name     string
		srcRate  int
		duration float64
	}{
		{name: "8k up", srcRate: 8000, duration: 1.0},
		{name: "44.1k down", srcRate: 44100, duration: 1.0},
		{name: "48k down", srcRate: 48000, duration: 0.25},
		{name: "48k just above minimum", srcRate: 48000, duration: 0.26},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := generateTone(tt.srcRate, tt.duration, 440, 0.5)
			out, err := Resample(in, tt.srcRate, 16000)
			if err != nil {
				t.Fatalf("Resample failed: %v", err)
			}

			want := int(math.Ceil(float64(len(in)) * 16000 / float64(tt.srcRate)))
			if len(out) != want {
				t.Errorf("Expected %d samples, got %d", want, len(out))
			}
			if got := ResampledLength(len(in), tt.srcRate, 16000); got != want {
				t.Errorf("ResampledLength: expected %d, got %d", want, got)
			}

			// The tone must survive to the end of the clip
			var tailPeak float64
			for _, s := range out[len(out)-len(out)/10:] {
				tailPeak = math.Max(tailPeak, math.Abs(float64(s)))
			}
			if tailPeak < 0.25 {
				t.Errorf("Expected the tone in the last 10%% of the output, peak %f", tailPeak)
			}
		})
	}
}
