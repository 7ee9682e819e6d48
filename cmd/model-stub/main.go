// Command model-stub is a deterministic stand-in for the hidden-state
// inference sidecar. It accepts the same multipart requests as the real
// sidecar and derives a fake layer stack from the uploaded waveform, which is
// enough to exercise the service end to end without model weights.
package main

import (
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/eincosmos/sirenvoice/internal/audio"
	"github.com/eincosmos/sirenvoice/internal/model"
)

// frameSize matches the 20 ms stride of wav2vec2-style encoders at 16 kHz
const frameSize = 320

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	layers := flag.Int("layers", 13, "Number of hidden-state layers to return")
	channels := flag.Int("channels", 32, "Channels per timestep")
	delay := flag.Duration("delay", 0, "Artificial processing delay")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/v1/hidden-states", func(w http.ResponseWriter, r *http.Request) {
		handleHiddenStates(w, r, logger, *layers, *channels, *delay)
	})

	logger.Info("Model stub starting",
		slog.String("address", *addr),
		slog.String("endpoint", "/v1/hidden-states"),
		slog.Int("layers", *layers),
		slog.Int("channels", *channels))

	if err := http.ListenAndServe(*addr, mux); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func handleHiddenStates(w http.ResponseWriter, r *http.Request, logger *slog.Logger, layers, channels int, delay time.Duration) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	wavData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	info, err := audio.GetWAVInfo(wavData)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	pcm, err := audio.Decode(wavData)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	requestID := r.FormValue("request_id")
	logger.Info("Hidden-state request received",
		slog.String("request_id", requestID),
		slog.String("filename", header.Filename),
		slog.Int("bytes", len(wavData)),
		slog.Int("sample_rate", int(info.SampleRate)),
		slog.Float64("duration", info.Duration),
		slog.Int("samples", len(pcm.Samples)),
		slog.String("layer", r.FormValue("layer")))

	if delay > 0 {
		time.Sleep(delay)
	}

	response := model.ExtractResponse{
		RequestID:    requestID,
		Model:        "model-stub",
		HiddenStates: fakeStates(pcm.Samples, layers, channels),
	}

	if strings.Contains(r.Header.Get("Accept"), "msgpack") {
		body, err := msgpack.Marshal(&response)
		if err != nil {
			http.Error(w, "Error encoding response", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/msgpack")
		_, _ = w.Write(body)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// fakeStates builds a [layer][timestep][channel] stack by sampling each frame
// at evenly spaced offsets. Deeper layers are scaled copies of the first.
func fakeStates(samples []float32, layers, channels int) model.HiddenStates {
	timesteps := len(samples) / frameSize
	stride := frameSize / channels
	if stride == 0 {
		stride = 1
	}

	stack := make(model.HiddenStates, layers)
	for l := range stack {
		gain := float32(0.1) / float32(l+1)
		stack[l] = make([][]float32, timesteps)
		for t := range stack[l] {
			frame := make([]float32, channels)
			base := t * frameSize
			for c := range frame {
				if i := base + c*stride; i < len(samples) {
					frame[c] = samples[i] * gain
				}
			}
			stack[l][t] = frame
		}
	}

	return stack
}
