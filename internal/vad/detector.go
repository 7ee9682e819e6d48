package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// amin is the power floor applied before taking logarithms
const amin = 1e-10

// Detector finds the non-silent span of a clip using framewise RMS energy
type Detector struct {
	topDB       float64 // frames quieter than peak - topDB are silence
	frameLength int     // samples per analysis frame
	hopLength   int     // samples between frame centres

	// Statistics
	totalClips    uint64
	totalFrames   uint64
	silentFrames  uint64
	trimmedSample uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// Span is the half-open sample range [Start, End) that holds audible content
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of samples in the span
func (s Span) Len() int {
	return s.End - s.Start
}

// DetectorStats represents detector statistics
type DetectorStats struct {
	TopDB             float64   `json:"top_db"`
	TotalClips        uint64    `json:"total_clips"`
	TotalFrames       uint64    `json:"total_frames"`
	SilentFrames      uint64    `json:"silent_frames"`
	SilencePercentage float64   `json:"silence_percentage"`
	TrimmedSamples    uint64    `json:"trimmed_samples"`
	LastProcessed     time.Time `json:"last_processed"`
}

// NewDetector creates a detector. frameLength and hopLength are in samples.
func NewDetector(topDB float64, frameLength, hopLength int) (*Detector, error) {
	if topDB <= 0 {
		return nil, fmt.Errorf("top_db must be positive, got %f", topDB)
	}

	if frameLength <= 0 {
		return nil, fmt.Errorf("frame length must be positive, got %d", frameLength)
	}

	if hopLength <= 0 || hopLength > frameLength {
		return nil, fmt.Errorf("hop length must be between 1 and %d, got %d", frameLength, hopLength)
	}

	return &Detector{
		topDB:       topDB,
		frameLength: frameLength,
		hopLength:   hopLength,
	}, nil
}

// FrameCount returns the number of centred frames for a clip of n samples
func (d *Detector) FrameCount(n int) int {
	if n <= 0 {
		return 0
	}
	padded := n + 2*(d.frameLength/2)
	if padded < d.frameLength {
		return 0
	}
	return 1 + (padded-d.frameLength)/d.hopLength
}

// FramePower returns the mean squared amplitude of each centred frame.
// Frames are zero-padded at both ends of the clip.
func (d *Detector) FramePower(samples []float32) []float64 {
	n := len(samples)
	frames := d.FrameCount(n)
	if frames == 0 {
		return nil
	}

	// prefix[i] = sum of squares of samples[:i]
	prefix := make([]float64, n+1)
	for i, s := range samples {
		v := float64(s)
		prefix[i+1] = prefix[i] + v*v
	}

	half := d.frameLength / 2
	power := make([]float64, frames)
	for i := range power {
		lo := i*d.hopLength - half
		hi := lo + d.frameLength
		if lo < 0 {
			lo = 0
		}
		if hi > n {
			hi = n
		}
		if hi > lo {
			power[i] = (prefix[hi] - prefix[lo]) / float64(d.frameLength)
		}
	}

	return power
}

// FrameDB converts frame powers to decibels relative to the loudest frame
func FrameDB(power []float64) []float64 {
	ref := amin
	for _, p := range power {
		if p > ref {
			ref = p
		}
	}

	db := make([]float64, len(power))
	refDB := 10 * math.Log10(ref)
	for i, p := range power {
		db[i] = 10*math.Log10(math.Max(amin, p)) - refDB
	}

	return db
}

// NonSilent marks the frames louder than -topDB relative to the peak frame
func (d *Detector) NonSilent(samples []float32) []bool {
	db := FrameDB(d.FramePower(samples))

	d.mu.RLock()
	threshold := -d.topDB
	d.mu.RUnlock()

	flags := make([]bool, len(db))
	for i, v := range db {
		flags[i] = v > threshold
	}

	return flags
}

// Trim returns the span from the start of the first non-silent frame to the end
// of the last one. A clip with no energy at all is returned whole, since every
// frame sits at the (zero) reference level.
func (d *Detector) Trim(samples []float32) Span {
	n := len(samples)
	if n == 0 {
		return Span{}
	}

	flags := d.NonSilent(samples)

	first, last := -1, -1
	var silent uint64
	for i, voiced := range flags {
		if !voiced {
			silent++
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}

	span := Span{}
	if first >= 0 {
		span.Start = first * d.hopLength
		span.End = (last + 1) * d.hopLength
		if span.End > n {
			span.End = n
		}
		if span.Start > span.End {
			span.Start = span.End
		}
	}

	d.mu.Lock()
	d.totalClips++
	d.totalFrames += uint64(len(flags))
	d.silentFrames += silent
	d.trimmedSample += uint64(n - span.Len())
	d.lastProcessed = time.Now()
	d.mu.Unlock()

	return span
}

// GetStats returns current detector statistics
func (d *Detector) GetStats() DetectorStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	silencePercentage := float64(0)
	if d.totalFrames > 0 {
		silencePercentage = float64(d.silentFrames) / float64(d.totalFrames) * 100
	}

	return DetectorStats{
		TopDB:             d.topDB,
		TotalClips:        d.totalClips,
		TotalFrames:       d.totalFrames,
		SilentFrames:      d.silentFrames,
		SilencePercentage: silencePercentage,
		TrimmedSamples:    d.trimmedSample,
		LastProcessed:     d.lastProcessed,
	}
}

// UpdateThreshold updates the silence threshold in dB below peak
func (d *Detector) UpdateThreshold(topDB float64) error {
	if topDB <= 0 {
		return fmt.Errorf("top_db must be positive, got %f", topDB)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.topDB = topDB
	return nil
}

// Reset resets the detector statistics
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.totalClips = 0
	d.totalFrames = 0
	d.silentFrames = 0
	d.trimmedSample = 0
	d.lastProcessed = time.Time{}
}

// GetThreshold returns the current silence threshold in dB below peak
func (d *Detector) GetThreshold() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.topDB
}

// GetFrameLength returns the analysis frame length in samples
func (d *Detector) GetFrameLength() int {
	return d.frameLength
}

// GetHopLength returns the hop between frames in samples
func (d *Detector) GetHopLength() int {
	return d.hopLength
}
