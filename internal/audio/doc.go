// Package audio turns submitted recordings into analysis-ready waveforms.
// It sniffs the container, decodes MP3/WAV into mono float samples, resamples to the
// target rate, trims silence, rejects clips that are too short and peak-normalizes the rest.
package audio
