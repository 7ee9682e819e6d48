// Package vad provides energy-based voice activity detection for whole clips.
// Frames are scored by RMS energy in decibels relative to the loudest frame, and
// the detector reports the span between the first and last non-silent frame.
package vad
