// Package model defines the feature-extraction boundary of the detector.
// An Extractor turns a normalized waveform into the per-layer hidden-state
// stack of a pretrained speech model. Client implements Extractor against an
// inference sidecar over HTTP, sending the waveform as a WAV file in a
// multipart form and decoding JSON or MessagePack responses. Concurrent
// inference calls are bounded by a semaphore.
package model
