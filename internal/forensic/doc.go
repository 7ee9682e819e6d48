// Package forensic runs the voice authenticity pipeline. An Auditor
// normalizes a recording, extracts hidden states from the feature model,
// reduces them to a risk score and thresholds the score into a Verdict with
// a canned explanation.
//
// Only malformed input is reported as an error (a *audio.DecodeError). Clips
// that are too short after trimming resolve to a low-confidence HUMAN verdict
// without calling the model, and model failures resolve to the neutral risk
// score. A panic inside the pipeline is recovered and reported as
// ErrAnalysisFailed.
package forensic
