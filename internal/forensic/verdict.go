package forensic

import (
	"errors"
	"time"
)

// Classification is the binary verdict label
type Classification string

const (
	Human       Classification = "HUMAN"
	AIGenerated Classification = "AI_GENERATED"
)

// Canned explanations attached to each classification
const (
	ExplanationAI    = "Unnatural pitch consistency and reduced micro-variations indicate characteristics commonly found in AI-generated speech."
	ExplanationHuman = "Natural biomechanical irregularities and temporal variations are consistent with human speech production."
)

// Path records how a verdict was reached
type Path string

const (
	// PathModel means the risk score came from the feature model
	PathModel Path = "model"
	// PathFallback means the model failed and the neutral score was used
	PathFallback Path = "fallback"
	// PathDegenerate means the clip was too short and the model was skipped
	PathDegenerate Path = "degenerate"
)

// ErrAnalysisFailed is returned when the pipeline panics
var ErrAnalysisFailed = errors.New("analysis failed")

// Verdict is the result of analysing one recording
type Verdict struct {
	Classification  Classification `json:"classification"`
	ConfidenceScore float64        `json:"confidenceScore"`
	Explanation     string         `json:"explanation"`

	Details Details `json:"-"`
}

// Details carries diagnostic information that is logged but not returned to clients
type Details struct {
	Path           Path
	RiskScore      float64
	Strategy       string
	SourceFormat   string
	SourceRate     int
	SourceChannels int
	Duration       float64 // normalized clip length in seconds
	TrimmedSamples int
	Elapsed        time.Duration
}

// IsAI reports whether the verdict is AI_GENERATED
func (v *Verdict) IsAI() bool {
	return v.Classification == AIGenerated
}

// ExplanationFor returns the canned explanation for a classification
func ExplanationFor(c Classification) string {
	if c == AIGenerated {
		return ExplanationAI
	}
	return ExplanationHuman
}
