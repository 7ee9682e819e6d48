// Package decision thresholds a risk score into a binary verdict with a
// bounded confidence.
package decision

import (
	"fmt"
	"math"
)

// Policy holds the decision constants
type Policy struct {
	Threshold float64 // risk at or above this is AI
	AIFloor   float64 // minimum confidence reported for AI
	HumanCap  float64 // maximum confidence reported for HUMAN
	Precision int     // decimal digits kept in the confidence
}

// Result is the outcome of Classify
type Result struct {
	IsAI       bool
	Confidence float64
}

// DefaultPolicy returns the production constants
func DefaultPolicy() Policy {
	return Policy{
		Threshold: 0.66,
		AIFloor:   0.75,
		HumanCap:  0.35,
		Precision: 2,
	}
}

// Validate checks the policy constants
func (p Policy) Validate() error {
	if p.Threshold < 0 || p.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", p.Threshold)
	}
	if p.AIFloor < 0 || p.AIFloor > 1 {
		return fmt.Errorf("ai floor must be between 0 and 1, got %f", p.AIFloor)
	}
	if p.HumanCap < 0 || p.HumanCap > 1 {
		return fmt.Errorf("human cap must be between 0 and 1, got %f", p.HumanCap)
	}
	if p.Precision < 0 || p.Precision > 6 {
		return fmt.Errorf("precision must be between 0 and 6, got %d", p.Precision)
	}
	return nil
}

// Classify maps a risk score to a verdict. AI confidence is floored at
// AIFloor and HUMAN confidence is capped at HumanCap.
func (p Policy) Classify(risk float64) Result {
	if risk >= p.Threshold {
		return Result{IsAI: true, Confidence: p.round(math.Max(risk, p.AIFloor))}
	}
	return Result{IsAI: false, Confidence: p.round(math.Min(risk, p.HumanCap))}
}

func (p Policy) round(v float64) float64 {
	scale := math.Pow(10, float64(p.Precision))
	return math.Round(v*scale) / scale
}
