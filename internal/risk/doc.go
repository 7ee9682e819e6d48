// Package risk reduces a hidden-state stack to a calibrated neural risk score
// in [0,1]. Two strategies are provided: LengthNormalized, the default, and
// BatchZScore. Both read a single layer, measure the per-timestep variance
// across channels and squash a z-like value through the logistic function.
// Any degenerate or non-finite input resolves to the neutral score 0.5.
package risk
