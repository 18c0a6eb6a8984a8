// Package dominance selects portfolios whose return distribution dominates a
// benchmark in the higher-order stochastic sense.
//
// For a dominance order p >= 2 the constraint requires
//
//	E[(t - xᵗξ)₊^p] <= E[(t - ξ⁰)₊^p]  for every threshold t,
//
// which is enforced on a finite set of active thresholds. The Optimizer
// alternates between a damped Newton solve of the first-order optimality
// system for the current active set and a grid scan for the worst remaining
// violation, adding that threshold until none is left.
//
// Two objectives are supported: maximal expected return and minimal
// higher-moment shortfall risk.
package dominance
