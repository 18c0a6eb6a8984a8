package dominance

import (
	"github.com/aristath/hosd/pkg/formulas"
	"gonum.org/v1/gonum/floats"
)

// RiskFunction evaluates the objective of a problem.
//
// For ObjectiveExpectedReturn, Value is E_π[xᵗξ] and Loss is its negative.
// For ObjectiveShortfallRisk, Value and Loss are both
//
//	ρ(x, q) = q + (1/(1-β))·S^(1/p),  S = E_π[(-xᵗξ - q)₊^p].
//
// Gradients are those of Loss, the function the Lagrangian minimises.
type RiskFunction struct {
	m *model
}

// NewRiskFunction validates the problem and builds its objective.
func NewRiskFunction(p Problem) (*RiskFunction, error) {
	m, err := newModel(p)
	if err != nil {
		return nil, err
	}
	return &RiskFunction{m: m}, nil
}

// Value returns the reported objective at (x, q). q is ignored for the
// expected-return objective.
func (rf *RiskFunction) Value(x []float64, q float64) float64 {
	returns := rf.m.portfolioReturns(x)
	if rf.m.objective == ObjectiveExpectedReturn {
		return floats.Dot(rf.m.pi, returns)
	}
	s := rf.shortfall(returns, q, rf.m.order)
	return q + formulas.SafePow(s, 1/rf.m.order)/(1-rf.m.beta)
}

// Loss returns the minimised form of the objective.
func (rf *RiskFunction) Loss(x []float64, q float64) float64 {
	if rf.m.objective == ObjectiveExpectedReturn {
		return -rf.Value(x, q)
	}
	return rf.Value(x, q)
}

// GradX returns ∇ₓ Loss(x, q).
func (rf *RiskFunction) GradX(x []float64, q float64) []float64 {
	grad := make([]float64, rf.m.assets)
	if rf.m.objective == ObjectiveExpectedReturn {
		for i := range grad {
			for j := 0; j < rf.m.scenarios; j++ {
				grad[i] -= rf.m.pi[j] * rf.m.xi.At(i, j)
			}
		}
		return grad
	}

	returns := rf.m.portfolioReturns(x)
	c := rf.scale(returns, q)
	if c == 0 {
		return grad
	}
	p := rf.m.order
	for j, r := range returns {
		w := rf.m.pi[j] * formulas.SafePow(formulas.PositivePart(-r-q), p-1)
		for i := range grad {
			grad[i] -= c * w * rf.m.xi.At(i, j)
		}
	}
	return grad
}

// GradQ returns ∂Loss/∂q. It is zero for the expected-return objective.
func (rf *RiskFunction) GradQ(x []float64, q float64) float64 {
	if rf.m.objective == ObjectiveExpectedReturn {
		return 0
	}
	returns := rf.m.portfolioReturns(x)
	return 1 - rf.scale(returns, q)*rf.shortfall(returns, q, rf.m.order-1)
}

// scale returns (1/(1-β))·S^(1/p-1), taken as 0 when S is 0.
func (rf *RiskFunction) scale(returns []float64, q float64) float64 {
	s := rf.shortfall(returns, q, rf.m.order)
	if s == 0 {
		return 0
	}
	return formulas.SafePow(s, 1/rf.m.order-1) / (1 - rf.m.beta)
}

func (rf *RiskFunction) shortfall(returns []float64, q, order float64) float64 {
	var s float64
	for j, r := range returns {
		s += rf.m.pi[j] * formulas.SafePow(formulas.PositivePart(-r-q), order)
	}
	return s
}
