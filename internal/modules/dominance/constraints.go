package dominance

import (
	"math"

	"github.com/aristath/hosd/pkg/formulas"
)

// Constraints evaluates the dominance constraint function
//
//	g_p(t, x) = Σ_j π_j (t - xᵗξ_j)₊^p - Σ_k π⁰_k (t - ξ⁰_k)₊^p
//
// and its derivatives. A positive g_p(t, x) means the portfolio x has a larger
// order-p shortfall below t than the benchmark, so the constraint is violated
// at t. Powers use formulas.SafePow, which makes (·)₊^0 the indicator of a
// strictly positive base and gives the kink the sub-gradient 0.
type Constraints struct {
	m *model
}

// NewConstraints validates the problem and builds its constraint functions.
func NewConstraints(p Problem) (*Constraints, error) {
	m, err := newModel(p)
	if err != nil {
		return nil, err
	}
	return &Constraints{m: m}, nil
}

// Order returns the dominance order p.
func (c *Constraints) Order() float64 {
	return c.m.order
}

// G evaluates g with an arbitrary non-negative exponent.
func (c *Constraints) G(order, t float64, x []float64) float64 {
	return c.g(order, t, c.m.portfolioReturns(x))
}

func (c *Constraints) g(order, t float64, returns []float64) float64 {
	var portfolio, benchmark float64
	for j, r := range returns {
		portfolio += c.m.pi[j] * formulas.SafePow(formulas.PositivePart(t-r), order)
	}
	for k, r := range c.m.bench {
		benchmark += c.m.pi0[k] * formulas.SafePow(formulas.PositivePart(t-r), order)
	}
	return portfolio - benchmark
}

// Gp evaluates g_p(t, x).
func (c *Constraints) Gp(t float64, x []float64) float64 {
	return c.G(c.m.order, t, x)
}

// GpMinus1 evaluates g_{p-1}(t, x).
func (c *Constraints) GpMinus1(t float64, x []float64) float64 {
	return c.G(c.m.order-1, t, x)
}

// GInd evaluates max(g_p(t, x), 0), which is zero exactly when the
// constraint holds at t.
func (c *Constraints) GInd(t float64, x []float64) float64 {
	return math.Max(c.Gp(t, x), 0)
}

// GradX returns ∇ₓ g_order(t, x) = -order·Σ_j π_j (t - xᵗξ_j)₊^(order-1) ξ_j.
func (c *Constraints) GradX(order, t float64, x []float64) []float64 {
	returns := c.m.portfolioReturns(x)
	grad := make([]float64, c.m.assets)
	for j, r := range returns {
		w := c.m.pi[j] * formulas.SafePow(formulas.PositivePart(t-r), order-1)
		if w == 0 {
			continue
		}
		for i := range grad {
			grad[i] -= order * w * c.m.xi.At(i, j)
		}
	}
	return grad
}

// GradT returns ∂ₜ g_order(t, x) = order·g_{order-1}(t, x).
func (c *Constraints) GradT(order, t float64, x []float64) float64 {
	return order * c.G(order-1, t, x)
}

// ThresholdSensitivity returns ∂t/∂x = -∇ₓg_{p-1} / ∂ₜg_{p-1}, the movement of
// the threshold that keeps g_{p-1} at its current level. A zero or non-finite
// denominator yields the zero vector.
func (c *Constraints) ThresholdSensitivity(t float64, x []float64) []float64 {
	order := c.m.order - 1
	sens := c.GradX(order, t, x)
	den := c.GradT(order, t, x)
	if den == 0 || math.IsNaN(den) || math.IsInf(den, 0) {
		return make([]float64, len(sens))
	}
	for i := range sens {
		sens[i] = -sens[i] / den
	}
	formulas.ZeroNonFinite(sens)
	return sens
}

// TotalGradX returns Dg = ∇ₓg_p + ∂ₜg_p·∂t/∂x, the gradient of g_p along the
// threshold path.
func (c *Constraints) TotalGradX(t float64, x []float64) []float64 {
	p := c.m.order
	grad := c.GradX(p, t, x)
	gt := c.GradT(p, t, x)
	sens := c.ThresholdSensitivity(t, x)
	for i := range grad {
		grad[i] += gt * sens[i]
	}
	return grad
}
