package dominance

import (
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/dual"
)

// System is the first-order optimality system of the dominance-constrained
// problem for a fixed set of active thresholds τ₁..τ_k.
//
// The residual, in order:
//
//	∇f(x) - λ·1 + ν⊙1[x<0] + μ·Dg        d entries
//	1 - Σx                               budget
//	μ·∂ₜg_p(t, x)                         threshold stationarity
//	∂f/∂q                                risk objective only
//	x⊙1[x<0]                             d entries
//	g_p(t, x), g_{p-1}(t, x)
//	max(g_p(τᵢ, x), 0)                   one per active threshold
//
// where f is RiskFunction.Loss and Dg = ∇ₓg_p + ∂ₜg_p·∂t/∂x.
type System struct {
	m        *model
	layout   Layout
	active   []float64
	parallel bool
}

// NewSystem validates the problem and builds its system for the given active
// thresholds. The thresholds are copied.
func NewSystem(p Problem, active []float64) (*System, error) {
	m, err := newModel(p)
	if err != nil {
		return nil, err
	}
	return newSystem(m, active, false), nil
}

func newSystem(m *model, active []float64, parallel bool) *System {
	return &System{
		m:        m,
		layout:   NewLayout(m.assets, m.objective),
		active:   append([]float64(nil), active...),
		parallel: parallel,
	}
}

// Layout returns the decision vector layout.
func (s *System) Layout() Layout {
	return s.layout
}

// Active returns a copy of the active thresholds.
func (s *System) Active() []float64 {
	return append([]float64(nil), s.active...)
}

// BaseLen is the residual length without active threshold rows.
func (s *System) BaseLen() int {
	n := 2*s.m.assets + 4
	if s.layout.Risk {
		n++
	}
	return n
}

// ResidualLen is BaseLen plus one row per active threshold.
func (s *System) ResidualLen() int {
	return s.BaseLen() + len(s.active)
}

// Residual evaluates the system at z.
func (s *System) Residual(z []float64) []float64 {
	zd := make([]dual.Number, len(z))
	for i, v := range z {
		zd[i] = dualConst(v)
	}
	rd := s.residual(zd)
	out := make([]float64, len(rd))
	for i, v := range rd {
		out[i] = v.Real
	}
	return out
}

// Jacobian evaluates ∂Residual/∂z by forward-mode differentiation, one seeded
// pass per column.
func (s *System) Jacobian(z []float64) *mat.Dense {
	jac := mat.NewDense(s.ResidualLen(), len(z), nil)
	column := func(col int) {
		zd := make([]dual.Number, len(z))
		for i, v := range z {
			zd[i] = dualConst(v)
		}
		zd[col].Emag = 1
		for row, v := range s.residual(zd) {
			jac.Set(row, col, v.Emag)
		}
	}

	if !s.parallel {
		for col := range z {
			column(col)
		}
		return jac
	}

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for col := range z {
		g.Go(func() error {
			column(col)
			return nil
		})
	}
	_ = g.Wait()
	return jac
}

func (s *System) residual(z []dual.Number) []dual.Number {
	l, d, p := s.layout, s.m.assets, s.m.order

	x := z[:d]
	lambda, mu := z[l.lambda()], z[l.mu()]
	nu := z[l.nu() : l.nu()+d]
	t := z[l.t()]
	var q dual.Number
	if l.Risk {
		q = z[l.q()]
	}

	returns := s.returns(x)
	gradF, gradQ := s.objectiveGradient(returns, q)
	dg := s.totalGradX(t, returns)

	out := make([]dual.Number, 0, s.ResidualLen())
	for i := 0; i < d; i++ {
		r := dual.Sub(gradF[i], lambda)
		if x[i].Real < 0 {
			r = dual.Add(r, nu[i])
		}
		out = append(out, dual.Add(r, dual.Mul(mu, dg[i])))
	}
	out = append(out, dual.Sub(dualConst(1), dualSum(x)))
	out = append(out, dual.Mul(mu, s.gradT(p, t, returns)))
	if l.Risk {
		out = append(out, gradQ)
	}
	for i := 0; i < d; i++ {
		if x[i].Real < 0 {
			out = append(out, x[i])
		} else {
			out = append(out, dual.Number{})
		}
	}
	out = append(out, s.g(p, t, returns), s.g(p-1, t, returns))
	for _, tau := range s.active {
		out = append(out, dualPositive(s.g(p, dualConst(tau), returns)))
	}
	return out
}

// returns computes xᵗξ_j for every scenario.
func (s *System) returns(x []dual.Number) []dual.Number {
	out := make([]dual.Number, s.m.scenarios)
	for j := range out {
		for i, xi := range x {
			out[j] = dual.Add(out[j], dual.Scale(s.m.xi.At(i, j), xi))
		}
	}
	return out
}

func (s *System) g(order float64, t dual.Number, returns []dual.Number) dual.Number {
	var portfolio, benchmark dual.Number
	for j, r := range returns {
		term := dualSafePow(dualPositive(dual.Sub(t, r)), order)
		portfolio = dual.Add(portfolio, dual.Scale(s.m.pi[j], term))
	}
	for k, r := range s.m.bench {
		term := dualSafePow(dualPositive(dual.Sub(t, dualConst(r))), order)
		benchmark = dual.Add(benchmark, dual.Scale(s.m.pi0[k], term))
	}
	return dual.Sub(portfolio, benchmark)
}

func (s *System) gradX(order float64, t dual.Number, returns []dual.Number) []dual.Number {
	grad := make([]dual.Number, s.m.assets)
	for j, r := range returns {
		w := dual.Scale(-order*s.m.pi[j], dualSafePow(dualPositive(dual.Sub(t, r)), order-1))
		if w.Real == 0 && w.Emag == 0 {
			continue
		}
		for i := range grad {
			grad[i] = dual.Add(grad[i], dual.Scale(s.m.xi.At(i, j), w))
		}
	}
	return grad
}

func (s *System) gradT(order float64, t dual.Number, returns []dual.Number) dual.Number {
	return dual.Scale(order, s.g(order-1, t, returns))
}

func (s *System) totalGradX(t dual.Number, returns []dual.Number) []dual.Number {
	p := s.m.order
	grad := s.gradX(p, t, returns)
	gt := s.gradT(p, t, returns)

	den := s.gradT(p-1, t, returns)
	if den.Real == 0 || !dualFinite(den) {
		return grad
	}
	inv := dual.Inv(den)
	num := s.gradX(p-1, t, returns)
	for i := range grad {
		sens := dual.Scale(-1, dual.Mul(num[i], inv))
		if !dualFinite(sens) {
			continue
		}
		grad[i] = dual.Add(grad[i], dual.Mul(gt, sens))
	}
	return grad
}

// objectiveGradient returns ∇ₓf and ∂f/∂q for f = RiskFunction.Loss.
func (s *System) objectiveGradient(returns []dual.Number, q dual.Number) ([]dual.Number, dual.Number) {
	d := s.m.assets
	grad := make([]dual.Number, d)

	if s.m.objective == ObjectiveExpectedReturn {
		for i := range grad {
			var v float64
			for j := 0; j < s.m.scenarios; j++ {
				v -= s.m.pi[j] * s.m.xi.At(i, j)
			}
			grad[i] = dualConst(v)
		}
		return grad, dual.Number{}
	}

	p := s.m.order
	losses := make([]dual.Number, len(returns))
	var shortfall dual.Number
	for j, r := range returns {
		losses[j] = dualPositive(dual.Sub(dual.Scale(-1, r), q))
		shortfall = dual.Add(shortfall, dual.Scale(s.m.pi[j], dualSafePow(losses[j], p)))
	}
	if shortfall.Real == 0 {
		return grad, dualConst(1)
	}
	c := dual.Scale(1/(1-s.m.beta), dualSafePow(shortfall, 1/p-1))

	var tail dual.Number
	for j, loss := range losses {
		w := dual.Scale(s.m.pi[j], dualSafePow(loss, p-1))
		tail = dual.Add(tail, w)
		for i := range grad {
			grad[i] = dual.Sub(grad[i], dual.Mul(c, dual.Scale(s.m.xi.At(i, j), w)))
		}
	}
	return grad, dual.Sub(dualConst(1), dual.Mul(c, tail))
}
