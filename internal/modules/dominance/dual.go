package dominance

import (
	"github.com/aristath/hosd/pkg/formulas"
	"gonum.org/v1/gonum/num/dual"
)

// Forward-mode helpers over gonum dual numbers. They mirror the float
// helpers in pkg/formulas so that the residual and its Jacobian come from a
// single assembly.

func dualConst(v float64) dual.Number {
	return dual.Number{Real: v}
}

// dualPositive is (a)₊ with derivative 0 at and below the kink.
func dualPositive(a dual.Number) dual.Number {
	if a.Real > 0 {
		return a
	}
	return dual.Number{}
}

// dualSafePow is formulas.SafePow lifted to dual numbers. A zero base has
// derivative 0 for every exponent, and a zero exponent yields a constant.
func dualSafePow(b dual.Number, e float64) dual.Number {
	out := dual.Number{Real: formulas.SafePow(b.Real, e)}
	if e == 0 || b.Real == 0 || b.Emag == 0 {
		return out
	}
	out.Emag = e * formulas.SafePow(b.Real, e-1) * b.Emag
	return out
}

func dualSum(values []dual.Number) dual.Number {
	var s dual.Number
	for _, v := range values {
		s = dual.Add(s, v)
	}
	return s
}

func dualFinite(v dual.Number) bool {
	return formulas.Finite([]float64{v.Real, v.Emag})
}
