// Package formulas holds small numeric helpers shared by the optimizer packages.
package formulas

import "math"

// SafePow returns base^exp, except that 0^0 is defined as 0.
//
// The zero-at-zero convention lets (t - r)₊^0 act as the indicator of t > r,
// which is what the dominance gradients need when the order drops to zero.
func SafePow(base, exp float64) float64 {
	if base == 0 && exp == 0 {
		return 0
	}
	return math.Pow(base, exp)
}

// SafePowVec applies SafePow element-wise and stores the result in dst.
// dst may alias bases. It panics if the lengths differ.
func SafePowVec(dst, bases []float64, exp float64) []float64 {
	if len(dst) != len(bases) {
		panic("formulas: slice length mismatch")
	}
	for i, b := range bases {
		dst[i] = SafePow(b, exp)
	}
	return dst
}

// PositivePart returns max(v, 0).
func PositivePart(v float64) float64 {
	if v > 0 {
		return v
	}
	return 0
}

// Finite reports whether every element of s is neither NaN nor ±Inf.
func Finite(s []float64) bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// ZeroNonFinite replaces NaN and ±Inf entries of s with 0 in place and returns
// the number of entries it replaced.
func ZeroNonFinite(s []float64) int {
	n := 0
	for i, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			s[i] = 0
			n++
		}
	}
	return n
}
