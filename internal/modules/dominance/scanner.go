package dominance

import (
	"math"

	"github.com/rs/zerolog"
)

// DefaultGridStep is the spacing of the threshold grid.
const DefaultGridStep = 0.001

// MaxGridPoints bounds the number of thresholds one scan evaluates.
const MaxGridPoints = 100_000

// Violation is the outcome of one scan.
type Violation struct {
	Violated  bool    `json:"violated"`
	Threshold float64 `json:"threshold"`
	Value     float64 `json:"value"`
}

// Scanner looks for the threshold at which a portfolio most violates the
// dominance constraint. It checks a finite grid spanning the benchmark
// support, so a violation between grid points can go unnoticed.
type Scanner struct {
	c    *Constraints
	grid []float64
	log  zerolog.Logger
}

// NewScanner builds a scanner over [min ξ⁰, max ξ⁰] with the given step.
// A non-positive step falls back to DefaultGridStep.
func NewScanner(c *Constraints, step float64, log zerolog.Logger) *Scanner {
	lo, hi := c.m.benchmarkRange()
	return &Scanner{
		c:    c,
		grid: Grid(lo, hi, step),
		log:  log.With().Str("component", "violation_scanner").Logger(),
	}
}

// Grid returns lo, lo+step, ... up to and including hi. A range that would
// need more than MaxGridPoints points is covered with a coarser step.
func Grid(lo, hi, step float64) []float64 {
	if !(step > 0) {
		step = DefaultGridStep
	}
	if hi <= lo {
		return []float64{lo}
	}
	if !(GridPoints(lo, hi, step) <= MaxGridPoints) {
		step = (hi - lo) / (MaxGridPoints - 1)
		if math.IsInf(step, 0) || step == 0 {
			return []float64{lo, hi}
		}
	}
	n := int(math.Floor((hi-lo)/step+1e-9)) + 1
	if n > MaxGridPoints {
		n = MaxGridPoints
	}
	grid := make([]float64, n, n+1)
	for i := range grid {
		grid[i] = lo + float64(i)*step
	}
	if hi-grid[n-1] > step*1e-6 {
		grid = append(grid, hi)
	}
	return grid
}

// GridPoints returns how many points Grid(lo, hi, step) needs at the given
// step, not counting an appended upper bound. It is +Inf when the range
// overflows.
func GridPoints(lo, hi, step float64) float64 {
	if !(step > 0) {
		step = DefaultGridStep
	}
	if hi <= lo {
		return 1
	}
	return math.Floor((hi-lo)/step+1e-9) + 1
}

// Points returns a copy of the scanned thresholds.
func (s *Scanner) Points() []float64 {
	return append([]float64(nil), s.grid...)
}

// Scan evaluates g_p on the grid for weights x.
func (s *Scanner) Scan(x []float64) Violation {
	returns := s.c.m.portfolioReturns(x)
	p := s.c.m.order
	values := make([]float64, len(s.grid))
	for i, t := range s.grid {
		values[i] = s.c.g(p, t, returns)
	}

	v := worstViolation(s.grid, values)
	if v.Violated {
		s.log.Debug().
			Float64("threshold", v.Threshold).
			Float64("value", v.Value).
			Msg("Dominance violated")
	}
	return v
}

// worstViolation picks the first grid point with the largest value and
// reports it as violated when that value is strictly positive.
func worstViolation(grid, values []float64) Violation {
	best := -1
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if best < 0 || v > values[best] {
			best = i
		}
	}
	if best < 0 || values[best] <= 0 {
		return Violation{}
	}
	return Violation{Violated: true, Threshold: grid[best], Value: values[best]}
}
