// Package newton implements a damped Newton root finder for vector-valued
// functions with a caller-supplied Jacobian.
//
// The step is the minimum-norm least-squares solution of J·d = F, so the
// Jacobian may be rectangular (more residuals than unknowns) or singular.
// A backtracking line search halves the step until the residual norm strictly
// decreases. When no step improves, the next round tries a small random
// direction drawn from a caller-seeded source, which keeps runs reproducible.
//
// Non-finite values never abort a solve: NaN and ±Inf entries in the residual,
// the Jacobian and the step are treated as 0.
package newton

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/aristath/hosd/pkg/formulas"
)

// Default solver settings.
const (
	DefaultMaxEvaluations    = 100
	DefaultTolerance         = 1e-8
	DefaultPerturbationScale = 1e-3

	// singular values below rankCondition·σ_max are dropped from the step
	rankCondition = 1e-12
)

// ErrEmptyInput is returned when Solve is called with an empty starting point.
var ErrEmptyInput = errors.New("newton: empty starting point")

// Func evaluates the residual vector F(x). Its length must not change between
// calls within one Solve.
type Func func(x []float64) []float64

// JacobianFunc evaluates ∂F/∂x at x as a len(F)×len(x) matrix.
type JacobianFunc func(x []float64) *mat.Dense

// Settings tunes a Solver.
type Settings struct {
	MaxEvaluations    int     // budget of Newton rounds
	Tolerance         float64 // residual norm accepted as a root
	PerturbationScale float64 // random step size relative to the previous step
}

func (s Settings) withDefaults() Settings {
	if s.MaxEvaluations <= 0 {
		s.MaxEvaluations = DefaultMaxEvaluations
	}
	if s.Tolerance <= 0 {
		s.Tolerance = DefaultTolerance
	}
	if s.PerturbationScale <= 0 {
		s.PerturbationScale = DefaultPerturbationScale
	}
	return s
}

// Result is the terminal state of one Solve call.
type Result struct {
	X                   []float64 // terminal point
	Norm                float64   // Euclidean norm of F(X)
	Iterations          int       // Newton rounds performed
	JacobianEvaluations int       // rounds that evaluated the Jacobian
	Converged           bool      // Norm <= Tolerance
	History             []float64 // accepted residual norms, starting with F(x0)
}

// Solver runs damped Newton iterations. A Solver owns its random source and is
// not safe for concurrent use; create one per goroutine.
type Solver struct {
	settings Settings
	normal   distuv.Normal
	log      zerolog.Logger
}

// NewSource returns a deterministic random source for the given seed.
func NewSource(seed uint64) rand.Source {
	return rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
}

// NewSolver creates a solver. A nil src is replaced by NewSource(1).
func NewSolver(settings Settings, src rand.Source, log zerolog.Logger) *Solver {
	if src == nil {
		src = NewSource(1)
	}
	return &Solver{
		settings: settings.withDefaults(),
		normal:   distuv.Normal{Mu: 0, Sigma: 1, Src: src},
		log:      log.With().Str("component", "newton").Logger(),
	}
}

// Settings returns the effective settings, defaults applied.
func (s *Solver) Settings() Settings {
	return s.settings
}

// Solve drives F towards a root starting from x0.
//
// It iterates while the previous round improved or the residual norm is above
// the tolerance, for at most MaxEvaluations rounds. Exhausting the budget is
// reported through Result.Converged, not as an error. Errors are returned only
// for invalid input and context cancellation.
func (s *Solver) Solve(ctx context.Context, f Func, jac JacobianFunc, x0 []float64) (*Result, error) {
	if len(x0) == 0 {
		return nil, ErrEmptyInput
	}

	x := append([]float64(nil), x0...)
	fx := evaluate(f, x)
	norm := floats.Norm(fx, 2)

	res := &Result{History: []float64{norm}}
	if len(fx) == 0 {
		res.X = x
		res.Converged = true
		return res, nil
	}

	var (
		dir      []float64
		prevNorm float64
		improved = true
		cand     = make([]float64, len(x))
	)

	for (improved || norm > s.settings.Tolerance) && res.Iterations < s.settings.MaxEvaluations {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("newton: %w", err)
		}
		res.Iterations++

		if improved {
			j := jac(x)
			res.JacobianEvaluations++
			var err error
			dir, err = s.newtonStep(j, fx, len(x))
			if err != nil {
				return nil, err
			}
		} else {
			dir = s.perturbation(x, prevNorm)
		}
		if n := floats.Norm(dir, 2); n > 0 {
			prevNorm = n
		}

		improved = false
		for alpha := 1.0; ; alpha /= 2 {
			floats.AddScaledTo(cand, x, -alpha, dir)
			if !formulas.Finite(cand) || floats.Equal(cand, x) {
				break
			}
			fc := evaluate(f, cand)
			if nc := floats.Norm(fc, 2); nc < norm {
				copy(x, cand)
				fx, norm = fc, nc
				improved = true
				res.History = append(res.History, norm)
				break
			}
		}

		s.log.Debug().
			Int("iteration", res.Iterations).
			Float64("norm", norm).
			Bool("improved", improved).
			Msg("Newton round")
	}

	res.X = x
	res.Norm = norm
	res.Converged = norm <= s.settings.Tolerance
	if !res.Converged {
		s.log.Warn().
			Int("iterations", res.Iterations).
			Float64("norm", norm).
			Float64("tolerance", s.settings.Tolerance).
			Msg("Newton solver did not converge")
	}
	return res, nil
}

// newtonStep solves J·d = F in the least-squares sense.
func (s *Solver) newtonStep(j *mat.Dense, fx []float64, n int) ([]float64, error) {
	dir := make([]float64, n)
	if j == nil {
		return dir, nil
	}
	r, c := j.Dims()
	if r != len(fx) || c != n {
		return nil, fmt.Errorf("newton: jacobian is %dx%d, want %dx%d", r, c, len(fx), n)
	}
	for i := 0; i < r; i++ {
		for k := 0; k < c; k++ {
			if v := j.At(i, k); math.IsNaN(v) || math.IsInf(v, 0) {
				j.Set(i, k, 0)
			}
		}
	}

	var svd mat.SVD
	if !svd.Factorize(j, mat.SVDThin) {
		s.log.Warn().Msg("SVD factorization failed, using zero step")
		return dir, nil
	}
	rank := svd.Rank(rankCondition)
	if rank == 0 {
		return dir, nil
	}

	var d mat.VecDense
	svd.SolveVecTo(&d, mat.NewVecDense(len(fx), fx), rank)
	for i := range dir {
		dir[i] = d.AtVec(i)
	}
	formulas.ZeroNonFinite(dir)
	return dir, nil
}

// perturbation draws a random direction whose norm is PerturbationScale times
// the previous step norm, or times 1+‖x‖ when no step has been taken yet.
func (s *Solver) perturbation(x []float64, prevNorm float64) []float64 {
	scale := prevNorm
	if scale == 0 {
		scale = 1 + floats.Norm(x, 2)
	}
	scale *= s.settings.PerturbationScale

	dir := make([]float64, len(x))
	for i := range dir {
		dir[i] = s.normal.Rand()
	}
	if n := floats.Norm(dir, 2); n > 0 {
		floats.Scale(scale/n, dir)
	}
	return dir
}

func evaluate(f Func, x []float64) []float64 {
	fx := append([]float64(nil), f(x)...)
	formulas.ZeroNonFinite(fx)
	return fx
}
