package dominance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/hosd/pkg/newton"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// Settings tunes an Optimizer. Zero values fall back to the package and
// newton defaults.
type Settings struct {
	MaxEvaluations       int
	Tolerance            float64
	PerturbationScale    float64
	GridStep             float64
	MaxRounds            int
	Seed                 uint64
	FailOnNonConvergence bool
	ParallelJacobian     bool
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		MaxEvaluations:    newton.DefaultMaxEvaluations,
		Tolerance:         newton.DefaultTolerance,
		PerturbationScale: newton.DefaultPerturbationScale,
		GridStep:          DefaultGridStep,
		MaxRounds:         DefaultMaxRounds,
		Seed:              1,
	}
}

// Result is the outcome of one optimisation.
type Result struct {
	// Weights are the solution weights clipped at zero and renormalised to
	// sum to one. They are equal weights when no weight is positive.
	Weights []float64 `json:"weights" msgpack:"weights"`
	// Solution is the raw terminal decision vector.
	Solution Components `json:"solution" msgpack:"solution"`
	// Objective is RiskFunction.Value at Weights.
	Objective        float64       `json:"objective" msgpack:"objective"`
	ActiveThresholds []float64     `json:"active_thresholds" msgpack:"active_thresholds"`
	Rounds           int           `json:"rounds" msgpack:"rounds"`
	Converged        bool          `json:"converged" msgpack:"converged"`
	NewtonConverged  bool          `json:"newton_converged" msgpack:"newton_converged"`
	ResidualNorm     float64       `json:"residual_norm" msgpack:"residual_norm"`
	Evaluations      int           `json:"evaluations" msgpack:"evaluations"`
	Duration         time.Duration `json:"duration" msgpack:"duration"`
}

// Optimizer solves dominance-constrained portfolio problems with the
// cutting-plane loop. It holds no per-run state and is safe for concurrent
// use; every run gets its own Newton solver seeded from Settings.Seed.
type Optimizer struct {
	settings Settings
	observer Observer
	log      zerolog.Logger
}

// NewOptimizer creates an optimizer.
func NewOptimizer(settings Settings, log zerolog.Logger) *Optimizer {
	return &Optimizer{
		settings: settings,
		log:      log.With().Str("component", "dominance_optimizer").Logger(),
	}
}

// WithObserver returns a copy of o that reports every round to obs.
func (o *Optimizer) WithObserver(obs Observer) *Optimizer {
	cp := *o
	cp.observer = obs
	return &cp
}

// Settings returns the optimizer settings.
func (o *Optimizer) Settings() Settings {
	return o.settings
}

// DefaultInitialGuess returns equal weights, zero multipliers, q = 0 and the
// threshold at the smallest benchmark outcome. The problem is normalised but
// not validated.
//
// At this point the dominance rows and their Jacobian columns are often zero,
// and Newton can stop without moving the weights; Result.NewtonConverged is
// then false. Pass an explicit guess, such as a slightly infeasible vertex,
// when the solution is expected at the boundary of the simplex.
func DefaultInitialGuess(p Problem) Components {
	p = p.Normalize()
	d := p.Assets()
	c := Components{
		Weights: make([]float64, d),
		Nu:      make([]float64, d),
	}
	for i := range c.Weights {
		c.Weights[i] = 1 / float64(d)
	}
	if len(p.Benchmark) > 0 {
		c.T = floats.Min(p.Benchmark)
	}
	return c
}

// Optimize solves p starting from initial, or from DefaultInitialGuess when
// initial is nil.
//
// When the loop hits Settings.MaxRounds the best-effort Result is returned
// together with ErrNotStabilized. With Settings.FailOnNonConvergence a Newton
// solve that exhausts its budget returns the partial Result together with
// ErrNewtonNotConverged. Invalid input returns ErrInvalidProblem and a nil
// Result.
func (o *Optimizer) Optimize(ctx context.Context, p Problem, initial *Components) (*Result, error) {
	m, err := o.model(p)
	if err != nil {
		return nil, err
	}
	return o.optimize(ctx, m, p, initial, o.scanner(m))
}

// Validate normalises and validates p, and checks that its benchmark range
// can be scanned at the configured grid step.
func (o *Optimizer) Validate(p Problem) error {
	_, err := o.model(p)
	return err
}

func (o *Optimizer) model(p Problem) (*model, error) {
	m, err := newModel(p)
	if err != nil {
		return nil, err
	}
	lo, hi := m.benchmarkRange()
	if n := GridPoints(lo, hi, o.settings.GridStep); !(n <= MaxGridPoints) {
		return nil, fmt.Errorf("%w: benchmark range [%g, %g] needs %g grid points at step %g, limit %d",
			ErrInvalidProblem, lo, hi, n, o.gridStep(), MaxGridPoints)
	}
	return m, nil
}

func (o *Optimizer) gridStep() float64 {
	if !(o.settings.GridStep > 0) {
		return DefaultGridStep
	}
	return o.settings.GridStep
}

func (o *Optimizer) scanner(m *model) violationScanner {
	return NewScanner(&Constraints{m: m}, o.settings.GridStep, o.log)
}

func (o *Optimizer) optimize(ctx context.Context, m *model, p Problem, initial *Components, scanner violationScanner) (*Result, error) {
	start := time.Now()

	guess := DefaultInitialGuess(p)
	if initial != nil {
		guess = *initial
	}
	layout := NewLayout(m.assets, m.objective)
	z0, err := layout.Pack(guess)
	if err != nil {
		return nil, fmt.Errorf("initial guess: %w", err)
	}
	if !allFinite(z0) {
		return nil, fmt.Errorf("%w: initial guess has non-finite values", ErrInvalidProblem)
	}

	solver := newton.NewSolver(newton.Settings{
		MaxEvaluations:    o.settings.MaxEvaluations,
		Tolerance:         o.settings.Tolerance,
		PerturbationScale: o.settings.PerturbationScale,
	}, newton.NewSource(o.settings.Seed), o.log)

	loop := &cuttingPlane{
		m:                    m,
		solver:               solver,
		scanner:              scanner,
		maxRounds:            o.settings.MaxRounds,
		parallelJacobian:     o.settings.ParallelJacobian,
		failOnNonConvergence: o.settings.FailOnNonConvergence,
		observer:             o.observer,
		log:                  o.log,
	}

	out, loopErr := loop.run(ctx, z0)
	if loopErr != nil && !errors.Is(loopErr, ErrNotStabilized) && !errors.Is(loopErr, ErrNewtonNotConverged) {
		return nil, loopErr
	}

	sol := layout.Unpack(out.z)
	weights := ProjectWeights(sol.Weights)
	rf := &RiskFunction{m: m}

	res := &Result{
		Weights:          weights,
		Solution:         sol,
		Objective:        rf.Value(weights, sol.Q),
		ActiveThresholds: append([]float64{}, out.active...),
		Rounds:           out.rounds,
		Converged:        out.state == StateConverged,
		NewtonConverged:  out.newtonConverged,
		ResidualNorm:     out.norm,
		Evaluations:      out.evaluations,
		Duration:         time.Since(start),
	}

	o.log.Info().
		Str("objective", string(m.objective)).
		Int("assets", m.assets).
		Int("rounds", res.Rounds).
		Int("active_thresholds", len(res.ActiveThresholds)).
		Bool("converged", res.Converged).
		Float64("residual_norm", res.ResidualNorm).
		Dur("duration", res.Duration).
		Msg("Dominance optimisation finished")

	return res, loopErr
}

// ProjectWeights clips negative weights to zero and renormalises the rest to
// sum to one. Equal weights are returned when no weight is positive.
func ProjectWeights(w []float64) []float64 {
	out := make([]float64, len(w))
	var sum float64
	for i, v := range w {
		if v > 0 {
			out[i] = v
			sum += v
		}
	}
	if sum <= 0 || !allFinite(out) {
		for i := range out {
			out[i] = 1 / float64(len(out))
		}
		return out
	}
	floats.Scale(1/sum, out)
	return out
}

// BatchOutcome pairs a batch problem with its result or error.
type BatchOutcome struct {
	Result *Result
	Err    error
}

// OptimizeBatch solves independent problems concurrently, at most concurrency
// at a time (1 when concurrency <= 0). Every problem starts from
// DefaultInitialGuess. A failing problem does not stop the others; only
// cancellation of ctx is returned as an error.
func (o *Optimizer) OptimizeBatch(ctx context.Context, problems []Problem, concurrency int) ([]BatchOutcome, error) {
	return o.OptimizeBatchFrom(ctx, problems, nil, concurrency)
}

// OptimizeBatchFrom is OptimizeBatch with per-problem initial guesses.
// initial is either empty or as long as problems; nil entries use
// DefaultInitialGuess.
func (o *Optimizer) OptimizeBatchFrom(ctx context.Context, problems []Problem, initial []*Components, concurrency int) ([]BatchOutcome, error) {
	if len(initial) != 0 && len(initial) != len(problems) {
		return nil, fmt.Errorf("%w: %d initial guesses for %d problems", ErrInvalidProblem, len(initial), len(problems))
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	outcomes := make([]BatchOutcome, len(problems))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := range problems {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				outcomes[i] = BatchOutcome{Err: err}
				return nil
			}
			var guess *Components
			if len(initial) > 0 {
				guess = initial[i]
			}
			res, err := o.Optimize(gctx, problems[i], guess)
			outcomes[i] = BatchOutcome{Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return outcomes, fmt.Errorf("batch optimisation: %w", err)
	}
	return outcomes, nil
}
