package dominance

import (
	"context"
	"fmt"

	"github.com/aristath/hosd/pkg/newton"
	"github.com/rs/zerolog"
)

// DefaultMaxRounds caps the number of cutting-plane rounds.
const DefaultMaxRounds = 200

// LoopState is the state of the cutting-plane loop.
type LoopState string

const (
	StateSolving           LoopState = "solving"
	StateCheckingViolation LoopState = "checking_violation"
	StateConverged         LoopState = "converged"
	StateStuck             LoopState = "stuck"
)

// RoundReport summarises one cutting-plane round.
type RoundReport struct {
	Round           int       `json:"round"`
	State           LoopState `json:"state"`
	ActiveCount     int       `json:"active_count"`
	ResidualNorm    float64   `json:"residual_norm"`
	Iterations      int       `json:"iterations"`
	NewtonConverged bool      `json:"newton_converged"`
	Violation       Violation `json:"violation"`
}

// Observer receives a report after every round.
type Observer interface {
	OnRound(RoundReport)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(RoundReport)

// OnRound calls f(r).
func (f ObserverFunc) OnRound(r RoundReport) { f(r) }

type rootFinder interface {
	Solve(ctx context.Context, f newton.Func, jac newton.JacobianFunc, x0 []float64) (*newton.Result, error)
}

type violationScanner interface {
	Scan(x []float64) Violation
}

// loopOutcome is the terminal state of the cutting-plane loop.
type loopOutcome struct {
	z               []float64
	active          []float64
	rounds          int
	state           LoopState
	norm            float64
	evaluations     int
	newtonConverged bool
}

// cuttingPlane alternates Newton solves of the Lagrangian system with scans
// for the worst dominance violation. Every violation adds its threshold to
// the active set and the next round is warm-started from the previous
// solution. Thresholds are never removed.
type cuttingPlane struct {
	m                    *model
	solver               rootFinder
	scanner              violationScanner
	maxRounds            int
	parallelJacobian     bool
	failOnNonConvergence bool
	observer             Observer
	log                  zerolog.Logger
}

func (c *cuttingPlane) run(ctx context.Context, z0 []float64) (*loopOutcome, error) {
	maxRounds := c.maxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}

	out := &loopOutcome{
		z:     append([]float64(nil), z0...),
		state: StateSolving,
	}
	layout := NewLayout(c.m.assets, c.m.objective)

	for out.rounds < maxRounds {
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("cutting-plane round %d: %w", out.rounds+1, err)
		}
		out.rounds++
		out.state = StateSolving

		sys := newSystem(c.m, out.active, c.parallelJacobian)
		res, err := c.solver.Solve(ctx, sys.Residual, sys.Jacobian, out.z)
		if err != nil {
			return out, fmt.Errorf("cutting-plane round %d: %w", out.rounds, err)
		}
		out.z = res.X
		out.norm = res.Norm
		out.evaluations += res.Iterations
		out.newtonConverged = res.Converged

		report := RoundReport{
			Round:           out.rounds,
			ActiveCount:     len(out.active),
			ResidualNorm:    res.Norm,
			Iterations:      res.Iterations,
			NewtonConverged: res.Converged,
		}

		if !res.Converged && c.failOnNonConvergence {
			out.state = StateStuck
			report.State = out.state
			c.notify(report)
			return out, fmt.Errorf("cutting-plane round %d: %w (residual norm %g)", out.rounds, ErrNewtonNotConverged, res.Norm)
		}

		out.state = StateCheckingViolation
		v := c.scanner.Scan(layout.Unpack(out.z).Weights)
		report.Violation = v

		if !v.Violated {
			out.state = StateConverged
			report.State = out.state
			c.notify(report)
			c.log.Debug().
				Int("rounds", out.rounds).
				Int("active_thresholds", len(out.active)).
				Float64("residual_norm", out.norm).
				Msg("No dominance violation left")
			return out, nil
		}

		// the final round's threshold is reported but not added, so the active
		// set matches the system the returned solution solves
		if out.rounds == maxRounds {
			report.State = StateStuck
			c.notify(report)
			break
		}

		out.active = append(out.active, v.Threshold)
		report.State = StateSolving
		c.notify(report)
		c.log.Debug().
			Int("round", out.rounds).
			Float64("threshold", v.Threshold).
			Float64("violation", v.Value).
			Int("active_thresholds", len(out.active)).
			Msg("Added active threshold")
	}

	out.state = StateStuck
	c.log.Warn().
		Int("rounds", out.rounds).
		Int("active_thresholds", len(out.active)).
		Msg("Active threshold set did not stabilize")
	return out, fmt.Errorf("after %d rounds: %w", out.rounds, ErrNotStabilized)
}

func (c *cuttingPlane) notify(r RoundReport) {
	if c.observer != nil {
		c.observer.OnRound(r)
	}
}
