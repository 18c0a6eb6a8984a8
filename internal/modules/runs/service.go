package runs

import (
	"context"
	"errors"
	"fmt"

	"github.com/aristath/hosd/internal/events"
	"github.com/aristath/hosd/internal/metrics"
	"github.com/aristath/hosd/internal/modules/dominance"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Service executes optimisation runs and records them. Every round is
// persisted, counted in metrics and published on the event bus.
type Service struct {
	repo        *Repository
	optimizer   *dominance.Optimizer
	bus         *events.Bus
	metrics     *metrics.Metrics
	concurrency int
	log         zerolog.Logger
}

// NewService creates a run service. concurrency bounds RunBatch.
func NewService(repo *Repository, optimizer *dominance.Optimizer, bus *events.Bus, m *metrics.Metrics, concurrency int, log zerolog.Logger) *Service {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Service{
		repo:        repo,
		optimizer:   optimizer,
		bus:         bus,
		metrics:     m,
		concurrency: concurrency,
		log:         log.With().Str("service", "runs").Logger(),
	}
}

// Repository returns the run store
func (s *Service) Repository() *Repository {
	return s.repo
}

// Run validates p, records a run and optimises it. Validation errors are
// returned before anything is stored. Solver outcomes that leave a result
// behind, converged or not, return the stored run and a nil error; the run's
// status and Error describe what happened.
func (s *Service) Run(ctx context.Context, p dominance.Problem, initial *dominance.Components) (*Run, error) {
	p = p.Normalize()
	if err := s.optimizer.Validate(p); err != nil {
		return nil, err
	}

	run, err := s.repo.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := s.repo.MarkRunning(ctx, run.ID); err != nil {
		return nil, err
	}

	s.bus.Publish("runs", &events.RunStartedData{
		RunID:     run.ID,
		Objective: string(p.Objective),
		Assets:    p.Assets(),
		Scenarios: p.ScenarioCount(),
		Order:     p.Order,
	})
	s.metrics.RunStarted()

	res, optErr := s.optimizer.WithObserver(s.observer(ctx, run.ID)).Optimize(ctx, p, initial)
	status := outcomeStatus(res, optErr)
	s.metrics.RunFinished(status, res)

	// the run record outlives a cancelled request
	storeCtx := context.WithoutCancel(ctx)

	switch {
	case optErr == nil || errors.Is(optErr, dominance.ErrNotStabilized):
		warning := completionWarning(res, optErr)
		if err := s.repo.Complete(storeCtx, run.ID, res, warning); err != nil {
			return nil, err
		}
		s.bus.Publish("runs", &events.RunCompletedData{
			RunID:            run.ID,
			Converged:        res.Converged,
			NewtonConverged:  res.NewtonConverged,
			Rounds:           res.Rounds,
			ActiveThresholds: len(res.ActiveThresholds),
			Objective:        res.Objective,
			Weights:          res.Weights,
			Duration:         res.Duration.Seconds(),
			Warning:          warning,
		})
		if warning != "" {
			s.log.Warn().Str("run_id", run.ID).Int("rounds", res.Rounds).Str("warning", warning).Msg("Run finished with a warning")
		}
	default:
		if err := s.repo.Fail(storeCtx, run.ID, optErr, res); err != nil {
			return nil, err
		}
		s.bus.Publish("runs", &events.RunFailedData{RunID: run.ID, Error: optErr.Error()})
		s.log.Error().Err(optErr).Str("run_id", run.ID).Msg("Run failed")
	}

	return s.repo.Get(storeCtx, run.ID)
}

// BatchItem is the outcome of one problem of a batch
type BatchItem struct {
	Run   *Run   `json:"run,omitempty"`
	Error string `json:"error,omitempty"`
	Err   error  `json:"-"`
}

// RunBatch runs independent problems concurrently. Each problem gets its own
// run; a failing problem does not stop the others. initial is either empty or
// holds one optional initial guess per problem.
func (s *Service) RunBatch(ctx context.Context, problems []dominance.Problem, initial []*dominance.Components) ([]BatchItem, error) {
	if len(initial) != 0 && len(initial) != len(problems) {
		return nil, fmt.Errorf("%w: %d initial guesses for %d problems", dominance.ErrInvalidProblem, len(initial), len(problems))
	}
	items := make([]BatchItem, len(problems))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range problems {
		g.Go(func() error {
			var guess *dominance.Components
			if len(initial) > 0 {
				guess = initial[i]
			}
			run, err := s.Run(gctx, problems[i], guess)
			items[i] = BatchItem{Run: run, Err: err}
			if err != nil {
				items[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return items, fmt.Errorf("batch: %w", err)
	}
	return items, nil
}

// observer fans a round report out to metrics, the store and the bus
func (s *Service) observer(ctx context.Context, runID string) dominance.Observer {
	return dominance.ObserverFunc(func(r dominance.RoundReport) {
		s.metrics.OnRound(r)
		if err := s.repo.AddRound(context.WithoutCancel(ctx), runID, r); err != nil {
			s.log.Error().Err(err).Str("run_id", runID).Msg("Failed to store round")
		}
		s.bus.Publish("runs", &events.RoundCompletedData{
			RunID:           runID,
			Round:           r.Round,
			State:           string(r.State),
			ActiveCount:     r.ActiveCount,
			ResidualNorm:    r.ResidualNorm,
			Iterations:      r.Iterations,
			NewtonConverged: r.NewtonConverged,
			Violated:        r.Violation.Violated,
			Threshold:       r.Violation.Threshold,
			Violation:       r.Violation.Value,
		})
	})
}

// completionWarning describes a completed run that is usable but not clean
func completionWarning(res *dominance.Result, err error) string {
	switch {
	case err != nil:
		return err.Error()
	case res != nil && !res.NewtonConverged:
		return fmt.Sprintf("newton solve did not converge (residual norm %g)", res.ResidualNorm)
	default:
		return ""
	}
}

func outcomeStatus(res *dominance.Result, err error) string {
	switch {
	case err == nil && res != nil && res.NewtonConverged:
		return metrics.StatusConverged
	case err == nil && res != nil:
		return metrics.StatusNotConverged
	case errors.Is(err, dominance.ErrNotStabilized):
		return metrics.StatusNotStabilized
	case errors.Is(err, dominance.ErrNewtonNotConverged):
		return metrics.StatusNotConverged
	default:
		return metrics.StatusFailed
	}
}
