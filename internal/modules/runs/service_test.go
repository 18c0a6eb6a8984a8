package runs

import (
	"context"
	"sync"
	"testing"

	"github.com/aristath/hosd/internal/events"
	"github.com/aristath/hosd/internal/metrics"
	"github.com/aristath/hosd/internal/modules/dominance"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *recorder) handle(e *events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func newTestService(t *testing.T) (*Service, *events.Bus, *metrics.Metrics) {
	t.Helper()
	bus := events.NewBus(zerolog.Nop())
	m := metrics.New()
	repo := NewRepository(newTestDB(t).Conn(), zerolog.Nop())
	opt := dominance.NewOptimizer(dominance.DefaultSettings(), zerolog.Nop())
	return NewService(repo, opt, bus, m, 2, zerolog.Nop()), bus, m
}

func TestService_Run(t *testing.T) {
	svc, bus, m := newTestService(t)
	rec := &recorder{}
	bus.Subscribe(rec.handle, events.AllTypes...)

	run, err := svc.Run(context.Background(), testProblem(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, run.Status)
	assert.True(t, run.Converged)
	assert.Equal(t, 1, run.Rounds)
	require.NotNil(t, run.Result)
	assert.Equal(t, []float64{1}, run.Result.Weights)
	require.NotNil(t, run.ObjectiveValue)
	assert.InDelta(t, 0.03, *run.ObjectiveValue, 1e-12)

	rounds, err := svc.Repository().Rounds(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, rounds, 1)
	assert.Equal(t, string(dominance.StateConverged), rounds[0].State)

	assert.Equal(t, []events.EventType{events.RunStarted, events.RoundCompleted, events.RunCompleted}, rec.types())
	completed, ok := rec.events[2].Data.(*events.RunCompletedData)
	require.True(t, ok)
	assert.Equal(t, run.ID, completed.RunID)
	assert.Empty(t, completed.Warning)

	assert.Equal(t, 1.0, gatheredValue(t, m, "hosd_runs_total", metrics.StatusConverged))
	assert.Equal(t, 1.0, gatheredValue(t, m, "hosd_cutting_plane_rounds_total", ""))
	assert.Equal(t, 0.0, gatheredValue(t, m, "hosd_runs_in_flight", ""))
}

func TestService_RunInvalidProblemStoresNothing(t *testing.T) {
	svc, bus, _ := newTestService(t)
	rec := &recorder{}
	bus.Subscribe(rec.handle, events.AllTypes...)

	p := testProblem()
	p.Benchmark = nil

	run, err := svc.Run(context.Background(), p, nil)
	assert.ErrorIs(t, err, dominance.ErrInvalidProblem)
	assert.Nil(t, run)
	assert.Empty(t, rec.types())

	list, err := svc.Repository().List(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestService_RunInvalidInitialGuessFails(t *testing.T) {
	svc, bus, m := newTestService(t)
	rec := &recorder{}
	bus.Subscribe(rec.handle, events.RunFailed)

	run, err := svc.Run(context.Background(), testProblem(), &dominance.Components{Weights: []float64{0.5, 0.5}})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.NotEmpty(t, run.Error)
	assert.Nil(t, run.Result)
	assert.Len(t, rec.types(), 1)
	assert.Equal(t, 1.0, gatheredValue(t, m, "hosd_runs_total", metrics.StatusFailed))
}

func TestService_RunBatch(t *testing.T) {
	svc, _, _ := newTestService(t)

	invalid := testProblem()
	invalid.Order = 1

	items, err := svc.RunBatch(context.Background(), []dominance.Problem{testProblem(), invalid, testProblem()}, nil)
	require.NoError(t, err)
	require.Len(t, items, 3)

	require.NotNil(t, items[0].Run)
	assert.Equal(t, StatusCompleted, items[0].Run.Status)
	assert.ErrorIs(t, items[1].Err, dominance.ErrInvalidProblem)
	assert.NotEmpty(t, items[1].Error)
	assert.Nil(t, items[1].Run)
	require.NotNil(t, items[2].Run)
	assert.NotEqual(t, items[0].Run.ID, items[2].Run.ID)

	list, err := svc.Repository().List(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestService_RunBatchWithInitialGuesses(t *testing.T) {
	svc, _, _ := newTestService(t)

	dominating := dominance.Problem{
		Scenarios: [][]float64{{0.10, 0.04}, {0.02, 0.03}},
		Benchmark: []float64{0.06, 0.035},
		Order:     2,
	}
	guess := dominance.DefaultInitialGuess(dominating)
	guess.Weights = []float64{1.1, -0.1}

	items, err := svc.RunBatch(context.Background(),
		[]dominance.Problem{testProblem(), dominating},
		[]*dominance.Components{nil, &guess})
	require.NoError(t, err)
	require.Len(t, items, 2)

	require.NotNil(t, items[0].Run)
	assert.Equal(t, []float64{1}, items[0].Run.Result.Weights)
	require.NotNil(t, items[1].Run)
	require.NotNil(t, items[1].Run.Result)
	assert.InDeltaSlice(t, []float64{1, 0}, items[1].Run.Result.Weights, 1e-6)

	_, err = svc.RunBatch(context.Background(), []dominance.Problem{testProblem()}, []*dominance.Components{nil, nil})
	assert.ErrorIs(t, err, dominance.ErrInvalidProblem)
}

func TestService_RunWideBenchmarkStoresNothing(t *testing.T) {
	svc, _, _ := newTestService(t)

	p := dominance.Problem{
		Scenarios: [][]float64{{0.1, 0.2}, {0, 0.3}},
		Benchmark: []float64{0, 1e13},
	}
	items, err := svc.RunBatch(context.Background(), []dominance.Problem{p, testProblem()}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, items[0].Err, dominance.ErrInvalidProblem)
	assert.Nil(t, items[0].Run)
	require.NotNil(t, items[1].Run)

	list, err := svc.Repository().List(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestService_RunBatchCancelled(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items, err := svc.RunBatch(ctx, []dominance.Problem{testProblem()}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, items, 1)
	assert.Error(t, items[0].Err)
}

func TestOutcomeStatus(t *testing.T) {
	res := &dominance.Result{Converged: true, NewtonConverged: true}
	assert.Equal(t, metrics.StatusConverged, outcomeStatus(res, nil))
	assert.Equal(t, metrics.StatusNotConverged, outcomeStatus(&dominance.Result{Converged: true}, nil))
	assert.Equal(t, metrics.StatusNotStabilized, outcomeStatus(res, dominance.ErrNotStabilized))
	assert.Equal(t, metrics.StatusNotConverged, outcomeStatus(res, dominance.ErrNewtonNotConverged))
	assert.Equal(t, metrics.StatusFailed, outcomeStatus(nil, context.Canceled))
}

func TestCompletionWarning(t *testing.T) {
	assert.Empty(t, completionWarning(&dominance.Result{NewtonConverged: true}, nil))
	assert.Equal(t, "newton solve did not converge (residual norm 0.5)",
		completionWarning(&dominance.Result{Converged: true, ResidualNorm: 0.5}, nil))
	assert.Equal(t, dominance.ErrNotStabilized.Error(),
		completionWarning(&dominance.Result{NewtonConverged: true}, dominance.ErrNotStabilized))
}

// gatheredValue reads a counter or gauge from the registry. label selects the
// status label when non-empty.
func gatheredValue(t *testing.T, m *metrics.Metrics, name, label string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			if label != "" {
				matched := false
				for _, lp := range metric.GetLabel() {
					if lp.GetName() == "status" && lp.GetValue() == label {
						matched = true
					}
				}
				if !matched {
					continue
				}
			}
			if c := metric.GetCounter(); c != nil {
				return c.GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}
	return 0
}
