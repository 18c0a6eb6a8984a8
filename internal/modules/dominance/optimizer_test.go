package dominance

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func newTestOptimizer() *Optimizer {
	return NewOptimizer(DefaultSettings(), zerolog.Nop())
}

func TestOptimizer_SingleAsset(t *testing.T) {
	res, err := newTestOptimizer().Optimize(context.Background(), singleAssetProblem(), nil)
	require.NoError(t, err)

	assert.Equal(t, []float64{1}, res.Weights)
	assert.True(t, res.Converged)
	assert.True(t, res.NewtonConverged)
	assert.Empty(t, res.ActiveThresholds)
	assert.Equal(t, 1, res.Rounds)
	assert.InDelta(t, 0.03, res.Objective, 1e-12)
	assert.InDelta(t, -0.03, res.Solution.Lambda, 1e-12)
	assert.LessOrEqual(t, res.ResidualNorm, DefaultSettings().Tolerance)
}

func TestOptimizer_DominatingVertex(t *testing.T) {
	// The first asset dominates the equal-weight benchmark and has the higher
	// mean, so the optimum is the vertex x = (1, 0).
	p := twoAssetProblem()

	stationary := DefaultInitialGuess(p)
	stationary.Weights = []float64{1.01, -0.01}
	stationary.Lambda = -0.07
	stationary.Nu = []float64{0, -0.045}

	near := DefaultInitialGuess(p)
	near.Weights = []float64{1.01, -0.01}

	far := DefaultInitialGuess(p)
	far.Weights = []float64{1.1, -0.1}

	tests := []struct {
		name    string
		initial Components
	}{
		{"stationary multipliers", stationary},
		{"zero multipliers near the vertex", near},
		{"zero multipliers further out", far},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			initial := tt.initial
			res, err := newTestOptimizer().Optimize(context.Background(), p, &initial)
			require.NoError(t, err)

			assert.True(t, res.Converged)
			assert.True(t, res.NewtonConverged)
			assert.Empty(t, res.ActiveThresholds)
			assert.InDeltaSlice(t, []float64{1, 0}, res.Weights, 1e-6)
			assert.InDelta(t, 0.07, res.Objective, 1e-6)
			assert.InDelta(t, 1, floats.Sum(res.Solution.Weights), 1e-6)

			c := newTestConstraints(t, p)
			assert.False(t, NewScanner(c, DefaultGridStep, zerolog.Nop()).Scan(res.Weights).Violated)
		})
	}
}

func TestOptimizer_WideBenchmarkRangeRejected(t *testing.T) {
	p := Problem{
		Scenarios: [][]float64{{0.1, 0.2}, {0, 0.3}},
		Benchmark: []float64{0, 1e13},
		Order:     2,
	}
	opt := newTestOptimizer()

	res, err := opt.Optimize(context.Background(), p, nil)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrInvalidProblem)
	assert.ErrorIs(t, opt.Validate(p), ErrInvalidProblem)

	outcomes, err := opt.OptimizeBatch(context.Background(), []Problem{p, singleAssetProblem()}, 2)
	require.NoError(t, err)
	assert.ErrorIs(t, outcomes[0].Err, ErrInvalidProblem)
	assert.NoError(t, outcomes[1].Err)
}

func TestOptimizer_TinyGridStepRejected(t *testing.T) {
	settings := DefaultSettings()
	settings.GridStep = 1e-12

	err := NewOptimizer(settings, zerolog.Nop()).Validate(twoAssetProblem())
	assert.ErrorIs(t, err, ErrInvalidProblem)
	assert.NoError(t, newTestOptimizer().Validate(twoAssetProblem()))
}

func TestOptimizer_InvalidProblem(t *testing.T) {
	p := twoAssetProblem()
	p.Order = 1

	res, err := newTestOptimizer().Optimize(context.Background(), p, nil)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrInvalidProblem)
}

func TestOptimizer_InvalidInitialGuess(t *testing.T) {
	_, err := newTestOptimizer().Optimize(context.Background(), twoAssetProblem(), &Components{Weights: []float64{1}})
	assert.ErrorIs(t, err, ErrInvalidProblem)
}

func TestOptimizer_ObserverSeesEveryRound(t *testing.T) {
	var reports []RoundReport
	opt := newTestOptimizer().WithObserver(ObserverFunc(func(r RoundReport) {
		reports = append(reports, r)
	}))

	res, err := opt.Optimize(context.Background(), singleAssetProblem(), nil)
	require.NoError(t, err)
	require.Len(t, reports, res.Rounds)
	assert.Equal(t, StateConverged, reports[len(reports)-1].State)
}

func TestOptimizer_WithObserverLeavesOriginalUntouched(t *testing.T) {
	opt := newTestOptimizer()
	_ = opt.WithObserver(ObserverFunc(func(RoundReport) {}))
	assert.Nil(t, opt.observer)
}

func TestOptimizer_ShortfallRiskSmoke(t *testing.T) {
	p := Problem{
		Scenarios: [][]float64{
			{0.04, -0.02, 0.01, 0.03},
			{0.01, 0.02, -0.01, 0.02},
			{-0.05, 0.08, 0.02, 0.00},
		},
		Benchmark:    []float64{0.01, 0.00, 0.005, 0.015},
		Order:        2,
		Objective:    ObjectiveShortfallRisk,
		RiskAversion: 0.9,
	}
	settings := DefaultSettings()
	settings.MaxRounds = 20

	res, err := NewOptimizer(settings, zerolog.Nop()).Optimize(context.Background(), p, nil)
	if err != nil {
		require.True(t, errors.Is(err, ErrNotStabilized), "unexpected error: %v", err)
	}
	require.NotNil(t, res)
	assert.InDelta(t, 1, floats.Sum(res.Weights), 1e-12)
	for _, w := range res.Weights {
		assert.GreaterOrEqual(t, w, 0.0)
	}
}

func TestOptimizer_DeterministicForSeed(t *testing.T) {
	p := twoAssetProblem()
	settings := DefaultSettings()
	settings.MaxRounds = 20
	settings.MaxEvaluations = 30
	settings.Seed = 7

	a, errA := NewOptimizer(settings, zerolog.Nop()).Optimize(context.Background(), p, nil)
	b, errB := NewOptimizer(settings, zerolog.Nop()).Optimize(context.Background(), p, nil)

	assert.Equal(t, errA, errB)
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Equal(t, a.Weights, b.Weights)
	assert.Equal(t, a.ActiveThresholds, b.ActiveThresholds)
	assert.Equal(t, a.Rounds, b.Rounds)
}

func TestOptimizer_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newTestOptimizer().Optimize(ctx, singleAssetProblem(), nil)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOptimizer_OptimizeBatch(t *testing.T) {
	invalid := twoAssetProblem()
	invalid.Benchmark = nil

	var mu sync.Mutex
	rounds := 0
	opt := newTestOptimizer().WithObserver(ObserverFunc(func(RoundReport) {
		mu.Lock()
		rounds++
		mu.Unlock()
	}))

	outcomes, err := opt.OptimizeBatch(context.Background(), []Problem{
		singleAssetProblem(),
		invalid,
		singleAssetProblem(),
	}, 2)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	assert.NoError(t, outcomes[0].Err)
	assert.Equal(t, []float64{1}, outcomes[0].Result.Weights)
	assert.ErrorIs(t, outcomes[1].Err, ErrInvalidProblem)
	assert.Nil(t, outcomes[1].Result)
	assert.NoError(t, outcomes[2].Err)
	assert.Equal(t, 2, rounds)
}

func TestOptimizer_OptimizeBatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes, err := newTestOptimizer().OptimizeBatch(ctx, []Problem{singleAssetProblem()}, 0)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, outcomes, 1)
	assert.Error(t, outcomes[0].Err)
}

func TestOptimizer_OptimizeBatchFrom(t *testing.T) {
	p := twoAssetProblem()
	guess := DefaultInitialGuess(p)
	guess.Weights = []float64{1.1, -0.1}

	outcomes, err := newTestOptimizer().OptimizeBatchFrom(context.Background(),
		[]Problem{singleAssetProblem(), p}, []*Components{nil, &guess}, 2)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	require.NoError(t, outcomes[0].Err)
	assert.Equal(t, []float64{1}, outcomes[0].Result.Weights)
	require.NoError(t, outcomes[1].Err)
	assert.InDeltaSlice(t, []float64{1, 0}, outcomes[1].Result.Weights, 1e-6)
	assert.InDelta(t, 0.07, outcomes[1].Result.Objective, 1e-6)
}

func TestOptimizer_OptimizeBatchFromLengthMismatch(t *testing.T) {
	_, err := newTestOptimizer().OptimizeBatchFrom(context.Background(),
		[]Problem{singleAssetProblem(), singleAssetProblem()}, []*Components{nil}, 1)
	assert.ErrorIs(t, err, ErrInvalidProblem)
}

func TestProjectWeights(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want []float64
	}{
		{"already feasible", []float64{0.25, 0.75}, []float64{0.25, 0.75}},
		{"negative clipped", []float64{1.2, -0.2}, []float64{1, 0}},
		{"renormalised", []float64{0.2, 0.2, -0.1}, []float64{0.5, 0.5, 0}},
		{"nothing positive", []float64{-1, 0, -2, 0}, []float64{0.25, 0.25, 0.25, 0.25}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDeltaSlice(t, tt.want, ProjectWeights(tt.in), 1e-15)
		})
	}
}

func TestDefaultInitialGuess(t *testing.T) {
	g := DefaultInitialGuess(Problem{
		Scenarios: [][]float64{{0.1}, {0.2}, {0.3}, {0.4}},
		Benchmark: []float64{0.02, -0.01, 0.05},
	})

	assert.Equal(t, []float64{0.25, 0.25, 0.25, 0.25}, g.Weights)
	assert.Equal(t, []float64{0, 0, 0, 0}, g.Nu)
	assert.Equal(t, -0.01, g.T)
	assert.Zero(t, g.Lambda)
	assert.Zero(t, g.Mu)
	assert.Zero(t, g.Q)
}
