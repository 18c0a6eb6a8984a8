package newton

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// circle intersects x0²+x1²=4 with the line x0=x1.
func circle(x []float64) []float64 {
	return []float64{x[0]*x[0] + x[1]*x[1] - 4, x[0] - x[1]}
}

func circleJacobian(x []float64) *mat.Dense {
	return mat.NewDense(2, 2, []float64{
		2 * x[0], 2 * x[1],
		1, -1,
	})
}

func assertNonIncreasing(t *testing.T, history []float64) {
	t.Helper()
	for i := 1; i < len(history); i++ {
		assert.LessOrEqual(t, history[i], history[i-1], "norm increased at step %d", i)
	}
}

func TestSolver_ConvergesOnSmoothSystem(t *testing.T) {
	solver := NewSolver(Settings{}, NewSource(1), zerolog.Nop())

	res, err := solver.Solve(context.Background(), circle, circleJacobian, []float64{1, 0.5})

	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.InDelta(t, math.Sqrt2, res.X[0], 1e-8)
	assert.InDelta(t, math.Sqrt2, res.X[1], 1e-8)
	assert.LessOrEqual(t, res.Norm, DefaultTolerance)
	assert.GreaterOrEqual(t, res.JacobianEvaluations, 1)
	assert.LessOrEqual(t, res.Iterations, DefaultMaxEvaluations)
	assertNonIncreasing(t, res.History)
}

func TestSolver_StartingAtRoot(t *testing.T) {
	solver := NewSolver(Settings{}, nil, zerolog.Nop())
	f := func(x []float64) []float64 { return []float64{x[0] - 3} }
	jac := func(x []float64) *mat.Dense { return mat.NewDense(1, 1, []float64{1}) }

	res, err := solver.Solve(context.Background(), f, jac, []float64{3})

	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, []float64{3}, res.X)
	assert.Equal(t, []float64{0}, res.History)
}

func TestSolver_OverdeterminedLinearSystem(t *testing.T) {
	solver := NewSolver(Settings{}, nil, zerolog.Nop())
	f := func(x []float64) []float64 {
		return []float64{x[0] - 1, x[1] + 2, x[0] + x[1] + 1}
	}
	jac := func(x []float64) *mat.Dense {
		return mat.NewDense(3, 2, []float64{
			1, 0,
			0, 1,
			1, 1,
		})
	}

	res, err := solver.Solve(context.Background(), f, jac, []float64{5, 5})

	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.InDelta(t, 1.0, res.X[0], 1e-10)
	assert.InDelta(t, -2.0, res.X[1], 1e-10)
}

func TestSolver_ReportsNonConvergence(t *testing.T) {
	settings := Settings{MaxEvaluations: 25}
	solver := NewSolver(settings, NewSource(3), zerolog.Nop())
	f := func(x []float64) []float64 { return []float64{x[0]*x[0] + 1} }
	jac := func(x []float64) *mat.Dense { return mat.NewDense(1, 1, []float64{2 * x[0]}) }

	res, err := solver.Solve(context.Background(), f, jac, []float64{0.5})

	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.Equal(t, 25, res.Iterations)
	assert.GreaterOrEqual(t, res.Norm, 1.0)
	assertNonIncreasing(t, res.History)
}

func TestSolver_SeededPerturbationIsReproducible(t *testing.T) {
	f := func(x []float64) []float64 { return []float64{x[0]*x[0] + 1} }
	jac := func(x []float64) *mat.Dense { return mat.NewDense(1, 1, []float64{2 * x[0]}) }
	settings := Settings{MaxEvaluations: 15}

	a, err := NewSolver(settings, NewSource(42), zerolog.Nop()).Solve(context.Background(), f, jac, []float64{0.5})
	require.NoError(t, err)
	b, err := NewSolver(settings, NewSource(42), zerolog.Nop()).Solve(context.Background(), f, jac, []float64{0.5})
	require.NoError(t, err)

	assert.Equal(t, a.X, b.X)
	assert.Equal(t, a.History, b.History)
}

func TestSolver_TreatsNaNAsZero(t *testing.T) {
	solver := NewSolver(Settings{}, nil, zerolog.Nop())
	f := func(x []float64) []float64 { return []float64{x[0] - 2, math.NaN()} }
	jac := func(x []float64) *mat.Dense {
		return mat.NewDense(2, 1, []float64{1, math.NaN()})
	}

	res, err := solver.Solve(context.Background(), f, jac, []float64{0})

	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.InDelta(t, 2.0, res.X[0], 1e-12)
}

func TestSolver_Errors(t *testing.T) {
	solver := NewSolver(Settings{}, nil, zerolog.Nop())

	t.Run("empty start", func(t *testing.T) {
		_, err := solver.Solve(context.Background(), circle, circleJacobian, nil)
		assert.ErrorIs(t, err, ErrEmptyInput)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := solver.Solve(ctx, circle, circleJacobian, []float64{1, 0.5})
		assert.True(t, errors.Is(err, context.Canceled))
	})

	t.Run("jacobian shape mismatch", func(t *testing.T) {
		jac := func(x []float64) *mat.Dense { return mat.NewDense(1, 2, nil) }
		_, err := solver.Solve(context.Background(), circle, jac, []float64{1, 0.5})
		assert.Error(t, err)
	})
}

func TestSettings_Defaults(t *testing.T) {
	solver := NewSolver(Settings{Tolerance: 1e-4}, nil, zerolog.Nop())

	s := solver.Settings()
	assert.Equal(t, DefaultMaxEvaluations, s.MaxEvaluations)
	assert.Equal(t, 1e-4, s.Tolerance)
	assert.Equal(t, DefaultPerturbationScale, s.PerturbationScale)
}
