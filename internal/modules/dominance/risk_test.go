package dominance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
)

func shortfallProblem() Problem {
	return Problem{
		Scenarios: [][]float64{
			{-0.10, 0.05, 0.02},
			{0.01, -0.02, 0.04},
		},
		Benchmark:    []float64{-0.03, 0.01, 0.02},
		Order:        2,
		Objective:    ObjectiveShortfallRisk,
		RiskAversion: 0.5,
	}
}

func TestRiskFunction_ExpectedReturn(t *testing.T) {
	rf, err := NewRiskFunction(twoAssetProblem())
	require.NoError(t, err)

	x := []float64{1, 0}
	assert.InDelta(t, 0.07, rf.Value(x, 0), 1e-15)
	assert.InDelta(t, -0.07, rf.Loss(x, 0), 1e-15)

	grad := rf.GradX(x, 0)
	assert.InDelta(t, -0.07, grad[0], 1e-15)
	assert.InDelta(t, -0.025, grad[1], 1e-15)
	assert.Equal(t, 0.0, rf.GradQ(x, 0))
}

func TestRiskFunction_ShortfallValue(t *testing.T) {
	rf, err := NewRiskFunction(Problem{
		Scenarios:    [][]float64{{-0.1, 0.05}},
		Benchmark:    []float64{0},
		Order:        2,
		Objective:    ObjectiveShortfallRisk,
		RiskAversion: 0.5,
	})
	require.NoError(t, err)

	// S = 0.5·0.1² = 0.005, ρ = 0 + 2·√0.005
	x := []float64{1}
	assert.InDelta(t, 2*math.Sqrt(0.005), rf.Value(x, 0), 1e-12)
	assert.Equal(t, rf.Value(x, 0), rf.Loss(x, 0))
	assert.InDelta(t, 1-2/math.Sqrt(0.005)*0.05, rf.GradQ(x, 0), 1e-12)
}

func TestRiskFunction_ShortfallGradientsMatchFiniteDifferences(t *testing.T) {
	rf, err := NewRiskFunction(shortfallProblem())
	require.NoError(t, err)

	x := []float64{0.6, 0.4}
	const q = 0.01

	want := fd.Gradient(nil, func(x []float64) float64 {
		return rf.Loss(x, q)
	}, x, &fd.Settings{Formula: fd.Central})
	got := rf.GradX(x, q)
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-7, "asset %d", i)
	}

	wantQ := fd.Derivative(func(q float64) float64 {
		return rf.Loss(x, q)
	}, q, &fd.Settings{Formula: fd.Central})
	assert.InDelta(t, wantQ, rf.GradQ(x, q), 1e-7)
}

func TestRiskFunction_NoShortfall(t *testing.T) {
	rf, err := NewRiskFunction(Problem{
		Scenarios:    [][]float64{{0.1, 0.2}},
		Benchmark:    []float64{0},
		Order:        2,
		Objective:    ObjectiveShortfallRisk,
		RiskAversion: 0.9,
	})
	require.NoError(t, err)

	x := []float64{1}
	assert.Equal(t, 0.0, rf.Value(x, 0))
	assert.Equal(t, []float64{0}, rf.GradX(x, 0))
	assert.Equal(t, 1.0, rf.GradQ(x, 0))
}
