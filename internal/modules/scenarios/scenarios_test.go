package scenarios

import (
	"testing"

	"github.com/aristath/hosd/internal/modules/dominance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReturns(t *testing.T) {
	r, err := Returns([]float64{100, 110, 99, 99}, 1)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.10, -0.10, 0}, r, 1e-12)

	r, err = Returns([]float64{100, 110, 121}, 2)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.21}, r, 1e-12)
}

func TestReturns_Errors(t *testing.T) {
	_, err := Returns([]float64{100}, 1)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = Returns([]float64{100, 0, 100}, 1)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = Returns([]float64{100, 101, 102}, 3)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestReturnMatrix_RaggedSeries(t *testing.T) {
	_, err := ReturnMatrix([][]float64{{1, 2, 3}, {1, 2}}, 1)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = ReturnMatrix(nil, 1)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestEqualWeightBenchmark(t *testing.T) {
	b := EqualWeightBenchmark([][]float64{{0.10, 0.04}, {0.02, 0.03}})
	assert.InDeltaSlice(t, []float64{0.06, 0.035}, b, 1e-15)
}

func TestBuild(t *testing.T) {
	req := Request{
		Prices: [][]float64{
			{100, 110, 99, 108.9},
			{50, 51, 52.02, 53.0604},
		},
	}

	t.Run("equal-weight benchmark", func(t *testing.T) {
		p, err := Build(req)
		require.NoError(t, err)

		assert.Equal(t, 2, p.Assets())
		assert.Equal(t, 3, p.ScenarioCount())
		assert.InDeltaSlice(t, []float64{0.06, -0.04, 0.06}, p.Benchmark, 1e-12)
		assert.InDeltaSlice(t, []float64{1.0 / 3, 1.0 / 3, 1.0 / 3}, p.Probabilities, 1e-15)
		assert.Equal(t, dominance.DefaultOrder, p.Order)
		assert.Equal(t, dominance.ObjectiveExpectedReturn, p.Objective)
	})

	t.Run("weighted benchmark", func(t *testing.T) {
		r := req
		r.BenchmarkWeights = []float64{0, 1}
		p, err := Build(r)
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64{0.02, 0.02, 0.02}, p.Benchmark, 1e-12)
	})

	t.Run("benchmark prices", func(t *testing.T) {
		r := req
		r.BenchmarkPrices = []float64{10, 10, 11, 11}
		p, err := Build(r)
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64{0, 0.1, 0}, p.Benchmark, 1e-12)
	})

	t.Run("benchmark length mismatch", func(t *testing.T) {
		r := req
		r.BenchmarkPrices = []float64{10, 11}
		_, err := Build(r)
		assert.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("invalid risk aversion", func(t *testing.T) {
		r := req
		r.Objective = dominance.ObjectiveShortfallRisk
		_, err := Build(r)
		assert.ErrorIs(t, err, dominance.ErrInvalidProblem)
	})
}

func TestSummarize(t *testing.T) {
	s := Summarize(dominance.Problem{
		Scenarios: [][]float64{{0.1, -0.1, 0.1, -0.1}},
		Benchmark: []float64{0.05, 0.05},
	})

	require.Len(t, s.Assets, 1)
	assert.InDelta(t, 0.0, s.Assets[0].Mean, 1e-15)
	assert.Equal(t, -0.1, s.Assets[0].Min)
	assert.Equal(t, 0.1, s.Assets[0].Max)
	assert.InDelta(t, 0.1, s.Assets[0].StdDev, 1e-12)
	assert.InDelta(t, 0.0, s.Assets[0].Skewness, 1e-12)
	assert.InDelta(t, 0.05, s.Benchmark.Mean, 1e-15)
	assert.Equal(t, 0.0, s.Benchmark.StdDev)
	assert.Equal(t, 0.0, s.Benchmark.Skewness)
}
