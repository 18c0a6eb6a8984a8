// Package scenarios turns price histories into dominance problems: simple
// return scenarios per asset, a benchmark return series and probabilities.
package scenarios

import (
	"errors"
	"fmt"
	"math"

	"github.com/aristath/hosd/internal/modules/dominance"
	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrInsufficientData is returned when a price series is too short for the
// requested horizon or holds non-positive prices.
var ErrInsufficientData = errors.New("insufficient price data")

// Request describes how to build a problem from prices. Prices is indexed
// [asset][observation]. The benchmark is taken from BenchmarkPrices when
// given, otherwise from BenchmarkWeights applied to the asset returns, and
// otherwise it is the equal-weight portfolio.
type Request struct {
	Prices           [][]float64         `json:"prices" yaml:"prices"`
	Horizon          int                 `json:"horizon,omitempty" yaml:"horizon,omitempty"`
	BenchmarkPrices  []float64           `json:"benchmark_prices,omitempty" yaml:"benchmark_prices,omitempty"`
	BenchmarkWeights []float64           `json:"benchmark_weights,omitempty" yaml:"benchmark_weights,omitempty"`
	Order            float64             `json:"order,omitempty" yaml:"order,omitempty"`
	Objective        dominance.Objective `json:"objective,omitempty" yaml:"objective,omitempty"`
	RiskAversion     float64             `json:"risk_aversion,omitempty" yaml:"risk_aversion,omitempty"`
}

// Returns converts a price series into simple returns over horizon
// observations: (p[i] - p[i-h]) / p[i-h]. The first horizon prices have no
// return and are dropped.
func Returns(prices []float64, horizon int) ([]float64, error) {
	if horizon < 1 {
		horizon = 1
	}
	if len(prices) <= horizon {
		return nil, fmt.Errorf("%w: %d prices for horizon %d", ErrInsufficientData, len(prices), horizon)
	}
	for i, p := range prices {
		if !(p > 0) || math.IsInf(p, 0) {
			return nil, fmt.Errorf("%w: price %d is %v", ErrInsufficientData, i, p)
		}
	}

	// Rocp leaves the first horizon entries at zero
	rocp := talib.Rocp(prices, horizon)
	return append([]float64(nil), rocp[horizon:]...), nil
}

// ReturnMatrix applies Returns to every asset. All series must have the same
// length.
func ReturnMatrix(prices [][]float64, horizon int) ([][]float64, error) {
	if len(prices) == 0 {
		return nil, fmt.Errorf("%w: no assets", ErrInsufficientData)
	}
	out := make([][]float64, len(prices))
	for i, series := range prices {
		if len(series) != len(prices[0]) {
			return nil, fmt.Errorf("%w: asset %d has %d prices, expected %d", ErrInsufficientData, i, len(series), len(prices[0]))
		}
		r, err := Returns(series, horizon)
		if err != nil {
			return nil, fmt.Errorf("asset %d: %w", i, err)
		}
		out[i] = r
	}
	return out, nil
}

// PortfolioReturns combines asset scenarios with fixed weights.
func PortfolioReturns(scenarios [][]float64, weights []float64) ([]float64, error) {
	if len(weights) != len(scenarios) {
		return nil, fmt.Errorf("%d weights for %d assets", len(weights), len(scenarios))
	}
	if len(scenarios) == 0 {
		return nil, nil
	}
	out := make([]float64, len(scenarios[0]))
	for i, row := range scenarios {
		floats.AddScaled(out, weights[i], row)
	}
	return out, nil
}

// EqualWeightBenchmark returns the scenarios of the equal-weight portfolio.
func EqualWeightBenchmark(scenarios [][]float64) []float64 {
	w := make([]float64, len(scenarios))
	for i := range w {
		w[i] = 1 / float64(len(w))
	}
	out, _ := PortfolioReturns(scenarios, w)
	return out
}

// Uniform returns n equal probabilities.
func Uniform(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1 / float64(n)
	}
	return out
}

// Build turns a request into a validated problem with uniform probabilities.
func Build(req Request) (dominance.Problem, error) {
	scen, err := ReturnMatrix(req.Prices, req.Horizon)
	if err != nil {
		return dominance.Problem{}, err
	}

	var bench []float64
	switch {
	case len(req.BenchmarkPrices) > 0:
		if len(req.BenchmarkPrices) != len(req.Prices[0]) {
			return dominance.Problem{}, fmt.Errorf("%w: benchmark has %d prices, assets have %d",
				ErrInsufficientData, len(req.BenchmarkPrices), len(req.Prices[0]))
		}
		bench, err = Returns(req.BenchmarkPrices, req.Horizon)
		if err != nil {
			return dominance.Problem{}, fmt.Errorf("benchmark: %w", err)
		}
	case len(req.BenchmarkWeights) > 0:
		bench, err = PortfolioReturns(scen, req.BenchmarkWeights)
		if err != nil {
			return dominance.Problem{}, fmt.Errorf("benchmark: %w", err)
		}
	default:
		bench = EqualWeightBenchmark(scen)
	}

	p := dominance.Problem{
		Scenarios:              scen,
		Benchmark:              bench,
		Probabilities:          Uniform(len(scen[0])),
		BenchmarkProbabilities: Uniform(len(bench)),
		Order:                  req.Order,
		Objective:              req.Objective,
		RiskAversion:           req.RiskAversion,
	}.Normalize()
	if err := p.Validate(); err != nil {
		return dominance.Problem{}, err
	}
	return p, nil
}

// SeriesSummary holds probability-weighted population statistics of one
// return series.
type SeriesSummary struct {
	Mean     float64 `json:"mean"`
	StdDev   float64 `json:"std_dev"`
	Skewness float64 `json:"skewness"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
}

// Summary describes the assets and the benchmark of a problem.
type Summary struct {
	Assets    []SeriesSummary `json:"assets"`
	Benchmark SeriesSummary   `json:"benchmark"`
}

// Summarize computes per-asset and benchmark statistics under the problem's
// probabilities (uniform when missing).
func Summarize(p dominance.Problem) Summary {
	p = p.Normalize()
	s := Summary{Assets: make([]SeriesSummary, len(p.Scenarios))}
	for i, row := range p.Scenarios {
		s.Assets[i] = summarize(row, p.Probabilities)
	}
	s.Benchmark = summarize(p.Benchmark, p.BenchmarkProbabilities)
	return s
}

func summarize(x, w []float64) SeriesSummary {
	if len(x) == 0 {
		return SeriesSummary{}
	}
	// probabilities are population weights, not frequency weights
	mean, std := stat.PopMeanStdDev(x, w)
	out := SeriesSummary{
		Mean:   mean,
		StdDev: std,
		Min:    floats.Min(x),
		Max:    floats.Max(x),
	}
	if std > 0 {
		out.Skewness = stat.Moment(3, x, w) / (std * std * std)
	}
	return out
}
