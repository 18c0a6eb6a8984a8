package dominance

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Objective selects the function the optimizer works on.
type Objective string

const (
	// ObjectiveExpectedReturn maximises the expected portfolio return.
	ObjectiveExpectedReturn Objective = "expected_return"
	// ObjectiveShortfallRisk minimises the higher-moment shortfall risk
	// q + (1/(1-β))·E[(-xᵗξ - q)₊^p]^(1/p).
	ObjectiveShortfallRisk Objective = "shortfall_risk"
)

// DefaultOrder is the dominance order used when Problem.Order is zero.
const DefaultOrder = 2.0

const probabilityTolerance = 1e-9

// Problem describes one portfolio selection under a higher-order stochastic
// dominance constraint against a benchmark.
//
// Scenarios is indexed [asset][scenario]. Missing probability vectors are
// filled with uniform weights by Normalize.
type Problem struct {
	Scenarios              [][]float64 `json:"scenarios" yaml:"scenarios" msgpack:"scenarios"`
	Benchmark              []float64   `json:"benchmark" yaml:"benchmark" msgpack:"benchmark"`
	Probabilities          []float64   `json:"probabilities,omitempty" yaml:"probabilities,omitempty" msgpack:"probabilities,omitempty"`
	BenchmarkProbabilities []float64   `json:"benchmark_probabilities,omitempty" yaml:"benchmark_probabilities,omitempty" msgpack:"benchmark_probabilities,omitempty"`
	Order                  float64     `json:"order" yaml:"order" msgpack:"order"`
	Objective              Objective   `json:"objective" yaml:"objective" msgpack:"objective"`
	RiskAversion           float64     `json:"risk_aversion,omitempty" yaml:"risk_aversion,omitempty" msgpack:"risk_aversion,omitempty"`
}

// Assets returns the number of assets d.
func (p Problem) Assets() int {
	return len(p.Scenarios)
}

// ScenarioCount returns the number of portfolio scenarios N.
func (p Problem) ScenarioCount() int {
	if len(p.Scenarios) == 0 {
		return 0
	}
	return len(p.Scenarios[0])
}

// Normalize returns a copy with defaults applied: uniform probabilities where
// none are given, DefaultOrder for a zero order and the expected-return
// objective when none is named.
func (p Problem) Normalize() Problem {
	out := p
	if len(out.Probabilities) == 0 && p.ScenarioCount() > 0 {
		out.Probabilities = uniform(p.ScenarioCount())
	}
	if len(out.BenchmarkProbabilities) == 0 && len(p.Benchmark) > 0 {
		out.BenchmarkProbabilities = uniform(len(p.Benchmark))
	}
	if out.Order == 0 {
		out.Order = DefaultOrder
	}
	if out.Objective == "" {
		out.Objective = ObjectiveExpectedReturn
	}
	return out
}

// Validate checks dimensions, probability vectors, the dominance order and
// the risk aversion. It does not apply defaults; call Normalize first.
func (p Problem) Validate() error {
	d := p.Assets()
	if d == 0 {
		return fmt.Errorf("%w: no assets", ErrInvalidProblem)
	}
	n := p.ScenarioCount()
	if n == 0 {
		return fmt.Errorf("%w: no scenarios", ErrInvalidProblem)
	}
	for i, row := range p.Scenarios {
		if len(row) != n {
			return fmt.Errorf("%w: asset %d has %d scenarios, expected %d", ErrInvalidProblem, i, len(row), n)
		}
		if !allFinite(row) {
			return fmt.Errorf("%w: asset %d has non-finite scenario values", ErrInvalidProblem, i)
		}
	}
	if len(p.Benchmark) == 0 {
		return fmt.Errorf("%w: empty benchmark", ErrInvalidProblem)
	}
	if !allFinite(p.Benchmark) {
		return fmt.Errorf("%w: benchmark has non-finite values", ErrInvalidProblem)
	}
	if err := validateProbabilities("probabilities", p.Probabilities, n); err != nil {
		return err
	}
	if err := validateProbabilities("benchmark probabilities", p.BenchmarkProbabilities, len(p.Benchmark)); err != nil {
		return err
	}
	if math.IsNaN(p.Order) || math.IsInf(p.Order, 0) || p.Order < 2 {
		return fmt.Errorf("%w: order %v must be a finite number >= 2", ErrInvalidProblem, p.Order)
	}
	switch p.Objective {
	case ObjectiveExpectedReturn:
	case ObjectiveShortfallRisk:
		if !(p.RiskAversion > 0 && p.RiskAversion < 1) {
			return fmt.Errorf("%w: risk aversion %v must lie in (0, 1)", ErrInvalidProblem, p.RiskAversion)
		}
	default:
		return fmt.Errorf("%w: unknown objective %q", ErrInvalidProblem, p.Objective)
	}
	return nil
}

func validateProbabilities(name string, probs []float64, want int) error {
	if len(probs) != want {
		return fmt.Errorf("%w: %s has length %d, expected %d", ErrInvalidProblem, name, len(probs), want)
	}
	for i, v := range probs {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: %s[%d] = %v is not a probability", ErrInvalidProblem, name, i, v)
		}
	}
	if sum := floats.Sum(probs); math.Abs(sum-1) > probabilityTolerance {
		return fmt.Errorf("%w: %s sum to %v, expected 1", ErrInvalidProblem, name, sum)
	}
	return nil
}

func uniform(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1 / float64(n)
	}
	return out
}

func allFinite(s []float64) bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// model is the validated, matrix form of a Problem shared by the constraint
// functions, the risk function and the Lagrangian system.
type model struct {
	assets    int
	scenarios int
	xi        *mat.Dense // assets × scenarios
	bench     []float64
	pi        []float64
	pi0       []float64
	order     float64
	objective Objective
	beta      float64
}

func newModel(p Problem) (*model, error) {
	p = p.Normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}

	d, n := p.Assets(), p.ScenarioCount()
	xi := mat.NewDense(d, n, nil)
	for i, row := range p.Scenarios {
		xi.SetRow(i, row)
	}
	return &model{
		assets:    d,
		scenarios: n,
		xi:        xi,
		bench:     append([]float64(nil), p.Benchmark...),
		pi:        append([]float64(nil), p.Probabilities...),
		pi0:       append([]float64(nil), p.BenchmarkProbabilities...),
		order:     p.Order,
		objective: p.Objective,
		beta:      p.RiskAversion,
	}, nil
}

// portfolioReturns returns xᵗξ_j for every scenario j.
func (m *model) portfolioReturns(x []float64) []float64 {
	var r mat.VecDense
	r.MulVec(m.xi.T(), mat.NewVecDense(m.assets, x))
	out := make([]float64, m.scenarios)
	for j := range out {
		out[j] = r.AtVec(j)
	}
	return out
}

// benchmarkRange returns min and max of the benchmark scenarios.
func (m *model) benchmarkRange() (float64, float64) {
	return floats.Min(m.bench), floats.Max(m.bench)
}
