package dominance

import "fmt"

// Components is the unpacked decision vector of the Lagrangian system. Lambda
// is the budget multiplier, Mu the dominance multiplier and Nu the
// non-negativity multipliers. Q is only used by the risk objective.
type Components struct {
	Weights []float64 `json:"weights" yaml:"weights" msgpack:"weights"`
	Lambda  float64   `json:"lambda" yaml:"lambda" msgpack:"lambda"`
	Mu      float64   `json:"mu" yaml:"mu" msgpack:"mu"`
	Nu      []float64 `json:"nu" yaml:"nu" msgpack:"nu"`
	Q       float64   `json:"q" yaml:"q" msgpack:"q"`
	T       float64   `json:"t" yaml:"t" msgpack:"t"`
}

// Layout fixes where each component lives in the flat decision vector:
// weights [0,d), λ at d, μ at d+1, ν [d+2,2d+2), q at 2d+2 for the risk
// objective, and t last. The layout does not depend on the active thresholds.
type Layout struct {
	Assets int
	Risk   bool
}

// NewLayout returns the layout for d assets and the given objective.
func NewLayout(assets int, objective Objective) Layout {
	return Layout{Assets: assets, Risk: objective == ObjectiveShortfallRisk}
}

// Len returns the length of the decision vector.
func (l Layout) Len() int {
	n := 2*l.Assets + 3
	if l.Risk {
		n++
	}
	return n
}

func (l Layout) lambda() int { return l.Assets }
func (l Layout) mu() int     { return l.Assets + 1 }
func (l Layout) nu() int     { return l.Assets + 2 }
func (l Layout) q() int      { return 2*l.Assets + 2 }
func (l Layout) t() int      { return l.Len() - 1 }

// Pack flattens c. Nu must have one entry per asset; a nil Nu packs as zeros.
func (l Layout) Pack(c Components) ([]float64, error) {
	if len(c.Weights) != l.Assets {
		return nil, fmt.Errorf("%w: %d weights for %d assets", ErrInvalidProblem, len(c.Weights), l.Assets)
	}
	if c.Nu != nil && len(c.Nu) != l.Assets {
		return nil, fmt.Errorf("%w: %d non-negativity multipliers for %d assets", ErrInvalidProblem, len(c.Nu), l.Assets)
	}

	z := make([]float64, l.Len())
	copy(z, c.Weights)
	z[l.lambda()] = c.Lambda
	z[l.mu()] = c.Mu
	copy(z[l.nu():l.nu()+l.Assets], c.Nu)
	if l.Risk {
		z[l.q()] = c.Q
	}
	z[l.t()] = c.T
	return z, nil
}

// Unpack splits z into its components. It panics if len(z) != l.Len().
func (l Layout) Unpack(z []float64) Components {
	if len(z) != l.Len() {
		panic(fmt.Sprintf("dominance: decision vector has length %d, layout expects %d", len(z), l.Len()))
	}
	c := Components{
		Weights: append([]float64(nil), z[:l.Assets]...),
		Lambda:  z[l.lambda()],
		Mu:      z[l.mu()],
		Nu:      append([]float64(nil), z[l.nu():l.nu()+l.Assets]...),
		T:       z[l.t()],
	}
	if l.Risk {
		c.Q = z[l.q()]
	}
	return c
}
