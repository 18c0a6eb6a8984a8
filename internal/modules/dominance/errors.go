package dominance

import "errors"

var (
	// ErrInvalidProblem wraps every validation failure of a Problem or a
	// starting point.
	ErrInvalidProblem = errors.New("invalid dominance problem")

	// ErrNotStabilized is returned together with a best-effort Result when
	// the active threshold set keeps growing past Settings.MaxRounds.
	ErrNotStabilized = errors.New("active threshold set did not stabilize")

	// ErrNewtonNotConverged is returned together with the partial Result when
	// Settings.FailOnNonConvergence is set and a Newton solve exhausts its
	// evaluation budget.
	ErrNewtonNotConverged = errors.New("newton solver did not converge")
)
