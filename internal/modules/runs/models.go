// Package runs persists optimisation runs and executes them with progress
// reporting. A run records the submitted problem, every cutting-plane round
// and the final result or error.
package runs

import (
	"errors"
	"time"

	"github.com/aristath/hosd/internal/modules/dominance"
)

// ErrNotFound is returned when a run id does not exist
var ErrNotFound = errors.New("run not found")

// Status is the lifecycle state of a run
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Run is one persisted optimisation
type Run struct {
	ID        string              `json:"id"`
	Status    Status              `json:"status"`
	Objective dominance.Objective `json:"objective"`
	Assets    int                 `json:"assets"`
	Scenarios int                 `json:"scenarios"`
	Order     float64             `json:"order"`
	Problem   *dominance.Problem  `json:"problem,omitempty"`
	Result    *dominance.Result   `json:"result,omitempty"`
	// Error holds the failure for failed runs and the warning for completed
	// runs that did not stabilise.
	Error          string     `json:"error,omitempty"`
	Rounds         int        `json:"rounds"`
	Converged      bool       `json:"converged"`
	ObjectiveValue *float64   `json:"objective_value,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Round is one persisted cutting-plane round
type Round struct {
	Round           int      `json:"round"`
	State           string   `json:"state"`
	ActiveCount     int      `json:"active_count"`
	ResidualNorm    float64  `json:"residual_norm"`
	Iterations      int      `json:"iterations"`
	NewtonConverged bool     `json:"newton_converged"`
	Violated        bool     `json:"violated"`
	Threshold       *float64 `json:"threshold,omitempty"`
	Violation       *float64 `json:"violation,omitempty"`
}

// ListOptions filters List. A zero Limit means DefaultListLimit.
type ListOptions struct {
	Status Status
	Limit  int
	Offset int
}

// DefaultListLimit caps List when no limit is given
const DefaultListLimit = 50
