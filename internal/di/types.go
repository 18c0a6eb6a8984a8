// Package di provides dependency injection type definitions.
package di

import (
	"github.com/aristath/hosd/internal/database"
	"github.com/aristath/hosd/internal/events"
	"github.com/aristath/hosd/internal/metrics"
	"github.com/aristath/hosd/internal/modules/dominance"
	dominancehandlers "github.com/aristath/hosd/internal/modules/dominance/handlers"
	"github.com/aristath/hosd/internal/modules/runs"
	"github.com/aristath/hosd/internal/reliability"
	"github.com/aristath/hosd/internal/scheduler"
)

// Container holds all dependencies for the application. It is created by
// Wire and is the single source of truth for service instances.
type Container struct {
	// Databases
	RunsDB *database.DB

	// Infrastructure
	EventBus  *events.Bus
	Metrics   *metrics.Metrics
	Scheduler *scheduler.Scheduler

	// Optimisation
	Optimizer        *dominance.Optimizer
	RunRepo          *runs.Repository
	RunService       *runs.Service
	DominanceHandler *dominancehandlers.Handler

	// Backups (nil when disabled)
	BackupService *reliability.R2BackupService
}

// JobInstances holds the registered maintenance jobs
type JobInstances struct {
	RunCleanup          scheduler.Job
	CheckWALCheckpoints scheduler.Job
	CheckCoreDatabases  scheduler.Job
	Maintenance         scheduler.Job
	Backup              scheduler.Job // nil when backups are disabled
}

// Close releases every resource held by the container
func (c *Container) Close() error {
	if c.RunsDB != nil {
		return c.RunsDB.Close()
	}
	return nil
}
