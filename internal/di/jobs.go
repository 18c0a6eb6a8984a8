package di

import (
	"fmt"

	"github.com/aristath/hosd/internal/config"
	"github.com/aristath/hosd/internal/modules/runs"
	"github.com/aristath/hosd/internal/reliability"
	"github.com/aristath/hosd/internal/scheduler"
	"github.com/rs/zerolog"
)

// Maintenance schedules (six fields, seconds first)
const (
	walCheckpointSchedule = "0 */15 * * * *"
	integritySchedule     = "0 5 * * * *"
	maintenanceSchedule   = "0 0 5 * * 0"
)

// RegisterJobs registers all maintenance jobs with the scheduler and returns
// them for manual triggering
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil || container.Scheduler == nil {
		return nil, fmt.Errorf("container has no scheduler")
	}

	instances := &JobInstances{
		RunCleanup:          runs.NewCleanupJob(container.RunRepo, container.EventBus, cfg.RunRetentionDays, log),
		CheckWALCheckpoints: scheduler.NewCheckWALCheckpointsJob(log, container.RunsDB),
		CheckCoreDatabases:  scheduler.NewCheckCoreDatabasesJob(log, container.RunsDB),
		Maintenance:         reliability.NewMaintenanceJob(cfg.DataDir, log, container.RunsDB),
	}

	type scheduled struct {
		schedule string
		job      scheduler.Job
	}
	schedules := []scheduled{
		{cfg.CleanupSchedule, instances.RunCleanup},
		{walCheckpointSchedule, instances.CheckWALCheckpoints},
		{integritySchedule, instances.CheckCoreDatabases},
		{maintenanceSchedule, instances.Maintenance},
	}

	if container.BackupService != nil {
		instances.Backup = reliability.NewBackupJob(container.BackupService, cfg.Backup.RetentionDays, container.EventBus, log)
		schedules = append(schedules, scheduled{cfg.Backup.Schedule, instances.Backup})
	}

	for _, s := range schedules {
		if err := container.Scheduler.AddJob(s.schedule, s.job); err != nil {
			return nil, fmt.Errorf("failed to register job %s: %w", s.job.Name(), err)
		}
	}

	log.Info().Int("jobs", len(schedules)).Msg("Jobs registered")
	return instances, nil
}
