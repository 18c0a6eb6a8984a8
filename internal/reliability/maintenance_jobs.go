package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/hosd/internal/database"
	"github.com/aristath/hosd/internal/events"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

// BackupJob uploads a backup and rotates old ones
type BackupJob struct {
	service       *R2BackupService
	retentionDays int
	timeout       time.Duration
	bus           *events.Bus
	log           zerolog.Logger
}

// NewBackupJob creates a backup job. bus may be nil.
func NewBackupJob(service *R2BackupService, retentionDays int, bus *events.Bus, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		service:       service,
		retentionDays: retentionDays,
		timeout:       30 * time.Minute,
		bus:           bus,
		log:           log.With().Str("job", "r2_backup").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *BackupJob) Name() string {
	return "r2_backup"
}

// Run executes the backup job
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	backup, err := j.service.CreateAndUploadBackup(ctx)
	if err != nil {
		if j.bus != nil {
			j.bus.PublishError("reliability", err, map[string]interface{}{"job": j.Name()})
		}
		return fmt.Errorf("backup failed: %w", err)
	}

	// A failed rotation leaves extra backups behind but the new one is safe
	pruned, err := j.service.RotateOldBackups(ctx, j.retentionDays)
	if err != nil {
		j.log.Error().Err(err).Msg("Backup rotation failed")
	}

	if j.bus != nil {
		j.bus.Publish("reliability", &events.BackupCompletedData{
			Key:       backup.Filename,
			SizeBytes: backup.SizeBytes,
			Pruned:    pruned,
		})
	}
	return nil
}

// Disk thresholds for MaintenanceJob
const (
	criticalFreeBytes = 500 * 1024 * 1024
	warningFreeBytes  = 5 * 1024 * 1024 * 1024
)

// MaintenanceJob checks free disk space and reclaims database space
type MaintenanceJob struct {
	databases []*database.DB
	dataDir   string
	log       zerolog.Logger
}

// NewMaintenanceJob creates a maintenance job for the databases in dataDir
func NewMaintenanceJob(dataDir string, log zerolog.Logger, databases ...*database.DB) *MaintenanceJob {
	return &MaintenanceJob{
		databases: databases,
		dataDir:   dataDir,
		log:       log.With().Str("job", "maintenance").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run executes the maintenance job
func (j *MaintenanceJob) Run() error {
	j.log.Info().Msg("Starting maintenance")
	startTime := time.Now()

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	for _, db := range j.databases {
		if err := j.vacuumDatabase(db); err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("Vacuum failed")
		}
	}

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Maintenance completed")
	return nil
}

// checkDiskSpace fails when the data directory is almost full
func (j *MaintenanceJob) checkDiskSpace() error {
	usage, err := disk.Usage(j.dataDir)
	if err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	j.log.Debug().
		Uint64("free_bytes", usage.Free).
		Float64("used_percent", usage.UsedPercent).
		Msg("Disk space check")

	switch {
	case usage.Free < criticalFreeBytes:
		j.log.Error().Uint64("free_bytes", usage.Free).Msg("CRITICAL: Insufficient disk space")
		return fmt.Errorf("only %d bytes free in %s", usage.Free, j.dataDir)
	case usage.Free < warningFreeBytes:
		j.log.Warn().Uint64("free_bytes", usage.Free).Msg("Disk space running low")
	}
	return nil
}

// vacuumDatabase reclaims free pages and truncates the WAL
func (j *MaintenanceJob) vacuumDatabase(db *database.DB) error {
	before, err := db.GetStats()
	if err != nil {
		return err
	}

	// auto_vacuum(INCREMENTAL) databases release free pages without a full VACUUM
	if _, err := db.Conn().Exec("PRAGMA incremental_vacuum"); err != nil {
		return fmt.Errorf("incremental vacuum failed: %w", err)
	}
	if err := db.WALCheckpoint("TRUNCATE"); err != nil {
		return err
	}

	after, err := db.GetStats()
	if err != nil {
		return err
	}

	j.log.Info().
		Str("database", db.Name()).
		Int64("freelist_before", before.FreelistCount).
		Int64("freelist_after", after.FreelistCount).
		Msg("Database vacuumed")
	return nil
}
