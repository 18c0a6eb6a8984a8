package di

import (
	"context"
	"fmt"

	"github.com/aristath/hosd/internal/config"
	"github.com/aristath/hosd/internal/database"
	"github.com/aristath/hosd/internal/events"
	"github.com/aristath/hosd/internal/metrics"
	"github.com/aristath/hosd/internal/modules/dominance"
	dominancehandlers "github.com/aristath/hosd/internal/modules/dominance/handlers"
	"github.com/aristath/hosd/internal/modules/runs"
	"github.com/aristath/hosd/internal/reliability"
	"github.com/aristath/hosd/internal/scheduler"
	"github.com/rs/zerolog"
)

// InitializeServices creates the optimizer, the run service and its
// collaborators. Databases must be initialized first.
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil || container.RunsDB == nil {
		return fmt.Errorf("container has no runs database")
	}

	container.EventBus = events.NewBus(log)
	container.Metrics = metrics.New()
	container.Scheduler = scheduler.New(log)

	container.Optimizer = dominance.NewOptimizer(cfg.SolverSettings(), log)
	container.RunRepo = runs.NewRepository(container.RunsDB.Conn(), log)
	container.RunService = runs.NewService(
		container.RunRepo,
		container.Optimizer,
		container.EventBus,
		container.Metrics,
		cfg.BatchConcurrency,
		log,
	)
	container.DominanceHandler = dominancehandlers.NewHandler(container.RunService, container.RunRepo, cfg.MaxBatchSize, log)

	if cfg.Backup != nil && cfg.Backup.Enabled {
		client, err := reliability.NewR2Client(ctx, reliability.R2Config{
			Endpoint:        cfg.Backup.Endpoint,
			Region:          cfg.Backup.Region,
			Bucket:          cfg.Backup.Bucket,
			Prefix:          cfg.Backup.Prefix,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create backup client: %w", err)
		}
		container.BackupService = reliability.NewR2BackupService(client, []*database.DB{container.RunsDB}, cfg.DataDir, log)
		log.Info().Str("bucket", cfg.Backup.Bucket).Msg("Backups enabled")
	}

	return nil
}
