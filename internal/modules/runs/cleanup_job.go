package runs

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/hosd/internal/events"
	"github.com/rs/zerolog"
)

// CleanupJob deletes finished runs older than the retention period
type CleanupJob struct {
	repo      *Repository
	bus       *events.Bus
	retention time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewCleanupJob creates a cleanup job keeping retentionDays of history
func NewCleanupJob(repo *Repository, bus *events.Bus, retentionDays int, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		repo:      repo,
		bus:       bus,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
		log:       log.With().Str("job", "run_cleanup").Logger(),
	}
}

// Name returns the job name
func (j *CleanupJob) Name() string {
	return "run_cleanup"
}

// Run executes the cleanup
func (j *CleanupJob) Run() error {
	if j.retention <= 0 {
		j.log.Debug().Msg("Retention disabled, skipping cleanup")
		return nil
	}

	cutoff := j.now().Add(-j.retention)
	deleted, err := j.repo.DeleteOlderThan(context.Background(), cutoff)
	if err != nil {
		return fmt.Errorf("run cleanup: %w", err)
	}

	j.log.Info().
		Int64("deleted", deleted).
		Time("cutoff", cutoff).
		Msg("Run cleanup completed")

	j.bus.Publish("runs", &events.CleanupCompletedData{Deleted: deleted, Cutoff: cutoff})
	return nil
}
