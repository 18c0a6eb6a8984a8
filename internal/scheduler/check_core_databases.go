package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/hosd/internal/database"
	"github.com/rs/zerolog"
)

// CheckCoreDatabasesJob verifies integrity of the service databases
type CheckCoreDatabasesJob struct {
	log       zerolog.Logger
	timeout   time.Duration
	databases []*database.DB
}

// NewCheckCoreDatabasesJob creates a new CheckCoreDatabasesJob
func NewCheckCoreDatabasesJob(log zerolog.Logger, databases ...*database.DB) *CheckCoreDatabasesJob {
	return &CheckCoreDatabasesJob{
		log:       log.With().Str("job", "check_core_databases").Logger(),
		timeout:   time.Minute,
		databases: databases,
	}
}

// Name returns the job name
func (j *CheckCoreDatabasesJob) Name() string {
	return "check_core_databases"
}

// Run executes the check core databases job
func (j *CheckCoreDatabasesJob) Run() error {
	for _, db := range j.databases {
		if db == nil {
			j.log.Warn().Msg("Database not initialized, skipping")
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		err := db.HealthCheck(ctx)
		cancel()
		if err != nil {
			// Corruption cannot be repaired automatically
			j.log.Error().
				Err(err).
				Str("database", db.Name()).
				Msg("Database integrity check failed")
			return fmt.Errorf("database %s is corrupted: %w", db.Name(), err)
		}

		j.log.Debug().Str("database", db.Name()).Msg("Database integrity OK")
	}

	j.log.Info().Msg("All databases integrity check passed")
	return nil
}
