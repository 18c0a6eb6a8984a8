package di

import (
	"fmt"

	"github.com/aristath/hosd/internal/config"
	"github.com/aristath/hosd/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens the run database and applies its schema
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// runs.db - optimisation runs and their cutting-plane rounds
	runsDB, err := database.New(database.Config{
		Path:    cfg.DatabasePath(),
		Profile: database.ProfileStandard,
		Name:    "runs",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize runs database: %w", err)
	}
	if err := runsDB.Migrate(); err != nil {
		runsDB.Close()
		return nil, fmt.Errorf("failed to migrate runs database: %w", err)
	}
	container.RunsDB = runsDB

	log.Info().Str("path", runsDB.Path()).Msg("Runs database initialized")
	return container, nil
}
