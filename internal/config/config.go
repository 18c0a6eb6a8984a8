// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/aristath/hosd/internal/modules/dominance"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the run database (defaults to "./data", always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	Solver           SolverConfig
	BatchConcurrency int
	MaxBatchSize     int // problems accepted by one batch request

	RunRetentionDays int
	CleanupSchedule  string // cron expression with seconds field

	Backup *BackupConfig
}

// SolverConfig holds the numerical settings of the optimizer
type SolverConfig struct {
	MaxEvaluations       int
	Tolerance            float64
	GridStep             float64
	MaxRounds            int
	Seed                 uint64
	PerturbationScale    float64
	FailOnNonConvergence bool
	ParallelJacobian     bool
}

// BackupConfig holds S3-compatible (Cloudflare R2, MinIO, AWS) backup settings
type BackupConfig struct {
	Enabled         bool
	Endpoint        string // empty = AWS default endpoint resolution
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	Schedule        string // cron expression with seconds field
	RetentionDays   int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("HOSD_DATA_DIR", "./data")

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	defaults := dominance.DefaultSettings()
	cfg := &Config{
		DataDir:  absDataDir,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnvAsInt("GO_PORT", 8001),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		Solver: SolverConfig{
			MaxEvaluations:       getEnvAsInt("SOLVER_MAX_EVALUATIONS", defaults.MaxEvaluations),
			Tolerance:            getEnvAsFloat("SOLVER_TOLERANCE", defaults.Tolerance),
			GridStep:             getEnvAsFloat("SOLVER_GRID_STEP", defaults.GridStep),
			MaxRounds:            getEnvAsInt("SOLVER_MAX_ROUNDS", defaults.MaxRounds),
			Seed:                 getEnvAsUint64("SOLVER_SEED", defaults.Seed),
			PerturbationScale:    getEnvAsFloat("SOLVER_PERTURBATION_SCALE", defaults.PerturbationScale),
			FailOnNonConvergence: getEnvAsBool("SOLVER_FAIL_ON_NON_CONVERGENCE", false),
			ParallelJacobian:     getEnvAsBool("SOLVER_PARALLEL_JACOBIAN", false),
		},
		BatchConcurrency: getEnvAsInt("BATCH_CONCURRENCY", 4),
		MaxBatchSize:     getEnvAsInt("MAX_BATCH_SIZE", 100),
		RunRetentionDays: getEnvAsInt("RUN_RETENTION_DAYS", 30),
		CleanupSchedule:  getEnv("CLEANUP_SCHEDULE", "0 30 3 * * *"), // daily at 03:30
		Backup:           loadBackupConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if the configuration is usable
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid GO_PORT %d", c.Port)
	}
	if c.Solver.MaxEvaluations <= 0 {
		return fmt.Errorf("SOLVER_MAX_EVALUATIONS must be positive, got %d", c.Solver.MaxEvaluations)
	}
	if c.Solver.Tolerance <= 0 {
		return fmt.Errorf("SOLVER_TOLERANCE must be positive, got %g", c.Solver.Tolerance)
	}
	if c.Solver.GridStep <= 0 {
		return fmt.Errorf("SOLVER_GRID_STEP must be positive, got %g", c.Solver.GridStep)
	}
	if c.Solver.MaxRounds <= 0 {
		return fmt.Errorf("SOLVER_MAX_ROUNDS must be positive, got %d", c.Solver.MaxRounds)
	}
	if c.BatchConcurrency <= 0 {
		return fmt.Errorf("BATCH_CONCURRENCY must be positive, got %d", c.BatchConcurrency)
	}

	// Backup credentials are only required when backups are switched on
	if c.Backup != nil && c.Backup.Enabled {
		if c.Backup.Bucket == "" {
			return fmt.Errorf("BACKUP_BUCKET is required when backups are enabled")
		}
		if c.Backup.AccessKeyID == "" || c.Backup.SecretAccessKey == "" {
			return fmt.Errorf("BACKUP_ACCESS_KEY_ID and BACKUP_SECRET_ACCESS_KEY are required when backups are enabled")
		}
	}

	return nil
}

// SolverSettings converts the solver configuration to optimizer settings
func (c *Config) SolverSettings() dominance.Settings {
	return dominance.Settings{
		MaxEvaluations:       c.Solver.MaxEvaluations,
		Tolerance:            c.Solver.Tolerance,
		PerturbationScale:    c.Solver.PerturbationScale,
		GridStep:             c.Solver.GridStep,
		MaxRounds:            c.Solver.MaxRounds,
		Seed:                 c.Solver.Seed,
		FailOnNonConvergence: c.Solver.FailOnNonConvergence,
		ParallelJacobian:     c.Solver.ParallelJacobian,
	}
}

// DatabasePath returns the location of the run database
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "runs.db")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if uintVal, err := strconv.ParseUint(value, 10, 64); err == nil {
			return uintVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// loadBackupConfig loads backup configuration, disabled unless BACKUP_ENABLED is set
func loadBackupConfig() *BackupConfig {
	return &BackupConfig{
		Enabled:         getEnvAsBool("BACKUP_ENABLED", false),
		Endpoint:        getEnv("BACKUP_ENDPOINT", ""),
		Region:          getEnv("BACKUP_REGION", "auto"), // R2 accepts "auto"
		Bucket:          getEnv("BACKUP_BUCKET", ""),
		Prefix:          getEnv("BACKUP_PREFIX", "hosd"),
		AccessKeyID:     getEnv("BACKUP_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("BACKUP_SECRET_ACCESS_KEY", ""),
		Schedule:        getEnv("BACKUP_SCHEDULE", "0 0 4 * * *"), // daily at 04:00
		RetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 90),
	}
}
