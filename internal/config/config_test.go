package config

import (
	"path/filepath"
	"testing"

	"github.com/aristath/hosd/internal/modules/dominance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOSD_DATA_DIR", dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 4, cfg.BatchConcurrency)
	assert.Equal(t, 100, cfg.MaxBatchSize)
	assert.Equal(t, 30, cfg.RunRetentionDays)
	assert.False(t, cfg.Backup.Enabled)
	assert.Equal(t, filepath.Join(dir, "runs.db"), cfg.DatabasePath())
	assert.Equal(t, dominance.DefaultSettings(), cfg.SolverSettings())
}

func TestLoad_SolverOverrides(t *testing.T) {
	t.Setenv("HOSD_DATA_DIR", t.TempDir())
	t.Setenv("SOLVER_MAX_EVALUATIONS", "250")
	t.Setenv("SOLVER_TOLERANCE", "1e-10")
	t.Setenv("SOLVER_GRID_STEP", "0.0005")
	t.Setenv("SOLVER_MAX_ROUNDS", "50")
	t.Setenv("SOLVER_SEED", "42")
	t.Setenv("SOLVER_FAIL_ON_NON_CONVERGENCE", "true")
	t.Setenv("SOLVER_PARALLEL_JACOBIAN", "1")

	cfg, err := Load()
	require.NoError(t, err)

	s := cfg.SolverSettings()
	assert.Equal(t, 250, s.MaxEvaluations)
	assert.Equal(t, 1e-10, s.Tolerance)
	assert.Equal(t, 0.0005, s.GridStep)
	assert.Equal(t, 50, s.MaxRounds)
	assert.Equal(t, uint64(42), s.Seed)
	assert.True(t, s.FailOnNonConvergence)
	assert.True(t, s.ParallelJacobian)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("HOSD_DATA_DIR", t.TempDir())
	t.Setenv("GO_PORT", "not-a-number")
	t.Setenv("SOLVER_TOLERANCE", "tiny")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, dominance.DefaultSettings().Tolerance, cfg.Solver.Tolerance)
}

func TestValidate(t *testing.T) {
	t.Setenv("HOSD_DATA_DIR", t.TempDir())

	t.Run("non-positive rounds", func(t *testing.T) {
		t.Setenv("SOLVER_MAX_ROUNDS", "0")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("backup without bucket", func(t *testing.T) {
		t.Setenv("BACKUP_ENABLED", "true")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("backup fully configured", func(t *testing.T) {
		t.Setenv("BACKUP_ENABLED", "true")
		t.Setenv("BACKUP_BUCKET", "runs")
		t.Setenv("BACKUP_ACCESS_KEY_ID", "key")
		t.Setenv("BACKUP_SECRET_ACCESS_KEY", "secret")
		cfg, err := Load()
		require.NoError(t, err)
		assert.True(t, cfg.Backup.Enabled)
		assert.Equal(t, "hosd", cfg.Backup.Prefix)
	})
}
