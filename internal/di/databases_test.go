package di

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/riskscore/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testConfig mirrors config.Load defaults rooted at a temporary directory.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		DataDir:  dir,
		LogLevel: "info",
		Port:     8001,
		Dataset: config.DatasetConfig{
			Path:            filepath.Join(dir, "german.data"),
			URL:             "http://127.0.0.1:1/german.data",
			DownloadTimeout: 100 * time.Millisecond,
			AllowSynthetic:  true,
		},
		Model: config.ModelConfig{
			Dir:                  filepath.Join(dir, "model"),
			ArtifactsDir:         filepath.Join(dir, "explanations"),
			AutoLoad:             true,
			BackgroundSampleSize: 20,
		},
		Jobs: config.JobsConfig{
			CleanupSchedule:       "0 0 3 * * *",
			MirrorSchedule:        "0 30 3 * * *",
			WALCheckpointSchedule: "0 0 * * * *",
			MaintenanceSchedule:   "0 0 4 * * *",
			ArtifactRetention:     7 * 24 * time.Hour,
			ScoreRetention:        365 * 24 * time.Hour,
			RetrainTimeout:        time.Minute,
		},
		Mirror:   config.MirrorConfig{Region: "auto", Prefix: "riskscore", RetentionDays: 30},
		Pressure: config.PressureConfig{MemoryPercent: 90},
	}
}

func TestInitializeDatabases(t *testing.T) {
	cfg := testConfig(t)

	container, err := InitializeDatabases(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, container)
	t.Cleanup(func() { container.Close() })

	require.NotNil(t, container.ScoresDB)
	assert.Equal(t, "scores", container.ScoresDB.Name())
	assert.FileExists(t, filepath.Join(cfg.DataDir, "scores.db"))
	assert.Contains(t, container.Databases(), "scores")
}

func TestInitializeDatabases_InvalidPath(t *testing.T) {
	// A regular file where the data directory should be
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	cfg := testConfig(t)
	cfg.DataDir = file

	container, err := InitializeDatabases(cfg, zerolog.Nop())
	assert.Error(t, err)
	assert.Nil(t, container)
}

func TestInitializeDatabases_SchemaMigration(t *testing.T) {
	cfg := testConfig(t)

	container, err := InitializeDatabases(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { container.Close() })

	var name string
	err = container.ScoresDB.Conn().QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name='scores'",
	).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "scores", name)

	// Migrating twice is a no-op
	assert.NoError(t, container.ScoresDB.Migrate())
}
