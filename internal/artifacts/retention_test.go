package artifacts

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string, age time.Duration, now time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	mtime := now.Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestSweepExplanations(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	touch(t, filepath.Join(dir, "old.json"), 8*24*time.Hour, now)
	touch(t, filepath.Join(dir, "old.svg"), 10*24*time.Hour, now)
	touch(t, filepath.Join(dir, "old.png"), 30*24*time.Hour, now)
	touch(t, filepath.Join(dir, "fresh.json"), 6*24*time.Hour, now)
	touch(t, filepath.Join(dir, "old.txt"), 30*24*time.Hour, now)

	result, err := SweepExplanations(dir, TTLExplanations, now)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Removed)
	assert.Equal(t, 4, result.ScannedFiles)
	assert.Equal(t, int64(3), result.BytesFreed)
	assert.FileExists(t, filepath.Join(dir, "fresh.json"))
	assert.FileExists(t, filepath.Join(dir, "old.txt"))
	assert.NoFileExists(t, filepath.Join(dir, "old.json"))
}

func TestSweepExplanations_MissingDirectory(t *testing.T) {
	result, err := SweepExplanations(filepath.Join(t.TempDir(), "absent"), TTLExplanations, time.Now())
	require.NoError(t, err)
	assert.Zero(t, result.Removed)
}

func TestSweepStaging(t *testing.T) {
	parent := t.TempDir()
	now := time.Now()

	stale := filepath.Join(parent, stagingPrefix+"model-abc")
	fresh := filepath.Join(parent, stagingPrefix+"model-def")
	model := filepath.Join(parent, "model")
	for _, d := range []string{stale, fresh, model} {
		require.NoError(t, os.MkdirAll(d, 0755))
	}
	old := now.Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	require.NoError(t, os.Chtimes(model, old, old))

	removed, err := SweepStaging(parent, TTLStaging, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoDirExists(t, stale)
	assert.DirExists(t, fresh)
	assert.DirExists(t, model)
}

func TestCleanupJob(t *testing.T) {
	root := t.TempDir()
	explanations := filepath.Join(root, "explanations")
	require.NoError(t, os.MkdirAll(explanations, 0755))

	now := time.Now()
	touch(t, filepath.Join(explanations, "a.json"), 8*24*time.Hour, now)
	touch(t, filepath.Join(explanations, "b.json"), time.Hour, now)

	job := NewCleanupJob(explanations, filepath.Join(root, "model"), 0, zerolog.Nop())
	assert.Equal(t, "artifact_cleanup", job.Name())
	assert.Equal(t, TTLExplanations, job.ttl)

	require.NoError(t, job.Run())
	assert.NoFileExists(t, filepath.Join(explanations, "a.json"))
	assert.FileExists(t, filepath.Join(explanations, "b.json"))
}
