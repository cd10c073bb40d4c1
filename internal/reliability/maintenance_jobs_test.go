package reliability

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aristath/riskscore/internal/database"
	testingpkg "github.com/aristath/riskscore/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaintenanceJob_Run(t *testing.T) {
	db := testingpkg.NewTestDB(t, "scores")
	ctx := context.Background()

	// Fill then empty the table so the freelist is large
	for i := 0; i < 200; i++ {
		_, err := db.ExecContext(ctx, `INSERT INTO scores
			(id, application_ref, risk_score, probability, category, recommendation, model_version, payload, created_at)
			VALUES (?, 'ref', 10, 0.1, 'low', 'approve', 'v1.0', ?, 0)`, fmt.Sprint(i), fmt.Sprintf(`{"pad":"%0512d"}`, i))
		require.NoError(t, err)
	}
	_, err := db.ExecContext(ctx, `DELETE FROM scores`)
	require.NoError(t, err)

	job := NewMaintenanceJob(map[string]*database.DB{"scores": db}, t.TempDir(), zerolog.Nop())
	job.freeGB = func(string) (float64, error) { return 100, nil }
	assert.Equal(t, "maintenance", job.Name())
	require.NoError(t, job.Run())

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Less(t, float64(stats.FreelistCount), float64(stats.PageCount)*vacuumFreelistRatio)
}

func TestMaintenanceJob_DiskSpace(t *testing.T) {
	job := NewMaintenanceJob(nil, t.TempDir(), zerolog.Nop())

	job.freeGB = func(string) (float64, error) { return 0.1, nil }
	assert.Error(t, job.Run(), "critically low disk space halts")

	job.freeGB = func(string) (float64, error) { return 2, nil }
	assert.NoError(t, job.Run(), "low disk space only warns")

	job.freeGB = func(string) (float64, error) { return 0, errors.New("statfs failed") }
	assert.NoError(t, job.Run(), "unreadable usage does not halt")
}

func TestMaintenanceJob_RealDiskUsage(t *testing.T) {
	free, err := diskFreeGB(t.TempDir())
	require.NoError(t, err)
	assert.Greater(t, free, 0.0)
}
