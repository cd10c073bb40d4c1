package di

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWire(t *testing.T) {
	cfg := testConfig(t)

	container, jobs, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, container)
	require.NotNil(t, jobs)
	t.Cleanup(func() { container.Close() })

	// Verify container is fully populated
	assert.NotNil(t, container.ScoresDB)
	assert.NotNil(t, container.ScoreRepo)
	assert.NotNil(t, container.ArtifactStore)
	assert.NotNil(t, container.ModelManager)
	assert.NotNil(t, container.Scheduler)

	// Verify jobs are registered
	assert.NotNil(t, jobs.ArtifactCleanup)
	assert.NotNil(t, jobs.ModelRetrain)
}

func TestWire_InvalidSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Jobs.WALCheckpointSchedule = "every now and then"

	container, jobs, err := Wire(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
	assert.Nil(t, container)
	assert.Nil(t, jobs)
}
