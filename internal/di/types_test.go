package di

import (
	"testing"

	"github.com/aristath/riskscore/internal/artifacts"
	"github.com/aristath/riskscore/internal/scheduler"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestContainer_Initialization(t *testing.T) {
	container := &Container{}

	assert.Nil(t, container.ScoresDB)
	assert.Nil(t, container.ModelManager)
	assert.Nil(t, container.ModelMirror)
	assert.Empty(t, container.Databases())
	assert.NoError(t, container.Close())
}

func TestJobInstances_ByName(t *testing.T) {
	instances := &JobInstances{}
	assert.Empty(t, instances.ByName())

	cleanup := artifacts.NewCleanupJob(t.TempDir(), t.TempDir(), 0, zerolog.Nop())
	wal := scheduler.NewCheckWALCheckpointsJob(nil, zerolog.Nop())
	instances.ArtifactCleanup = cleanup
	instances.WALCheckpoint = wal

	jobs := instances.ByName()
	assert.Len(t, jobs, 2)
	assert.Same(t, cleanup, jobs[cleanup.Name()])
	assert.Same(t, wal, jobs["check_wal_checkpoints"])
}
