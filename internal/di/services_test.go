package di

import (
	"context"
	"testing"

	"github.com/aristath/riskscore/internal/modules/riskmodel"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeServices(t *testing.T) {
	cfg := testConfig(t)
	log := zerolog.Nop()

	container, err := InitializeDatabases(cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { container.Close() })

	require.NoError(t, InitializeServices(context.Background(), container, cfg, log))

	assert.NotNil(t, container.ScoreRepo)
	assert.NotNil(t, container.PressureProbe)
	require.NotNil(t, container.ArtifactStore)
	assert.Equal(t, cfg.Model.ArtifactsDir, container.ArtifactStore.Dir())
	require.NotNil(t, container.ModelManager)
	assert.Equal(t, riskmodel.StateUnloaded, container.ModelManager.State())

	// Mirror stays off without a bucket
	assert.Nil(t, container.ModelMirror)
	assert.Nil(t, container.S3Client)
}

func TestInitializeServices_Mirror(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mirror.Bucket = "models"
	cfg.Mirror.Endpoint = "http://127.0.0.1:9000"
	cfg.Mirror.AccessKeyID = "id"
	cfg.Mirror.SecretAccessKey = "secret"
	log := zerolog.Nop()

	container, err := InitializeDatabases(cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { container.Close() })

	require.NoError(t, InitializeServices(context.Background(), container, cfg, log))
	assert.NotNil(t, container.S3Client)
	assert.NotNil(t, container.ModelMirror)
}

func TestInitializeServices_DependencyOrder(t *testing.T) {
	cfg := testConfig(t)

	assert.Error(t, InitializeServices(context.Background(), nil, cfg, zerolog.Nop()))
	assert.Error(t, InitializeServices(context.Background(), &Container{}, cfg, zerolog.Nop()),
		"services need the databases first")
}

func TestTrainingConfig(t *testing.T) {
	cfg := testConfig(t)

	tc := TrainingConfig(cfg)
	assert.Equal(t, cfg.Dataset.Path, tc.Loader.Path)
	assert.Equal(t, cfg.Dataset.URL, tc.Loader.URL)
	assert.True(t, tc.Loader.AllowSynthetic)
	assert.Equal(t, 20, tc.Schema.Len())
}
