// Package di provides dependency injection for services.
package di

import (
	"context"
	"fmt"

	"github.com/aristath/riskscore/internal/config"
	"github.com/aristath/riskscore/internal/modules/dataprep"
	"github.com/aristath/riskscore/internal/modules/explain"
	"github.com/aristath/riskscore/internal/modules/riskmodel"
	"github.com/aristath/riskscore/internal/modules/scoring"
	"github.com/aristath/riskscore/internal/modules/training"
	"github.com/aristath/riskscore/internal/reliability"
	"github.com/aristath/riskscore/internal/resources"
	"github.com/rs/zerolog"
)

// InitializeServices creates repositories and services in dependency order.
// The databases must already be open.
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}
	if container.ScoresDB == nil {
		return fmt.Errorf("scores database not initialized")
	}

	// Repositories
	container.ScoreRepo = scoring.NewRepository(container.ScoresDB, log)

	// Explanation artifacts, skipped under memory pressure
	container.PressureProbe = resources.NewMemoryProbe(cfg.Pressure.MemoryPercent, log)
	container.ArtifactStore = explain.NewStore(cfg.Model.ArtifactsDir, container.PressureProbe, log)

	// Model lifecycle
	manager, err := riskmodel.New(riskmodel.Config{
		ModelDir: cfg.Model.Dir,
		Training: TrainingConfig(cfg),
		Explain: explain.Options{
			SampleSize: cfg.Model.BackgroundSampleSize,
		},
		AutoLoad: cfg.Model.AutoLoad,
	}, container.ArtifactStore, container.ScoreRepo, log)
	if err != nil {
		return fmt.Errorf("failed to create model manager: %w", err)
	}
	container.ModelManager = manager

	// Optional S3 mirror of the model bundle
	if cfg.Mirror.Enabled() {
		client, err := reliability.NewS3Client(ctx, reliability.S3Config{
			Bucket:          cfg.Mirror.Bucket,
			Endpoint:        cfg.Mirror.Endpoint,
			Region:          cfg.Mirror.Region,
			AccessKeyID:     cfg.Mirror.AccessKeyID,
			SecretAccessKey: cfg.Mirror.SecretAccessKey,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		container.S3Client = client
		container.ModelMirror = reliability.NewModelMirror(client, cfg.Model.Dir, cfg.Mirror.Prefix, log)
		log.Info().Str("bucket", cfg.Mirror.Bucket).Msg("Model mirror enabled")
	}

	log.Info().Msg("Services initialized")
	return nil
}

// TrainingConfig maps application configuration onto the training pipeline.
func TrainingConfig(cfg *config.Config) training.Config {
	return training.Config{
		Loader: dataprep.LoaderConfig{
			Path:            cfg.Dataset.Path,
			URL:             cfg.Dataset.URL,
			DownloadTimeout: cfg.Dataset.DownloadTimeout,
			AllowSynthetic:  cfg.Dataset.AllowSynthetic,
		},
		Schema: dataprep.GermanCredit(),
	}
}
