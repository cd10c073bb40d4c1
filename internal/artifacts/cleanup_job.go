package artifacts

import (
	"path/filepath"
	"time"

	"github.com/aristath/riskscore/internal/metrics"
	"github.com/rs/zerolog"
)

// CleanupJob enforces artifact retention. It should be scheduled to run daily.
type CleanupJob struct {
	explanationsDir string
	modelDir        string
	ttl             time.Duration
	now             func() time.Time
	log             zerolog.Logger
}

// NewCleanupJob creates a retention job for the explanations directory and
// the staging area next to the model bundle.
func NewCleanupJob(explanationsDir, modelDir string, ttl time.Duration, log zerolog.Logger) *CleanupJob {
	if ttl <= 0 {
		ttl = TTLExplanations
	}
	return &CleanupJob{
		explanationsDir: explanationsDir,
		modelDir:        modelDir,
		ttl:             ttl,
		now:             time.Now,
		log:             log.With().Str("job", "artifact_cleanup").Logger(),
	}
}

// Run executes one retention pass.
func (j *CleanupJob) Run() error {
	now := j.now()

	result, err := SweepExplanations(j.explanationsDir, j.ttl, now)
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to sweep explanation artifacts")
		return err
	}

	if j.modelDir != "" {
		staging, err := SweepStaging(filepath.Dir(j.modelDir), TTLStaging, now)
		if err != nil {
			j.log.Warn().Err(err).Msg("Failed to sweep staging directories")
		}
		result.StagingDirs = staging
	}

	metrics.ArtifactsRemovedTotal.Add(float64(result.Removed))

	if result.Removed > 0 || result.StagingDirs > 0 || result.Failed > 0 {
		j.log.Info().
			Int("removed", result.Removed).
			Int("staging_dirs", result.StagingDirs).
			Int("failed", result.Failed).
			Int64("bytes_freed", result.BytesFreed).
			Msg("Artifact cleanup completed")
	}

	return nil
}

// Name returns the job name for scheduling and logging.
func (j *CleanupJob) Name() string {
	return "artifact_cleanup"
}
