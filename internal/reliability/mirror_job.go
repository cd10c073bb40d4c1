package reliability

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// MirrorJob uploads the model bundle and rotates old archives.
type MirrorJob struct {
	mirror        *ModelMirror
	retentionDays int
	timeout       time.Duration
	log           zerolog.Logger
}

// NewMirrorJob creates a mirror job.
func NewMirrorJob(mirror *ModelMirror, retentionDays int, timeout time.Duration, log zerolog.Logger) *MirrorJob {
	return &MirrorJob{
		mirror:        mirror,
		retentionDays: retentionDays,
		timeout:       timeout,
		log:           log.With().Str("job", "model_mirror").Logger(),
	}
}

// Run executes one upload and rotation. A rotation failure is logged and
// does not fail the run.
func (j *MirrorJob) Run() error {
	ctx := context.Background()
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	if _, err := j.mirror.CreateAndUpload(ctx); err != nil {
		j.log.Error().Err(err).Msg("Model mirror upload failed")
		return err
	}
	if _, err := j.mirror.RotateOldArchives(ctx, j.retentionDays); err != nil {
		j.log.Warn().Err(err).Msg("Model mirror rotation failed")
	}
	return nil
}

// Name returns the job name for scheduler
func (j *MirrorJob) Name() string {
	return "model_mirror"
}
