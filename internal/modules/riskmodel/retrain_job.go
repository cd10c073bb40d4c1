package riskmodel

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RetrainJob retrains the model on a schedule. The previous snapshot keeps
// serving until the new one is published.
type RetrainJob struct {
	manager *Manager
	timeout time.Duration
	log     zerolog.Logger
}

// NewRetrainJob creates a retrain job. A zero timeout means no bound.
func NewRetrainJob(manager *Manager, timeout time.Duration, log zerolog.Logger) *RetrainJob {
	return &RetrainJob{
		manager: manager,
		timeout: timeout,
		log:     log.With().Str("job", "model_retrain").Logger(),
	}
}

// Run executes one retrain.
func (j *RetrainJob) Run() error {
	ctx := context.Background()
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := j.manager.Train(ctx); err != nil {
		j.log.Error().Err(err).Msg("Scheduled retrain failed")
		return err
	}
	j.log.Info().Dur("elapsed", time.Since(start)).Msg("Scheduled retrain completed")
	return nil
}

// Name returns the job name for scheduling and logging.
func (j *RetrainJob) Name() string {
	return "model_retrain"
}
