package scoring

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// HistoryCleanupJob removes stored scores older than the retention period.
// It should be scheduled to run daily.
type HistoryCleanupJob struct {
	repo      *Repository
	retention time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewHistoryCleanupJob creates a score history retention job.
func NewHistoryCleanupJob(repo *Repository, retention time.Duration, log zerolog.Logger) *HistoryCleanupJob {
	return &HistoryCleanupJob{
		repo:      repo,
		retention: retention,
		now:       time.Now,
		log:       log.With().Str("job", "score_history_cleanup").Logger(),
	}
}

// Run deletes expired score records.
func (j *HistoryCleanupJob) Run() error {
	cutoff := j.now().Add(-j.retention)
	deleted, err := j.repo.DeleteOlderThan(context.Background(), cutoff)
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to delete expired scores")
		return err
	}

	if deleted > 0 {
		j.log.Info().
			Int64("deleted", deleted).
			Time("cutoff", cutoff).
			Msg("Score history cleanup completed")
	}
	return nil
}

// Name returns the job name for scheduling and logging.
func (j *HistoryCleanupJob) Name() string {
	return "score_history_cleanup"
}
