// Package di provides dependency injection for scheduler jobs.
package di

import (
	"fmt"
	"time"

	"github.com/aristath/riskscore/internal/artifacts"
	"github.com/aristath/riskscore/internal/config"
	"github.com/aristath/riskscore/internal/modules/riskmodel"
	"github.com/aristath/riskscore/internal/modules/scoring"
	"github.com/aristath/riskscore/internal/reliability"
	"github.com/aristath/riskscore/internal/scheduler"
	"github.com/rs/zerolog"
)

// mirrorTimeout bounds one archive upload plus rotation.
const mirrorTimeout = 10 * time.Minute

// RegisterJobs creates the scheduler and registers every background job.
// Returns JobInstances for manual triggering via the API and CLI.
// Jobs with an empty schedule are created but not scheduled.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}
	if container.ModelManager == nil || container.ScoreRepo == nil {
		return nil, fmt.Errorf("services not initialized")
	}

	sched := scheduler.New(log)
	container.Scheduler = sched
	instances := &JobInstances{}

	// ==========================================
	// Artifact and history cleanup
	// ==========================================
	instances.ArtifactCleanup = artifacts.NewCleanupJob(cfg.Model.ArtifactsDir, cfg.Model.Dir, cfg.Jobs.ArtifactRetention, log)
	if err := sched.AddJob(cfg.Jobs.CleanupSchedule, instances.ArtifactCleanup); err != nil {
		return nil, err
	}

	if cfg.Jobs.ScoreRetention > 0 {
		instances.HistoryCleanup = scoring.NewHistoryCleanupJob(container.ScoreRepo, cfg.Jobs.ScoreRetention, log)
		if err := sched.AddJob(cfg.Jobs.CleanupSchedule, instances.HistoryCleanup); err != nil {
			return nil, err
		}
	}

	// ==========================================
	// Database health
	// ==========================================
	instances.WALCheckpoint = scheduler.NewCheckWALCheckpointsJob(container.Databases(), log)
	if err := sched.AddJob(cfg.Jobs.WALCheckpointSchedule, instances.WALCheckpoint); err != nil {
		return nil, err
	}

	instances.Maintenance = reliability.NewMaintenanceJob(container.Databases(), cfg.DataDir, log)
	if err := sched.AddJob(cfg.Jobs.MaintenanceSchedule, instances.Maintenance); err != nil {
		return nil, err
	}

	// ==========================================
	// Model lifecycle
	// ==========================================
	instances.ModelRetrain = riskmodel.NewRetrainJob(container.ModelManager, cfg.Jobs.RetrainTimeout, log)
	if err := sched.AddJob(cfg.Jobs.RetrainSchedule, instances.ModelRetrain); err != nil {
		return nil, err
	}

	if container.ModelMirror != nil {
		instances.ModelMirror = reliability.NewMirrorJob(container.ModelMirror, cfg.Mirror.RetentionDays, mirrorTimeout, log)
		if err := sched.AddJob(cfg.Jobs.MirrorSchedule, instances.ModelMirror); err != nil {
			return nil, err
		}
	}

	log.Info().Int("jobs", len(instances.ByName())).Msg("Jobs registered")
	return instances, nil
}
