/**
 * Package di provides dependency injection type definitions.
 *
 * This package defines the Container type which holds all application dependencies.
 * The Container is the single source of truth for all service instances and is
 * passed to the server and the CLI for access to services.
 */
package di

import (
	"github.com/aristath/riskscore/internal/database"
	"github.com/aristath/riskscore/internal/modules/explain"
	"github.com/aristath/riskscore/internal/modules/riskmodel"
	"github.com/aristath/riskscore/internal/modules/scoring"
	"github.com/aristath/riskscore/internal/reliability"
	"github.com/aristath/riskscore/internal/resources"
	"github.com/aristath/riskscore/internal/scheduler"
)

/**
 * Container holds all dependencies for the application.
 *
 * Architecture:
 * - Databases: scores.db (score history), SQLite in WAL mode
 * - Repositories: score history access
 * - Services: model lifecycle, explanation artifacts, optional S3 mirror
 * - Scheduler: cron jobs registered by RegisterJobs
 */
type Container struct {
	// Databases
	ScoresDB *database.DB // Score history

	// Repositories
	ScoreRepo *scoring.Repository // Persisted score records

	// Services
	PressureProbe *resources.MemoryProbe   // Skips optional writes under memory pressure
	ArtifactStore *explain.Store           // Explanation JSON/SVG artifacts
	ModelManager  *riskmodel.Manager       // Model lifecycle and scoring
	ModelMirror   *reliability.ModelMirror // Nil unless S3_BUCKET is set
	S3Client      *reliability.S3Client    // Nil unless S3_BUCKET is set

	// Scheduler
	Scheduler *scheduler.Scheduler
}

// Databases returns the open databases keyed by name.
func (c *Container) Databases() map[string]*database.DB {
	dbs := make(map[string]*database.DB)
	if c.ScoresDB != nil {
		dbs[c.ScoresDB.Name()] = c.ScoresDB
	}
	return dbs
}

// Close releases the databases held by the container.
func (c *Container) Close() error {
	if c.ScoresDB != nil {
		return c.ScoresDB.Close()
	}
	return nil
}

// JobInstances holds references to registered jobs for manual triggering.
type JobInstances struct {
	ArtifactCleanup scheduler.Job
	HistoryCleanup  scheduler.Job
	WALCheckpoint   scheduler.Job
	Maintenance     scheduler.Job
	ModelRetrain    scheduler.Job
	ModelMirror     scheduler.Job // Nil when the mirror is disabled
}

// ByName returns the non-nil jobs keyed by their names.
func (j *JobInstances) ByName() map[string]scheduler.Job {
	jobs := make(map[string]scheduler.Job)
	for _, job := range []scheduler.Job{
		j.ArtifactCleanup,
		j.HistoryCleanup,
		j.WALCheckpoint,
		j.Maintenance,
		j.ModelRetrain,
		j.ModelMirror,
	} {
		if job != nil {
			jobs[job.Name()] = job
		}
	}
	return jobs
}
