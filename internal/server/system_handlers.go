package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aristath/riskscore/internal/database"
	"github.com/aristath/riskscore/internal/modules/riskmodel"
	"github.com/aristath/riskscore/internal/resources"
	"github.com/aristath/riskscore/internal/scheduler"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// ModelStatus reports the model lifecycle state.
type ModelStatus interface {
	Stats() riskmodel.Stats
}

// JobRunner triggers a registered job outside its schedule.
type JobRunner interface {
	RunNow(job scheduler.Job) error
	NextRun(name string) (time.Time, bool)
}

// SystemHandlers handles system-wide monitoring and operations endpoints
type SystemHandlers struct {
	log          zerolog.Logger
	modelDir     string
	artifactsDir string
	startupTime  time.Time
	db           *database.DB
	model        ModelStatus
	runner       JobRunner
	jobs         map[string]scheduler.Job
	collect      func(ctx context.Context, log zerolog.Logger) resources.SystemStats
}

// NewSystemHandlers creates a new system handlers instance. runner and jobs may be nil.
func NewSystemHandlers(
	log zerolog.Logger,
	modelDir, artifactsDir string,
	db *database.DB,
	model ModelStatus,
	runner JobRunner,
	jobs map[string]scheduler.Job,
) *SystemHandlers {
	return &SystemHandlers{
		log:          log.With().Str("handler", "system").Logger(),
		modelDir:     modelDir,
		artifactsDir: artifactsDir,
		startupTime:  time.Now(),
		db:           db,
		model:        model,
		runner:       runner,
		jobs:         jobs,
		collect:      resources.Collect,
	}
}

// SystemStatusResponse represents the service status
type SystemStatusResponse struct {
	Status        string                `json:"status"` // "healthy" or "degraded"
	UptimeSeconds int64                 `json:"uptime_seconds"`
	ModelState    riskmodel.State       `json:"model_state"`
	ModelLoaded   bool                  `json:"model_loaded"`
	LastUpdate    *time.Time            `json:"last_update"`
	System        resources.SystemStats `json:"system"`
	Database      *database.Stats       `json:"database,omitempty"`
}

// JobsStatusResponse represents the registered jobs
type JobsStatusResponse struct {
	TotalJobs int       `json:"total_jobs"`
	Jobs      []JobInfo `json:"jobs"`
}

// JobInfo represents information about a single job
type JobInfo struct {
	Name    string `json:"name"`
	NextRun string `json:"next_run,omitempty"`
	Status  string `json:"status"` // "scheduled" or "manual"
}

// DiskUsageResponse represents disk usage statistics
type DiskUsageResponse struct {
	ModelMB        float64 `json:"model_mb"`
	ExplanationsMB float64 `json:"explanations_mb"`
	DatabaseMB     float64 `json:"database_mb"`
	TotalMB        float64 `json:"total_mb"`
}

// HandleSystemStatus returns model, host and database status
// GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	stats := h.model.Stats()
	response := SystemStatusResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
		ModelState:    stats.State,
		ModelLoaded:   stats.Loaded,
		LastUpdate:    stats.LastUpdate,
		System:        h.collect(r.Context(), h.log),
	}

	if h.db != nil {
		dbStats, err := h.db.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Msg("Failed to get database stats")
			response.Status = "degraded"
		} else {
			response.Database = dbStats
		}
	}

	writeData(w, h.log, http.StatusOK, response)
}

// HandleJobsStatus lists registered jobs and their next run
// GET /api/system/jobs
func (h *SystemHandlers) HandleJobsStatus(w http.ResponseWriter, r *http.Request) {
	jobs := make([]JobInfo, 0, len(h.jobs))
	for name := range h.jobs {
		info := JobInfo{Name: name, Status: "manual"}
		if h.runner != nil {
			if next, ok := h.runner.NextRun(name); ok {
				info.NextRun = next.Format(time.RFC3339)
				info.Status = "scheduled"
			}
		}
		jobs = append(jobs, info)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })

	writeData(w, h.log, http.StatusOK, JobsStatusResponse{TotalJobs: len(jobs), Jobs: jobs})
}

// HandleTriggerJob runs a registered job in the background
// POST /api/system/jobs/{name}
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	job, ok := h.jobs[name]
	if !ok || h.runner == nil {
		writeError(w, h.log, http.StatusNotFound, "unknown job: "+name)
		return
	}

	h.log.Info().Str("job", name).Msg("Manual job run triggered")
	go func() {
		if err := h.runner.RunNow(job); err != nil {
			if errors.Is(err, scheduler.ErrJobRunning) {
				h.log.Info().Str("job", name).Msg("Job already running")
				return
			}
			h.log.Error().Err(err).Str("job", name).Msg("Manual job run failed")
		}
	}()

	writeData(w, h.log, http.StatusAccepted, map[string]string{
		"status": "triggered",
		"job":    name,
	})
}

// HandleDiskUsage returns disk usage statistics
// GET /api/system/disk
func (h *SystemHandlers) HandleDiskUsage(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting disk usage")

	modelMB := h.getDirSize(h.modelDir)
	explanationsMB := h.getDirSize(h.artifactsDir)
	databaseMB := 0.0
	if h.db != nil {
		for _, path := range []string{h.db.Path(), h.db.Path() + "-wal"} {
			if info, err := os.Stat(path); err == nil {
				databaseMB += float64(info.Size()) / 1024 / 1024
			}
		}
	}

	writeData(w, h.log, http.StatusOK, DiskUsageResponse{
		ModelMB:        modelMB,
		ExplanationsMB: explanationsMB,
		DatabaseMB:     databaseMB,
		TotalMB:        modelMB + explanationsMB + databaseMB,
	})
}

// getDirSize calculates total size of a directory in MB
func (h *SystemHandlers) getDirSize(dirPath string) float64 {
	var totalSize int64

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})

	if err != nil {
		h.log.Warn().Err(err).Str("dir", dirPath).Msg("Failed to calculate directory size")
		return 0
	}

	return float64(totalSize) / 1024 / 1024
}
