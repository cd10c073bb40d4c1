package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/riskscore/internal/database"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

const (
	// criticalFreeGB halts maintenance; lowFreeGB only warns.
	criticalFreeGB = 0.5
	lowFreeGB      = 5.0

	// vacuumFreelistRatio is the share of free pages that triggers VACUUM.
	vacuumFreelistRatio = 0.25
)

// MaintenanceJob checks database integrity and disk space, and vacuums
// databases with a large freelist.
type MaintenanceJob struct {
	databases map[string]*database.DB
	dataDir   string
	freeGB    func(path string) (float64, error)
	log       zerolog.Logger
}

// NewMaintenanceJob creates a maintenance job over the named databases.
func NewMaintenanceJob(databases map[string]*database.DB, dataDir string, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		databases: databases,
		dataDir:   dataDir,
		freeGB:    diskFreeGB,
		log:       log.With().Str("job", "maintenance").Logger(),
	}
}

func diskFreeGB(path string) (float64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return float64(usage.Free) / 1e9, nil
}

// Run executes the maintenance job
func (j *MaintenanceJob) Run() error {
	j.log.Info().Msg("Starting maintenance")
	startTime := time.Now()

	// Step 1: integrity check
	for name, db := range j.databases {
		if err := j.quickCheck(db); err != nil {
			j.log.Error().Str("database", name).Err(err).Msg("CRITICAL: integrity check failed")
			return fmt.Errorf("integrity check failed for %s: %w", name, err)
		}
	}

	// Step 2: disk space
	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	// Step 3: reclaim space where the freelist grew large
	for name, db := range j.databases {
		stats, err := db.GetStats()
		if err != nil {
			j.log.Warn().Str("database", name).Err(err).Msg("Failed to read database stats")
			continue
		}
		if stats.PageCount == 0 || float64(stats.FreelistCount)/float64(stats.PageCount) < vacuumFreelistRatio {
			continue
		}
		if err := j.vacuumDatabase(db, name); err != nil {
			j.log.Error().Str("database", name).Err(err).Msg("VACUUM failed")
		}
	}

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Maintenance completed successfully")
	return nil
}

// Name returns the job name for scheduler
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

func (j *MaintenanceJob) quickCheck(db *database.DB) error {
	var result string
	if err := db.QueryRowContext(context.Background(), "PRAGMA quick_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("quick_check reported %q", result)
	}
	return nil
}

// checkDiskSpace verifies sufficient disk space is available
func (j *MaintenanceJob) checkDiskSpace() error {
	availableGB, err := j.freeGB(j.dataDir)
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to read disk usage")
		return nil
	}

	j.log.Debug().Float64("available_gb", availableGB).Msg("Disk space check")

	if availableGB < criticalFreeGB {
		j.log.Error().
			Float64("available_gb", availableGB).
			Msg("CRITICAL: Insufficient disk space")
		return fmt.Errorf("only %.2f GB free in %s", availableGB, j.dataDir)
	}
	if availableGB < lowFreeGB {
		j.log.Warn().
			Float64("available_gb", availableGB).
			Msg("Disk space running low")
	}
	return nil
}

// vacuumDatabase performs VACUUM on a database
func (j *MaintenanceJob) vacuumDatabase(db *database.DB, name string) error {
	before, err := db.GetStats()
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(context.Background(), "VACUUM"); err != nil {
		return fmt.Errorf("VACUUM failed: %w", err)
	}

	after, err := db.GetStats()
	if err != nil {
		return err
	}
	sizeBefore := float64(before.PageCount*before.PageSize) / 1024 / 1024
	sizeAfter := float64(after.PageCount*after.PageSize) / 1024 / 1024

	j.log.Info().
		Str("database", name).
		Float64("size_before_mb", sizeBefore).
		Float64("size_after_mb", sizeAfter).
		Float64("space_reclaimed_mb", sizeBefore-sizeAfter).
		Msg("VACUUM completed")
	return nil
}
