package artifacts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SweepResult summarizes one retention pass.
type SweepResult struct {
	Removed      int
	StagingDirs  int
	BytesFreed   int64
	Failed       int
	ScannedFiles int
}

// SweepExplanations removes explanation artifacts in dir whose modification
// time is older than now-ttl. Other file types are left alone. A missing
// directory is not an error.
func SweepExplanations(dir string, ttl time.Duration, now time.Time) (SweepResult, error) {
	var result SweepResult

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return result, nil
		}
		return result, fmt.Errorf("failed to read artifacts directory: %w", err)
	}

	cutoff := now.Add(-ttl)
	for _, entry := range entries {
		if entry.IsDir() || !explanationExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		result.ScannedFiles++

		info, err := entry.Info()
		if err != nil {
			result.Failed++
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			result.Failed++
			continue
		}
		result.Removed++
		result.BytesFreed += info.Size()
	}

	return result, nil
}

// SweepStaging removes abandoned staging directories left next to target by
// an interrupted ReplaceDir.
func SweepStaging(parent string, ttl time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(parent)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read %s: %w", parent, err)
	}

	removed := 0
	cutoff := now.Add(-ttl)
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), stagingPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(parent, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
