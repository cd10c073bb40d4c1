// Package artifacts handles on-disk artifacts: atomic writes, staged directory
// swaps, JSON encoding, and the retention policy for explanation files.
package artifacts

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// stagingPrefix marks sibling directories used while a bundle is being written.
const stagingPrefix = ".staging-"

// WriteFileAtomic writes data to a temporary file in the target directory,
// syncs it, and renames it over path. Readers see the old or the new content,
// never a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	return WriteAtomic(path, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteAtomic streams content produced by fn into path atomically.
func WriteAtomic(path string, perm os.FileMode, fn func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()

	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err = fn(tmp); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err = os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename %s: %w", path, err)
	}
	return nil
}

// WriteJSON encodes v as indented JSON and writes it atomically.
func WriteJSON(path string, v interface{}) error {
	data, err := gojson.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, data, 0644)
}

// ReadJSON decodes the JSON file at path into v.
func ReadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := gojson.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ReplaceDir populates a staging directory next to target via fill, then
// swaps it into place. If fill fails, target is left untouched.
func ReplaceDir(target string, fill func(staging string) error) (err error) {
	parent := filepath.Dir(target)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", parent, err)
	}

	staging := filepath.Join(parent, stagingPrefix+filepath.Base(target)+"-"+uuid.NewString())
	if err := os.MkdirAll(staging, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(staging)
		}
	}()

	if err = fill(staging); err != nil {
		return err
	}

	// Move the old directory aside first; a directory cannot be renamed over a non-empty one
	backup := ""
	if _, statErr := os.Stat(target); statErr == nil {
		backup = filepath.Join(parent, stagingPrefix+filepath.Base(target)+"-old-"+uuid.NewString())
		if err = os.Rename(target, backup); err != nil {
			return fmt.Errorf("failed to move previous %s aside: %w", target, err)
		}
	}

	if err = os.Rename(staging, target); err != nil {
		if backup != "" {
			_ = os.Rename(backup, target)
		}
		return fmt.Errorf("failed to publish %s: %w", target, err)
	}

	if backup != "" {
		_ = os.RemoveAll(backup)
	}
	return nil
}
