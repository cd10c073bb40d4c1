// Package reliability keeps off-site copies of the model bundle and runs
// database maintenance.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const (
	archivePrefix     = "riskscore-model-"
	archiveSuffix     = ".tar.gz"
	archiveTimeLayout = "2006-01-02-150405"
	metadataName      = "mirror-metadata.json"
	metadataVersion   = "1.0.0"

	// minArchivesToKeep survive rotation regardless of age.
	minArchivesToKeep = 3
)

// RemoteObject is one object in the mirror bucket.
type RemoteObject struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStore is the bucket surface the mirror needs.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader) error
	List(ctx context.Context, prefix string) ([]RemoteObject, error)
	Delete(ctx context.Context, key string) error
}

// MirrorMetadata is stored inside each archive.
type MirrorMetadata struct {
	Timestamp time.Time      `json:"timestamp"`
	Version   string         `json:"version"`
	Files     []FileMetadata `json:"files"`
}

// FileMetadata describes one bundle file in the archive.
type FileMetadata struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// ArchiveInfo describes a mirrored archive.
type ArchiveInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// ModelMirror uploads the model bundle directory as timestamped tar.gz
// archives and rotates old ones.
type ModelMirror struct {
	store    ObjectStore
	modelDir string
	prefix   string
	now      func() time.Time
	log      zerolog.Logger
}

// NewModelMirror creates a mirror. Keys are placed under prefix.
func NewModelMirror(store ObjectStore, modelDir, prefix string, log zerolog.Logger) *ModelMirror {
	prefix = strings.Trim(prefix, "/")
	return &ModelMirror{
		store:    store,
		modelDir: modelDir,
		prefix:   prefix,
		now:      time.Now,
		log:      log.With().Str("service", "model_mirror").Logger(),
	}
}

func (m *ModelMirror) key(name string) string {
	if m.prefix == "" {
		return name
	}
	return path.Join(m.prefix, name)
}

// CreateAndUpload archives the bundle directory and uploads it. It returns
// the object key.
func (m *ModelMirror) CreateAndUpload(ctx context.Context) (string, error) {
	m.log.Info().Str("dir", m.modelDir).Msg("Starting model mirror")
	startTime := m.now()

	files, err := bundleFiles(m.modelDir)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no model bundle in %s", m.modelDir)
	}

	metadata := MirrorMetadata{
		Timestamp: startTime.UTC(),
		Version:   metadataVersion,
		Files:     make([]FileMetadata, 0, len(files)),
	}
	for _, rel := range files {
		full := filepath.Join(m.modelDir, filepath.FromSlash(rel))
		info, err := os.Stat(full)
		if err != nil {
			return "", fmt.Errorf("failed to stat %s: %w", rel, err)
		}
		checksum, err := calculateChecksum(full)
		if err != nil {
			return "", fmt.Errorf("failed to calculate checksum for %s: %w", rel, err)
		}
		metadata.Files = append(metadata.Files, FileMetadata{Path: rel, SizeBytes: info.Size(), Checksum: checksum})
	}

	tmp, err := os.CreateTemp("", "riskscore-mirror-*"+archiveSuffix)
	if err != nil {
		return "", fmt.Errorf("failed to create archive file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := writeArchive(tmp, m.modelDir, files, metadata); err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}
	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return "", err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	key := m.key(archivePrefix + startTime.UTC().Format(archiveTimeLayout) + archiveSuffix)
	if err := m.store.Upload(ctx, key, tmp); err != nil {
		return "", err
	}

	m.log.Info().
		Dur("duration_ms", m.now().Sub(startTime)).
		Str("key", key).
		Int("files", len(files)).
		Int64("size_bytes", size).
		Msg("Model mirror completed successfully")
	return key, nil
}

// ListArchives lists mirrored archives, newest first.
func (m *ModelMirror) ListArchives(ctx context.Context) ([]ArchiveInfo, error) {
	objects, err := m.store.List(ctx, m.key(archivePrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to list mirrored archives: %w", err)
	}

	archives := make([]ArchiveInfo, 0, len(objects))
	now := m.now()
	for _, obj := range objects {
		// riskscore-model-2026-01-08-143022.tar.gz
		name := path.Base(obj.Key)
		if !strings.HasPrefix(name, archivePrefix) || !strings.HasSuffix(name, archiveSuffix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, archivePrefix), archiveSuffix)
		ts, err := time.Parse(archiveTimeLayout, stamp)
		if err != nil {
			m.log.Warn().Str("key", obj.Key).Msg("Failed to parse timestamp from archive name")
			continue
		}
		archives = append(archives, ArchiveInfo{
			Key:       obj.Key,
			Timestamp: ts,
			SizeBytes: obj.Size,
			AgeHours:  int64(now.Sub(ts).Hours()),
		})
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].Timestamp.After(archives[j].Timestamp)
	})
	return archives, nil
}

// RotateOldArchives deletes archives older than retentionDays, always
// keeping the newest few. Zero retention keeps everything.
func (m *ModelMirror) RotateOldArchives(ctx context.Context, retentionDays int) (int, error) {
	archives, err := m.ListArchives(ctx)
	if err != nil {
		return 0, err
	}
	if retentionDays <= 0 || len(archives) <= minArchivesToKeep {
		return 0, nil
	}

	cutoff := m.now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for _, a := range archives[minArchivesToKeep:] {
		if !a.Timestamp.Before(cutoff) {
			continue
		}
		if err := m.store.Delete(ctx, a.Key); err != nil {
			m.log.Error().Err(err).Str("key", a.Key).Msg("Failed to delete old archive")
			continue
		}
		m.log.Info().Str("key", a.Key).Time("timestamp", a.Timestamp).Msg("Deleted old archive")
		deleted++
	}

	m.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(archives)-deleted).
		Msg("Mirror rotation completed")
	return deleted, nil
}

// bundleFiles lists regular files under dir as slash-separated relative paths.
func bundleFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

// calculateChecksum calculates SHA256 checksum of a file
func calculateChecksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func writeArchive(w io.Writer, dir string, files []string, metadata MirrorMetadata) error {
	gzipWriter := gzip.NewWriter(w)
	tarWriter := tar.NewWriter(gzipWriter)

	for _, rel := range files {
		if err := addFileToArchive(tarWriter, filepath.Join(dir, filepath.FromSlash(rel)), rel); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", rel, err)
		}
	}

	meta, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return err
	}
	header := &tar.Header{
		Name:    metadataName,
		Size:    int64(len(meta)),
		Mode:    0644,
		ModTime: metadata.Timestamp,
	}
	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}
	if _, err := tarWriter.Write(meta); err != nil {
		return err
	}

	if err := tarWriter.Close(); err != nil {
		return err
	}
	return gzipWriter.Close()
}

// addFileToArchive adds a single file to a tar archive
func addFileToArchive(tarWriter *tar.Writer, filePath, nameInArchive string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode().Perm()),
		ModTime: info.ModTime(),
	}
	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tarWriter, file)
	return err
}
