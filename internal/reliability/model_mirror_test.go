package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory ObjectStore.
type memStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	deleteErr error
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (s *memStore) Upload(ctx context.Context, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *memStore) List(ctx context.Context, prefix string) ([]RemoteObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RemoteObject
	for k, v := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, RemoteObject{Key: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (s *memStore) Delete(ctx context.Context, key string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func writeBundle(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "model")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "preprocessors"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bundle.msgpack"), []byte("bundle-bytes"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metrics.json"), []byte(`{"roc_auc":0.8}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "preprocessors", "scaler.json"), []byte(`{}`), 0644))
	return dir
}

func readArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gz)
	files := make(map[string][]byte)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[hdr.Name] = body
	}
	return files
}

func TestModelMirror_CreateAndUpload(t *testing.T) {
	store := newMemStore()
	mirror := NewModelMirror(store, writeBundle(t), "/models/", zerolog.Nop())
	mirror.now = func() time.Time { return time.Date(2026, 1, 8, 14, 30, 22, 0, time.UTC) }

	key, err := mirror.CreateAndUpload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "models/riskscore-model-2026-01-08-143022.tar.gz", key)

	files := readArchive(t, store.objects[key])
	assert.Equal(t, []byte("bundle-bytes"), files["bundle.msgpack"])
	assert.Contains(t, files, "metrics.json")
	assert.Contains(t, files, "preprocessors/scaler.json")
	require.Contains(t, files, metadataName)

	var meta MirrorMetadata
	require.NoError(t, json.Unmarshal(files[metadataName], &meta))
	assert.Equal(t, metadataVersion, meta.Version)
	require.Len(t, meta.Files, 3)
	paths := make([]string, len(meta.Files))
	for i, f := range meta.Files {
		paths[i] = f.Path
		assert.True(t, strings.HasPrefix(f.Checksum, "sha256:"))
	}
	assert.True(t, sort.StringsAreSorted(paths))
	assert.Equal(t, "bundle.msgpack", meta.Files[0].Path)
	assert.Equal(t, "sha256:eb333942340dfa7da54597d78b894f35310289e75ec3a84137a197a37ab1d164", meta.Files[0].Checksum)
}

func TestModelMirror_NoBundle(t *testing.T) {
	mirror := NewModelMirror(newMemStore(), t.TempDir(), "", zerolog.Nop())
	_, err := mirror.CreateAndUpload(context.Background())
	assert.Error(t, err)

	mirror = NewModelMirror(newMemStore(), filepath.Join(t.TempDir(), "missing"), "", zerolog.Nop())
	_, err = mirror.CreateAndUpload(context.Background())
	assert.Error(t, err)
}

func TestModelMirror_ListAndRotate(t *testing.T) {
	store := newMemStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, days := range []int{0, 1, 2, 40, 41, 50} {
		ts := now.AddDate(0, 0, -days)
		store.objects["m/riskscore-model-"+ts.Format(archiveTimeLayout)+".tar.gz"] = []byte("x")
	}
	store.objects["m/riskscore-model-garbage.tar.gz"] = []byte("x")
	store.objects["m/riskscore-model-notes.txt"] = []byte("x")

	mirror := NewModelMirror(store, "", "m", zerolog.Nop())
	mirror.now = func() time.Time { return now }

	archives, err := mirror.ListArchives(context.Background())
	require.NoError(t, err)
	require.Len(t, archives, 6)
	assert.True(t, archives[0].Timestamp.Equal(now), "newest first")
	assert.Equal(t, int64(24), archives[1].AgeHours)

	deleted, err := mirror.RotateOldArchives(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	archives, err = mirror.ListArchives(context.Background())
	require.NoError(t, err)
	assert.Len(t, archives, 3)
}

func TestModelMirror_RotateKeepsMinimum(t *testing.T) {
	store := newMemStore()
	now := time.Now().UTC()
	for _, days := range []int{100, 200, 300} {
		ts := now.AddDate(0, 0, -days)
		store.objects["riskscore-model-"+ts.Format(archiveTimeLayout)+".tar.gz"] = []byte("x")
	}
	mirror := NewModelMirror(store, "", "", zerolog.Nop())

	deleted, err := mirror.RotateOldArchives(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	deleted, err = mirror.RotateOldArchives(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestMirrorJob(t *testing.T) {
	store := newMemStore()
	store.deleteErr = errors.New("denied")
	job := NewMirrorJob(NewModelMirror(store, writeBundle(t), "", zerolog.Nop()), 30, time.Minute, zerolog.Nop())

	assert.Equal(t, "model_mirror", job.Name())
	require.NoError(t, job.Run())
	assert.Len(t, store.objects, 1)

	failing := NewMirrorJob(NewModelMirror(store, t.TempDir(), "", zerolog.Nop()), 30, 0, zerolog.Nop())
	assert.Error(t, failing.Run())
}
