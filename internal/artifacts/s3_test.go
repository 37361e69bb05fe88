package artifacts

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBucket struct {
	mu       sync.Mutex
	objects  map[string]string
	failures map[string]int
	calls    map[string]int
}

func (f *fakeBucket) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := *in.Key
	f.calls[key]++
	if f.failures[key] > 0 {
		f.failures[key]--
		return nil, errors.New("connection reset")
	}
	body, ok := f.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func newFakeBucket(objects map[string]string) *fakeBucket {
	return &fakeBucket{objects: objects, failures: map[string]int{}, calls: map[string]int{}}
}

func newTestSyncer(client ObjectGetter) *Syncer {
	s := NewSyncer(client, "models", zap.NewNop())
	s.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
	}
	return s
}

func TestSyncDownloadsMissingArtifacts(t *testing.T) {
	dir := t.TempDir()
	bucket := newFakeBucket(map[string]string{"w.npz": "weights", "m.onnx": "model"})

	err := newTestSyncer(bucket).Sync(context.Background(), []Object{
		{Key: "w.npz", Path: filepath.Join(dir, "models", "w.npz")},
		{Key: "m.onnx", Path: filepath.Join(dir, "models", "m.onnx")},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "models", "w.npz"))
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))

	entries, err := os.ReadDir(filepath.Join(dir, "models"))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temporary files left behind")
}

func TestSyncSkipsPresentFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "w.npz")
	require.NoError(t, os.WriteFile(path, []byte("local"), 0o644))
	bucket := newFakeBucket(map[string]string{"w.npz": "remote"})

	require.NoError(t, newTestSyncer(bucket).Sync(context.Background(), []Object{{Key: "w.npz", Path: path}}))

	data, _ := os.ReadFile(path)
	assert.Equal(t, "local", string(data))
	assert.Zero(t, bucket.calls["w.npz"])
}

func TestSyncSkipsMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "w.npz")
	bucket := newFakeBucket(nil)

	require.NoError(t, newTestSyncer(bucket).Sync(context.Background(), []Object{{Key: "w.npz", Path: path}}))
	assert.NoFileExists(t, path)
	assert.Equal(t, 1, bucket.calls["w.npz"])
}

func TestSyncRetriesTransientErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "w.npz")
	bucket := newFakeBucket(map[string]string{"w.npz": "weights"})
	bucket.failures["w.npz"] = 2

	require.NoError(t, newTestSyncer(bucket).Sync(context.Background(), []Object{{Key: "w.npz", Path: path}}))
	assert.FileExists(t, path)
	assert.Equal(t, 3, bucket.calls["w.npz"])
}

func TestSyncGivesUp(t *testing.T) {
	bucket := newFakeBucket(map[string]string{"w.npz": "weights"})
	bucket.failures["w.npz"] = 10

	err := newTestSyncer(bucket).Sync(context.Background(), []Object{{Key: "w.npz", Path: filepath.Join(t.TempDir(), "w.npz")}})
	assert.ErrorContains(t, err, "connection reset")
	assert.Equal(t, 4, bucket.calls["w.npz"])
}
