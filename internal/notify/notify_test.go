package notify

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func startWatcher(t *testing.T, path string, onChange func(context.Context) error) *FileWatcher {
	t.Helper()
	fw := NewFileWatcher(path, 50*time.Millisecond, onChange, zaptest.NewLogger(t))
	require.NoError(t, fw.Start(context.Background()))
	t.Cleanup(fw.Stop)
	// Give fsnotify a moment to register
	time.Sleep(50 * time.Millisecond)
	return fw
}

func TestFileWatcher_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schools.csv")
	require.NoError(t, os.WriteFile(path, []byte("urn\n"), 0o600))

	var calls atomic.Int32
	startWatcher(t, path, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("urn,school_name\n"), 0o600))
	}

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())
}

func TestFileWatcher_SeesReplaceByRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schools.csv")
	require.NoError(t, os.WriteFile(path, []byte("urn\n"), 0o600))

	changed := make(chan struct{}, 1)
	startWatcher(t, path, func(context.Context) error {
		select {
		case changed <- struct{}{}:
		default:
		}
		return nil
	})

	tmp := filepath.Join(dir, "schools.csv.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("urn,school_name\n"), 0o600))
	require.NoError(t, os.Rename(tmp, path))

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for change")
	}
}

func TestFileWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schools.csv")
	require.NoError(t, os.WriteFile(path, []byte("urn\n"), 0o600))

	var calls atomic.Int32
	startWatcher(t, path, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	time.Sleep(300 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestFileWatcher_StopIsIdempotent(t *testing.T) {
	fw := NewFileWatcher(filepath.Join(t.TempDir(), "x.csv"), 0, func(context.Context) error { return nil }, nil)
	assert.Equal(t, DefaultDebounce, fw.debounce)
	fw.Stop()
	fw.Stop()
}

func TestFileWatcher_MissingDirectory(t *testing.T) {
	fw := NewFileWatcher(filepath.Join(t.TempDir(), "missing", "x.csv"), 0, func(context.Context) error { return nil }, nil)
	require.Error(t, fw.Start(context.Background()))
	fw.Stop()
}
