// Package notify watches a data file and reports when it changes.
package notify

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/scrypster/schoolintel/internal/logger"
)

// DefaultDebounce collapses the burst of events an editor or export job
// produces for one save.
const DefaultDebounce = 500 * time.Millisecond

// FileWatcher calls onChange after the watched file is written, created or
// replaced. Events are debounced so one save triggers one call.
type FileWatcher struct {
	path     string
	debounce time.Duration
	onChange func(ctx context.Context) error
	logger   *zap.Logger

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// NewFileWatcher creates a watcher for path. A debounce of zero uses
// DefaultDebounce.
func NewFileWatcher(path string, debounce time.Duration, onChange func(ctx context.Context) error, log *zap.Logger) *FileWatcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &FileWatcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		onChange: onChange,
		logger:   logger.OrNop(log).With(zap.String("component", "file_watcher"), zap.String("path", path)),
		done:     make(chan struct{}),
	}
}

// Start begins watching. The parent directory is watched rather than the
// file itself so atomic replace-by-rename is seen. Call Stop to clean up.
func (fw *FileWatcher) Start(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(fw.path)); err != nil {
		_ = w.Close()
		return err
	}
	fw.watcher = w

	ctx, fw.cancel = context.WithCancel(ctx)
	go fw.loop(ctx)
	fw.logger.Info("watching data file for changes")
	return nil
}

// Stop shuts down the watcher and waits for the event loop to exit.
func (fw *FileWatcher) Stop() {
	fw.once.Do(func() {
		if fw.watcher == nil {
			close(fw.done)
			return
		}
		fw.cancel()
		_ = fw.watcher.Close()
		<-fw.done
	})
}

func (fw *FileWatcher) loop(ctx context.Context) {
	defer close(fw.done)

	timer := time.NewTimer(fw.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != fw.path {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(fw.debounce)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn("watcher error", zap.Error(err))
		case <-timer.C:
			if err := fw.onChange(ctx); err != nil {
				fw.logger.Error("reload after change failed", zap.Error(err))
				continue
			}
			fw.logger.Info("reloaded after change")
		}
	}
}
