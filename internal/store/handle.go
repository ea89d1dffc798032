package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the write+rename event burst a build produces.
const reloadDebounce = 200 * time.Millisecond

// IndexHandle serves the current vector index generation and swaps in a new
// one whenever the index file is replaced on disk. Readers always see a
// complete generation; a half-written file never becomes visible because
// builds rename over the target atomically.
type IndexHandle struct {
	cfg     VectorConfig
	path    string
	logger  *slog.Logger
	current atomic.Pointer[VectorIndex]
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// OpenIndexHandle loads the index at path and starts watching its directory
// for replacement.
func OpenIndexHandle(path string, cfg VectorConfig, logger *slog.Logger) (*IndexHandle, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil, fmt.Errorf("index handle requires a path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	h := &IndexHandle{cfg: cfg, path: path, logger: logger, done: make(chan struct{})}
	h.current.Store(NewVectorIndex(cfg, path, logger))

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create index watcher: %w", err)
	}
	// Watch the directory, not the file: renames replace the inode.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch index directory: %w", err)
	}
	h.watcher = watcher

	go h.watch()
	return h, nil
}

// Index returns the currently served generation.
func (h *IndexHandle) Index() *VectorIndex {
	return h.current.Load()
}

// Search proxies to the current generation.
func (h *IndexHandle) Search(q []float32, k int) ([]Neighbor, error) {
	return h.current.Load().Search(q, k)
}

// Reload forces a reload of the index from disk.
func (h *IndexHandle) Reload() {
	idx := NewVectorIndex(h.cfg, h.path, h.logger)
	h.current.Store(idx)
	h.logger.Info("vector index reloaded",
		slog.String("path", h.path),
		slog.Int("count", idx.Count()),
		slog.String("mode", string(idx.Mode())))
}

// Close stops the watcher. The served index stays usable.
func (h *IndexHandle) Close() error {
	close(h.done)
	return h.watcher.Close()
}

func (h *IndexHandle) watch() {
	base := filepath.Base(h.path)
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-h.done:
			return
		case ev, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			h.Reload()
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Warn("index watcher error", slog.String("error", err.Error()))
		}
	}
}
