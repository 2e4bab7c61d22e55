package loader

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the search path and invalidates cached templates when
// their files change.
type Watcher struct {
	watcher *fsnotify.Watcher
	loader  *Loader
	log     Logger

	// Track last change time to debounce rapid changes
	mu         sync.Mutex
	lastChange time.Time
	changeSeq  uint64
}

// NewWatcher creates a watcher over the loader's search path.
func NewWatcher(l *Loader) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{watcher: fsWatcher, loader: l, log: l.log}, nil
}

// Start adds the search path directories recursively and begins the event
// loop. The loop stops when ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	for _, dir := range w.loader.config.SearchPath {
		if err := w.watchDirRecursive(dir); err != nil {
			w.log.Errorf("failed to watch %s: %v", dir, err)
		} else {
			w.log.Infof("watching %s", dir)
		}
	}
	go w.eventLoop(ctx)
	return nil
}

// watchDirRecursive adds a directory and its subdirectories to the watch
// list, skipping hidden directories.
func (w *Watcher) watchDirRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if strings.HasPrefix(info.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) eventLoop(ctx context.Context) {
	// wait for rapid changes to settle
	const debounce = 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			w.mu.Lock()
			if time.Since(w.lastChange) < debounce {
				w.mu.Unlock()
				continue
			}
			w.lastChange = time.Now()
			w.changeSeq++
			w.mu.Unlock()

			w.handleFileChange(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Errorf("watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleFileChange(event fsnotify.Event) {
	path := event.Name

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := w.watchDirRecursive(path); err != nil {
				w.log.Errorf("failed to watch new dir %s: %v", path, err)
			}
			return
		}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if w.loader.Cached(abs) {
		w.loader.Invalidate(abs)
		w.log.Infof("template changed: %s", path)
	}
}

// ChangeSeq returns the change sequence number, incremented on each
// debounced change.
func (w *Watcher) ChangeSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.changeSeq
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
