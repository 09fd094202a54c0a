package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a config file when it changes on disk.
//
// Editors and config management tools often replace files atomically
// (write temp + rename), so the watcher watches the parent directory and
// filters events for the target file. Change bursts are debounced.
type Watcher struct {
	path     string
	onChange func()

	mu       sync.Mutex
	debounce time.Duration
	pending  *time.Timer
}

// NewWatcher creates a watcher for path. onChange is invoked after each
// (debounced) modification; the callback is responsible for calling Load
// and swapping the live config.
func NewWatcher(path string, onChange func()) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		onChange: onChange,
		debounce: 250 * time.Millisecond,
	}
}

// Run watches until ctx is cancelled. Returns the fsnotify setup error, if
// any; watch-loop errors are swallowed (a broken watcher must not take the
// process down).
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.fire()
		case _, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
		}
	}
}

// fire schedules the onChange callback, coalescing rapid event bursts.
func (w *Watcher) fire() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounce, w.onChange)
}
