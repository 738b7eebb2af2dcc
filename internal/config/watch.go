package config

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Config from disk whenever its source file changes: an
// fsnotify.Watcher on the directory (not the file itself, since editors
// commonly replace-via-rename rather than write-in-place) feeding a
// debounced reload so a burst of writes from one save collapses into one
// Load call.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration
	onReload func(Config, error)
	cancel   context.CancelFunc
}

// NewWatcher builds a Watcher for the config file at path. onReload is
// invoked with the freshly parsed Config (or a non-nil error if the
// rewritten file failed to parse) after each debounced change.
func NewWatcher(path string, onReload func(Config, error)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := directoryOf(path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return &Watcher{watcher: fsw, path: path, debounce: 250 * time.Millisecond, onReload: onReload}, nil
}

// Start begins watching in the background until Stop is called.
func (w *Watcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.loop(ctx)
}

func (w *Watcher) loop(ctx context.Context) {
	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				cfg, err := Load(w.path)
				if w.onReload != nil {
					w.onReload(cfg, err)
				}
			})
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Stop halts the watcher and releases the underlying OS handle.
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	return w.watcher.Close()
}

func directoryOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
