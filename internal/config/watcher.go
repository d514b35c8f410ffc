package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces the multiple write events editors emit for one
// save, and skips partially written files.
const debounceDelay = 250 * time.Millisecond

// Watcher reloads the config file on change and hands validated snapshots to
// a callback. A file that fails to parse or validate keeps the previous
// snapshot in effect.
type Watcher struct {
	path    string
	logger  *slog.Logger
	onApply func(Config)

	mu      sync.Mutex
	current Config
	timer   *time.Timer
}

// NewWatcher builds a watcher for the config file at path. onApply runs after
// every accepted change.
func NewWatcher(path string, initial Config, onApply func(Config), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:    path,
		logger:  logger.With("component", "config-watcher"),
		onApply: onApply,
		current: initial,
	}
}

// Current returns the last accepted snapshot.
func (w *Watcher) Current() Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Watch blocks until ctx is done, applying config file changes as they
// arrive. The directory is watched rather than the file so rename-based
// saves keep working.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceDelay, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config change rejected", "error", err)
		return
	}

	w.mu.Lock()
	w.current = cfg
	onApply := w.onApply
	w.mu.Unlock()

	w.logger.Info("config change applied", "path", w.path)
	if onApply != nil {
		onApply(cfg)
	}
}
