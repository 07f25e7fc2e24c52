package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDebounce matches the teacher's DocWatcher default: editors
// often emit several events (write, chmod, rename-swap) for one save.
const defaultDebounce = 500 * time.Millisecond

// Watcher watches a config file for changes and reloads it, supporting
// the capability-profile hot reload described in the ambient
// configuration design: an administrator edits the file on disk and the
// running process picks up the new profile definitions without a
// restart. Grounded on the teacher's processor/source-ingester
// DocWatcher debounce loop.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	onChange func(*Config)
	onError  func(error)

	watcher *fsnotify.Watcher

	pendingMu sync.Mutex
	pending   bool
}

// NewWatcher constructs a Watcher for the config file at path. onChange
// is called with the newly loaded and validated Config after every
// debounced batch of file-system events; onChange is never called with
// a config that failed Validate. onError, if non-nil, is called with
// reload failures instead of only being logged.
func NewWatcher(path string, logger *slog.Logger, onChange func(*Config), onError func(error)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     path,
		debounce: defaultDebounce,
		logger:   logger,
		onChange: onChange,
		onError:  onError,
		watcher:  fsw,
	}, nil
}

// Start begins watching the config file's parent directory — watching
// the directory rather than the file itself survives editors that save
// by writing a temp file and renaming it over the original, which
// otherwise orphans a direct file watch.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	go w.run(ctx)
	w.logger.Info("config watcher started", "path", w.path, "debounce", w.debounce)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			w.pendingMu.Lock()
			w.pending = true
			w.pendingMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)

		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) flush() {
	w.pendingMu.Lock()
	if !w.pending {
		w.pendingMu.Unlock()
		return
	}
	w.pending = false
	w.pendingMu.Unlock()

	cfg, err := LoadFromFile(w.path)
	if err != nil {
		w.logger.Warn("config reload failed", "path", w.path, "error", err)
		if w.onError != nil {
			w.onError(err)
		}
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Warn("reloaded config failed validation, keeping previous config", "path", w.path, "error", err)
		if w.onError != nil {
			w.onError(err)
		}
		return
	}

	cfg.ApplyCapabilities()
	w.logger.Info("config reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
