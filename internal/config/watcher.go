package config

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/smazurov/camnode/internal/logging"
	"github.com/smazurov/camnode/internal/params"
)

// Watcher watches a configuration file and notifies typed handlers
// when the file changes. Config is loaded fresh on each change so
// handlers never receive stale data.
//
// The parent directory is watched rather than the file itself so that
// editors which save by rename keep triggering reloads. A change that leaves
// the file content identical, such as camnode rewriting its own parameter
// file, does not notify handlers.
type Watcher[T any] struct {
	path     string
	dir      string
	sum      [sha256.Size]byte // content at the last load, owned by watch()
	debounce time.Duration
	loader   func(path string) (T, error)
	onError  func(error)

	mu       sync.RWMutex
	handlers map[uint64]func(T)
	nextID   uint64

	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// WatcherOption configures a Watcher.
type WatcherOption[T any] func(*Watcher[T])

// WithDebounce sets the debounce duration for config changes.
// Default is 1500ms.
func WithDebounce[T any](d time.Duration) WatcherOption[T] {
	return func(w *Watcher[T]) {
		w.debounce = d
	}
}

// WithErrorHandler sets a callback for config load errors.
// If not set, errors are only logged.
func WithErrorHandler[T any](handler func(error)) WatcherOption[T] {
	return func(w *Watcher[T]) {
		w.onError = handler
	}
}

// NewConfigWatcher creates a new typed configuration file watcher.
// The loader function is called fresh on every file change to ensure
// handlers always receive up-to-date config data.
func NewConfigWatcher[T any](
	path string,
	loader func(path string) (T, error),
	logger *slog.Logger,
	opts ...WatcherOption[T],
) *Watcher[T] {
	ctx, cancel := context.WithCancel(context.Background())
	path = filepath.Clean(path)
	w := &Watcher[T]{
		path:     path,
		dir:      filepath.Dir(path),
		debounce: 1500 * time.Millisecond,
		loader:   loader,
		handlers: make(map[uint64]func(T)),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnReload registers a handler to be called with each freshly loaded
// value. Handlers run in registration order. The returned function
// removes the handler and is safe to call more than once.
func (w *Watcher[T]) OnReload(handler func(T)) func() {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.handlers[id] = handler
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.handlers, id)
		w.mu.Unlock()
	}
}

// Start begins watching the configuration file for changes.
func (w *Watcher[T]) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	if addErr := watcher.Add(w.dir); addErr != nil {
		watcher.Close()
		return addErr
	}

	if data, readErr := os.ReadFile(w.path); readErr == nil {
		w.sum = sha256.Sum256(data)
	}

	w.logger.Info("Config watcher started", "path", w.path, "debounce", w.debounce)
	go w.watch()
	return nil
}

// Stop stops watching and cleans up resources.
func (w *Watcher[T]) Stop() error {
	w.cancel()
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

// watch coalesces bursts of events on the file into one reload after the
// debounce interval.
func (w *Watcher[T]) watch() {
	debounce := time.NewTimer(w.debounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.logger.Debug("Config watcher stopped", "path", w.path)
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// Writes in place, or a new file renamed over the old one.
			if filepath.Clean(event.Name) != w.path || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.logger.Debug("Config file change detected", "op", event.Op.String())
			debounce.Reset(w.debounce)

		case <-debounce.C:
			w.loadAndNotify()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", "error", err)
		}
	}
}

// loadAndNotify calls the loader and hands the result to every handler.
// Unchanged content and load failures notify nobody.
func (w *Watcher[T]) loadAndNotify() {
	if data, err := os.ReadFile(w.path); err == nil {
		sum := sha256.Sum256(data)
		if sum == w.sum {
			w.logger.Debug("Config file content unchanged, skipping reload", "path", w.path)
			return
		}
		w.sum = sum
	}

	value, err := w.loader(w.path)
	if err != nil {
		w.logger.Warn("Failed to load config", "path", w.path, "error", err)
		if w.onError != nil {
			w.onError(err)
		}
		return
	}
	w.logger.Info("Config file changed, notifying handlers", "path", w.path)

	w.mu.RLock()
	ids := slices.Sorted(maps.Keys(w.handlers))
	handlers := make([]func(T), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, w.handlers[id])
	}
	w.mu.RUnlock()

	for _, handler := range handlers {
		handler(value)
	}
}

// NewLoggingWatcher returns a watcher that re-applies [logging] levels
// from path whenever it changes. Handlers and format are left as they are.
func NewLoggingWatcher(path string, logger *slog.Logger, opts ...WatcherOption[logging.Config]) *Watcher[logging.Config] {
	w := NewConfigWatcher(path, ReadLoggingConfig, logger, opts...)
	w.OnReload(func(cfg logging.Config) {
		logging.SetLevels(cfg)
		logger.Info("Logging levels reloaded", "level", cfg.Level, "modules", len(cfg.Modules))
	})
	return w
}

// NewParamsWatcher returns a watcher that reloads store when its parameter
// file is edited outside camnode. Handlers receive the number of cameras
// with saved parameter sets.
func NewParamsWatcher(store *params.Store, logger *slog.Logger, opts ...WatcherOption[int]) *Watcher[int] {
	load := func(string) (int, error) {
		if err := store.Load(); err != nil {
			return 0, err
		}
		return len(store.Serials()), nil
	}
	w := NewConfigWatcher(store.Path(), load, logger, opts...)
	w.OnReload(func(cameras int) {
		logger.Info("Parameter sets reloaded", "file", store.Path(), "cameras", cameras)
	})
	return w
}
