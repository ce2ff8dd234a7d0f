package config

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events editors emit for one save.
const DefaultDebounce = 100 * time.Millisecond

// Watcher reloads a config file whenever it changes on disk.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	w        *fsnotify.Watcher
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithDebounce sets how long the watcher waits for further events before
// reloading.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatchLogger sets the logger for reload events.
func WithWatchLogger(logger *slog.Logger) WatchOption {
	return func(w *Watcher) { w.logger = logger }
}

// NewWatcher watches the directory holding path, so that files replaced by
// rename are still picked up.
func NewWatcher(path string, opts ...WatchOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     abs,
		debounce: DefaultDebounce,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		w:        fw,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run delivers each successfully reloaded config to onChange and each load
// or watch error to onError until ctx is done. Both callbacks run on the
// caller's goroutine.
func (w *Watcher) Run(ctx context.Context, onChange func(*SimConfig), onError func(error)) error {
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-w.w.Errors:
			if !ok {
				return nil
			}
			if onError != nil {
				onError(err)
			}
		case <-timer.C:
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("config reload failed", "path", w.path, "error", err)
				if onError != nil {
					onError(err)
				}
				continue
			}
			w.logger.Info("config reloaded", "path", w.path)
			onChange(cfg)
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.w.Close()
}

// Watch runs a Watcher for path until ctx is done.
func Watch(ctx context.Context, path string, onChange func(*SimConfig), onError func(error), opts ...WatchOption) error {
	w, err := NewWatcher(path, opts...)
	if err != nil {
		return err
	}
	defer w.Close()
	return w.Run(ctx, onChange, onError)
}
