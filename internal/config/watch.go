package config

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch watches path for write/create events and invokes onChange on each
// one. A watch failure (missing file, inotify limits, ...) is logged and
// treated as "reload disabled" rather than fatal, matching the Tool
// Coordinator's own fsnotify watcher.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func()) {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("config hot-reload disabled: could not create watcher", "error", err)
		return
	}
	if err := watcher.Add(path); err != nil {
		logger.Warn("config hot-reload disabled: could not watch path", "path", path, "error", err)
		watcher.Close()
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				onChange()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "error", err)
			}
		}
	}()
}
