package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 100 * time.Millisecond

// Watch reloads the settings file at path whenever it changes and hands the
// result to fn. It blocks until ctx is done. A file that fails to load or
// validate is logged and skipped; fn only ever sees valid settings.
//
// The parent directory is watched rather than the file, so editors that
// save by renaming a temporary file are picked up too.
func Watch(ctx context.Context, path string, fn func(*Settings)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config: watch %s: %w", filepath.Dir(abs), err)
	}

	timer := time.NewTimer(watchDebounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(watchDebounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Settings watcher error", "path", abs, "error", err)

		case <-timer.C:
			s, err := Load(abs)
			if err != nil {
				slog.Warn("Ignoring settings change", "path", abs, "error", err)
				continue
			}
			slog.Info("Settings reloaded", "path", abs)
			fn(s)
		}
	}
}
