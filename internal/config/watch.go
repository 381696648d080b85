package config

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces bursts of filesystem events (editors and log
// writers often emit several writes per save) into a single change signal.
const debounceWindow = 2 * time.Second

// Watch monitors the given paths and calls onChange with the path that
// changed each time one of them is written or recreated. It runs until ctx
// is cancelled. Paths that do not exist yet are skipped with a warning so a
// missing optional input does not kill the watcher.
//
// Changes arriving within debounceWindow of the last delivered signal are
// coalesced; onChange sees at most one call per window.
func Watch(ctx context.Context, paths []string, onChange func(path string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	watched := 0
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := watcher.Add(p); err != nil {
			slog.Warn("config: cannot watch path — skipping", "path", p, "err", err)
			continue
		}
		watched++
	}
	if watched == 0 {
		slog.Warn("config: no watchable paths — watcher idle")
	}
	slog.Info("config: watching for changes", "paths", watched)

	var lastFired time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Only react to write or create events. Editors often write via
			// rename (atomic save), so also catch fsnotify.Create.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if time.Since(lastFired) < debounceWindow {
				continue
			}
			lastFired = time.Now()

			slog.Info("config: input changed", "path", event.Name)
			onChange(event.Name)

			// Re-add the file in case an atomic save replaced the inode.
			_ = watcher.Add(event.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}
