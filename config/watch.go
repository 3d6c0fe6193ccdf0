package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-reads the config file when it changes on disk and hands
// the validated result to the callback. Invalid intermediate saves are
// ignored; the previous config stays in effect.
type Watcher struct {
	Path     string
	Cooldown time.Duration // minimum gap between reloads
}

// Start blocks until ctx is canceled. Editors often replace files by
// rename, so the parent directory is watched rather than the file.
func (w Watcher) Start(ctx context.Context, onUpdate func(AppConfig)) error {
	cooldown := w.Cooldown
	if cooldown <= 0 {
		cooldown = 2 * time.Second
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(w.Path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	target := filepath.Clean(w.Path)
	var lastReload time.Time
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
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if time.Since(lastReload) < cooldown {
				continue
			}
			cfg, err := LoadWithEnvOverrides(w.Path)
			if err != nil {
				continue
			}
			lastReload = time.Now()
			if onUpdate != nil {
				onUpdate(cfg)
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}
