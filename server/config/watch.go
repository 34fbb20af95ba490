package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/fsnotify/fsnotify"
)

// Editors often write a file in several steps, so we wait for the writes to settle before reloading
const watchSettleTime = 100 * time.Millisecond

// Watch reloads the settings file whenever it changes, and calls onChange with the new settings.
// A file that fails to load is logged and ignored, so the previous settings remain in effect.
// Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, log logs.Log, filename string, onChange func(cfg *Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory rather than the file, because many editors replace the file on save
	abs, err := filepath.Abs(filename)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			settle = time.After(watchSettleTime)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("Settings watcher error: %v", err)
		case <-settle:
			settle = nil
			cfg, err := Load(log, abs)
			if err != nil {
				log.Errorf("Failed to reload settings: %v", err)
				continue
			}
			onChange(cfg)
		}
	}
}
