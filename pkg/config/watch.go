package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cin-tie/remote-shell/internal/logger"
)

// reloadDelay coalesces the burst of events an editor save produces.
const reloadDelay = 100 * time.Millisecond

// Watch reloads the configuration file whenever it changes on disk and hands
// the result to onChange. Edits that fail to load or validate are logged and
// skipped. The parent directory is watched so that editors replacing the
// file by rename are noticed.
//
// An empty configPath watches the default location. Watch returns nil at
// once when the file does not exist, and otherwise blocks until ctx is done.
func Watch(ctx context.Context, configPath string, onChange func(*Config)) error {
	if configPath == "" {
		configPath = GetDefaultConfigPath()
	}
	path, err := filepath.Abs(configPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	logger.Debug("Watching configuration file", logger.KeyPath, path)

	timer := time.NewTimer(reloadDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			timer.Reset(reloadDelay)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Configuration watcher error", logger.Err(err))

		case <-timer.C:
			cfg, err := Load(path)
			if err != nil {
				logger.Warn("Ignoring invalid configuration change", logger.KeyPath, path, logger.Err(err))
				continue
			}
			onChange(cfg)
		}
	}
}
