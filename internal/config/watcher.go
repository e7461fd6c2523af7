package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchSettings reloads rt whenever the settings file in rt's home changes,
// until ctx is cancelled. The directory is watched rather than the file
// because atomic writes replace the file by rename.
func WatchSettings(ctx context.Context, rt *Runtime, logger *zap.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating settings watcher: %w", err)
	}
	defer watcher.Close()

	if err := EnsureHome(rt.home); err != nil {
		return err
	}
	if err := watcher.Add(rt.home); err != nil {
		return fmt.Errorf("watching %s: %w", rt.home, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != SettingsFileName {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			s, err := rt.Reload()
			if err != nil {
				logger.Warn("settings reload failed", zap.Error(err))
				continue
			}
			logger.Info("settings reloaded",
				zap.Int("validation_threshold", s.ValidationThreshold),
				zap.String("response_format", s.ResponseFormat))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("settings watcher error", zap.Error(err))
		}
	}
}
