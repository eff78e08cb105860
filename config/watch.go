package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/contentplane/governor/errors"
)

// Watch re-reads the safety flags from configPath whenever the file changes
// and pushes them into source. This is the kill-switch reload hook: flipping
// safe_mode in the file freezes all executions without a restart.
//
// Watch blocks until ctx is cancelled; run it in its own goroutine.
func Watch(ctx context.Context, configPath string, source *SafetySource, log *zap.SugaredLogger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create config watcher")
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors replace files on save,
	// which drops a file-level watch.
	dir := filepath.Dir(configPath)
	if err := watcher.Add(dir); err != nil {
		return errors.Wrapf(err, "failed to watch config directory %s", dir)
	}

	log.Infow("Watching config for safety flag changes", "path", configPath)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(configPath) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := LoadFromFile(configPath)
			if err != nil {
				// Keep the last known-good flags on a broken reload
				log.Warnw("Config reload failed, keeping current safety flags",
					"path", configPath,
					"error", err)
				continue
			}

			prev := source.Current()
			source.Set(cfg.Safety)
			if prev != cfg.Safety {
				log.Warnw("Safety flags changed",
					"safe_mode", cfg.Safety.SafeMode,
					"feature_freeze", cfg.Safety.FeatureFreeze)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnw("Config watcher error", "error", err)
		}
	}
}
