package adapter

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const reloadDebounce = time.Second

// WatchConfig reloads the config file whenever it is written and hands the
// new config to onChange. Bursts of writes collapse into one reload.
// It returns when ctx is done, or immediately if no config file was loaded.
func WatchConfig(ctx context.Context, logger *slog.Logger, onChange func(*Config)) error {
	if logger == nil {
		logger = slog.Default()
	}

	file := viper.ConfigFileUsed()
	if file == "" {
		return nil
	}
	file, err := filepath.Abs(file)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors often replace the file instead of writing it
	if err := watcher.Add(filepath.Dir(file)); err != nil {
		return err
	}

	timer := time.NewTimer(reloadDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != file {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				timer.Reset(reloadDebounce)
			}
		case <-timer.C:
			cfg, err := readConfig()
			if err != nil {
				logger.Error("failed to reload config", "error", err, "file", file)
				continue
			}
			logger.Info("config reloaded", "file", file)
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("config watcher error", "error", err)
		}
	}
}
