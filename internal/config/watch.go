package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"certmill/internal/pkg/errors"
	"certmill/internal/pkg/logger"
)

// watchDebounce absorbs editor write storms (rename+write+chmod) into
// a single reload.
const watchDebounce = 250 * time.Millisecond

// Watch re-loads the config file whenever it changes and hands the new
// config to onChange. It blocks until ctx is canceled. Reload failures
// are logged and the previous config stays in effect.
func Watch(ctx context.Context, path string, log *logger.Logger, onChange func(Config)) error {
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("config.watch")

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "config.watch", "failed to create file watcher")
	}
	defer w.Close()

	// Watch the directory, not the file: editors replace files by
	// rename, which drops a file-level watch.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return errors.Wrapf(err, "config.watch", "failed to watch %q", path)
	}
	log.Info("watching config file", "path", path)

	var timer *time.Timer
	reload := func() {
		cfg, err := Load(path)
		if err != nil {
			log.Warn("config reload failed, keeping previous config", "error", err.Error())
			return
		}
		log.Info("config reloaded", "path", path)
		onChange(cfg)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, reload)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", "error", err.Error())
		}
	}
}
