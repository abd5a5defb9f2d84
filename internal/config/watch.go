package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"cdpbridge/internal/logging"
)

// Watch reloads path whenever it is written or recreated and passes the new
// configuration to onChange. Invalid files are logged and skipped. Watch
// blocks until ctx is done.
//
// The parent directory is watched rather than the file so that editors
// which replace the file by rename keep triggering reloads.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	log := logging.Get(logging.CategoryConfig)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(abs)
			if err == nil {
				err = cfg.Validate()
			}
			if err != nil {
				log.Warn("ignoring config change in %s: %v", abs, err)
				continue
			}
			log.Info("reloaded %s", abs)
			onChange(cfg)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watch: %v", err)
		}
	}
}
