package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	logging "github.com/op/go-logging"
)

// Watch re-reads the local config file whenever it is rewritten and passes
// the newly loaded Config to onReload; applying it is left to onReload. It
// does nothing (and returns a no-op stop func and a nil error) for an
// s3://-loaded config, which has no local file to watch.
func Watch(cfg *Config, log *logging.Logger, onReload func(*Config)) (stop func(), err error) {
	if cfg.path == "" {
		return func() {}, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: creating watcher: %w", err)
	}
	if err := watcher.Add(cfg.path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watching %s: %w", cfg.path, err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				reloaded, err := Load(cfg.path, "", "", cfg.AwsRegion)
				if err != nil {
					log.Warning(fmt.Sprintf("config: reload of %s failed: %s", cfg.path, err.Error()))
					continue
				}
				log.Notice(fmt.Sprintf("config: reloaded %s", cfg.path))
				onReload(reloaded)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warning(fmt.Sprintf("config: watcher error: %s", err.Error()))
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
