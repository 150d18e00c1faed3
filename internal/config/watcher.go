package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watcher reloads the configuration file when it changes on disk and invokes
// a callback with the freshly parsed result.
type Watcher struct {
	configFile string
	onReload   func(*Config)
}

// NewWatcher creates a configuration watcher for the given file.
//
// Parameters:
//   - configFile: The path to the YAML configuration file
//   - onReload: Invoked with the new configuration after a successful reload
//
// Returns:
//   - *Watcher: A new watcher instance
func NewWatcher(configFile string, onReload func(*Config)) *Watcher {
	return &Watcher{configFile: configFile, onReload: onReload}
}

// Start begins watching the configuration file until the context is
// cancelled. Editors often replace files via rename, so the parent directory
// is watched and events are filtered by name. Reloads are debounced because
// a single save can emit several events.
//
// Returns:
//   - error: An error if the filesystem watcher could not be created
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err = watcher.Add(filepath.Dir(w.configFile)); err != nil {
		_ = watcher.Close()
		return err
	}

	go func() {
		defer func() {
			_ = watcher.Close()
		}()

		var reloadTimer *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(w.configFile) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if reloadTimer != nil {
					reloadTimer.Stop()
				}
				reloadTimer = time.AfterFunc(200*time.Millisecond, w.reload)
			case errWatch, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Errorf("config watcher error: %v", errWatch)
			}
		}
	}()

	log.Debugf("watching config file %s", w.configFile)
	return nil
}

func (w *Watcher) reload() {
	cfg, err := LoadConfig(w.configFile)
	if err != nil {
		log.Errorf("config reload failed, keeping previous configuration: %v", err)
		return
	}
	log.Info("configuration reloaded")
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
