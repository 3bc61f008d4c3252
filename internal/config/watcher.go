package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the config file on change and notifies a callback with
// the new configuration. Only runtime-safe settings (log level) should be
// applied from the callback; everything else needs a restart.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	done    chan struct{}
}

// Watch starts watching path. onChange runs on the watcher goroutine after
// every successful reload.
func Watch(path string, logger *zap.Logger, onChange func(*Config)) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory: editors replace files on save, which drops
	// a watch registered on the file itself.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}

	w := &Watcher{path: path, watcher: fw, logger: logger, done: make(chan struct{})}
	go w.run(onChange)
	return w, nil
}

func (w *Watcher) run(onChange func(*Config)) {
	defer close(w.done)

	var debounce <-chan time.Time
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce = time.After(250 * time.Millisecond)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		case <-debounce:
			debounce = nil
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("config reload failed", zap.Error(err))
				continue
			}
			w.logger.Info("config reloaded", zap.String("path", w.path))
			onChange(cfg)
		}
	}
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
