package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/fedid/fedid/internal/logger"
)

// Watcher watches a configuration file and reloads it on change.
//
// Only a successful reload reaches the callback; a config file that fails to
// parse or validate is logged and ignored, keeping the last good
// configuration in effect. The watcher observes the parent directory rather
// than the file itself so atomic replaces (write to temp, rename) are seen.
//
// Thread Safety: all methods are safe for concurrent use.
type Watcher struct {
	path     string
	onChange func(*Config)
	watcher  *fsnotify.Watcher
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewWatcher creates a watcher for the given config file (not yet started).
// The callback runs on the watcher goroutine for every successful reload.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	if path == "" {
		path = GetDefaultConfigPath()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		path:     abs,
		onChange: onChange,
		watcher:  fsw,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins watching the config file for changes.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go w.loop()

	logger.Info("Config hot-reload started", "path", w.path)
	return nil
}

// Stop stops the watcher. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
	})
}

// loop consumes filesystem events until the watcher is stopped.
func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Error("Config watcher error", "path", w.path, "error", err)
		case <-w.stopCh:
			return
		}
	}
}

// reload re-reads the config file and invokes the callback on success.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		logger.Error("Config reload failed, keeping previous configuration",
			"path", w.path,
			"error", err,
		)
		return
	}

	logger.Info("Config reloaded", "path", w.path)
	w.onChange(cfg)
}
