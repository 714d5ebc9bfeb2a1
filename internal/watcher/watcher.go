// Package watcher watches the configuration file and triggers hot reloads.
// It supports cross-platform fsnotify event handling.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/router-for-me/codexgate/internal/config"
)

// Loader reads and validates the configuration at path.
type Loader func(path string) (*config.Config, error)

// Watcher reloads the configuration when its file changes and hands the new value to
// the reload callback.
type Watcher struct {
	configPath        string
	load              Loader
	reloadCallback    func(*config.Config)
	watcher           *fsnotify.Watcher
	mu                sync.RWMutex
	config            *config.Config
	lastConfigHash    string
	configReloadMu    sync.Mutex
	configReloadTimer *time.Timer
}

// configReloadDebounce coalesces the bursts of events editors emit for one save.
const configReloadDebounce = 150 * time.Millisecond

// NewWatcher creates a watcher for configPath. load defaults to config.LoadConfig.
func NewWatcher(configPath string, load Loader, reloadCallback func(*config.Config)) (*Watcher, error) {
	fsWatcher, errNewWatcher := fsnotify.NewWatcher()
	if errNewWatcher != nil {
		return nil, errNewWatcher
	}
	if load == nil {
		load = config.LoadConfig
	}
	absPath, errAbs := filepath.Abs(configPath)
	if errAbs != nil {
		absPath = configPath
	}
	return &Watcher{
		configPath:     filepath.Clean(absPath),
		load:           load,
		reloadCallback: reloadCallback,
		watcher:        fsWatcher,
	}, nil
}

// Start begins watching the configuration file.
func (w *Watcher) Start(ctx context.Context) error {
	return w.start(ctx)
}

// Stop stops the file watcher.
func (w *Watcher) Stop() error {
	w.stopConfigReloadTimer()
	return w.watcher.Close()
}

// SetConfig records the configuration currently in effect.
func (w *Watcher) SetConfig(cfg *config.Config) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.config = cfg
}

// Config returns the configuration currently in effect.
func (w *Watcher) Config() *config.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}
