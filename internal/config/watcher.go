package config

import (
	"context"
	"os"
	"sync"
	"time"
)

// ConfigWatcher polls a config file and reports each valid new version.
// Versions that fail to load or validate are passed to OnError and
// otherwise ignored; the last good config stays current.
type ConfigWatcher struct {
	filePath     string
	pollInterval time.Duration
	debounce     time.Duration
	lastModTime  time.Time
	lastSize     int64
	lastConfig   *Config
	onChange     func(oldCfg, newCfg *Config)
	onError      func(err error)
	mu           sync.Mutex
}

// WatcherConfig holds config watcher configuration.
type WatcherConfig struct {
	FilePath     string
	PollInterval time.Duration // Default: 1s
	Debounce     time.Duration // Default: 200ms
	OnChange     func(oldCfg, newCfg *Config)
	OnError      func(err error) // Optional
}

// NewConfigWatcher creates a watcher. The file is loaded once up front and
// becomes the baseline that changes are compared against.
func NewConfigWatcher(cfg *WatcherConfig) (*ConfigWatcher, error) {
	if cfg.FilePath == "" {
		return nil, ErrMissingConfigFile
	}
	if cfg.OnChange == nil {
		return nil, ErrMissingOnChange
	}

	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = time.Second
	}
	debounce := cfg.Debounce
	if debounce == 0 {
		debounce = 200 * time.Millisecond
	}
	onError := cfg.OnError
	if onError == nil {
		onError = func(error) {}
	}

	info, err := os.Stat(cfg.FilePath)
	if err != nil {
		return nil, err
	}
	initialConfig, err := LoadConfig(cfg.FilePath)
	if err != nil {
		return nil, err
	}

	return &ConfigWatcher{
		filePath:     cfg.FilePath,
		pollInterval: pollInterval,
		debounce:     debounce,
		lastModTime:  info.ModTime(),
		lastSize:     info.Size(),
		lastConfig:   initialConfig,
		onChange:     cfg.OnChange,
		onError:      onError,
	}, nil
}

// Run polls until ctx is cancelled. A change is reported once the file has
// been quiet for the debounce period.
func (w *ConfigWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			changed, err := w.checkFileChanged()
			if err != nil {
				w.onError(err)
				continue
			}
			if changed {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.NewTimer(w.debounce)
				debounceCh = debounceTimer.C
			}

		case <-debounceCh:
			w.reload()
			debounceTimer = nil
			debounceCh = nil
		}
	}
}

// checkFileChanged checks if the config file has been modified.
func (w *ConfigWatcher) checkFileChanged() (bool, error) {
	info, err := os.Stat(w.filePath)
	if err != nil {
		return false, err
	}

	modTime := info.ModTime()
	size := info.Size()

	if modTime != w.lastModTime || size != w.lastSize {
		w.lastModTime = modTime
		w.lastSize = size
		return true, nil
	}
	return false, nil
}

// reload loads and validates the file, then reports it.
func (w *ConfigWatcher) reload() {
	newConfig, err := LoadConfig(w.filePath)
	if err != nil {
		w.onError(err)
		return
	}
	if errs := ValidateConfig(newConfig); len(errs) > 0 {
		w.onError(errs[0])
		return
	}

	w.mu.Lock()
	oldConfig := w.lastConfig
	w.lastConfig = newConfig
	w.mu.Unlock()

	w.onChange(oldConfig, newConfig)
}

// CurrentConfig returns the last valid config.
func (w *ConfigWatcher) CurrentConfig() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastConfig
}
