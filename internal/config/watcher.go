package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// fileState identifies one version of the config file.
type fileState struct {
	modTime time.Time
	sum     [sha256.Size]byte
}

// Watcher keeps the config file's latest valid content current. It polls
// the file's mtime and can be asked to [Watcher.Reload] at any time, e.g. on
// SIGHUP. Edits that fail to load are logged and the previous config is
// kept.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(prev, next *Config)

	// reloadMu serialises reloads so onChange calls never overlap.
	reloadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	state   fileState
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and returns a watcher holding it. onChange may be
// nil.
func NewWatcher(path string, onChange func(prev, next *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: 5 * time.Second, onChange: onChange}
	for _, opt := range opts {
		opt(w)
	}
	cfg, st, err := readConfigFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	w.current, w.state = cfg, st
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls the file's mtime every interval until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		info, err := os.Stat(w.path)
		if err != nil {
			slog.Warn("config: cannot stat file", "path", w.path, "err", err)
			continue
		}
		w.mu.Lock()
		stale := !info.ModTime().Equal(w.state.modTime)
		w.mu.Unlock()
		if stale {
			if _, err := w.Reload(); err != nil {
				slog.Warn("config: keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

// Reload reads the file now. It reports whether the content changed, in
// which case onChange has run before Reload returns. A file that fails to
// load leaves the current config in place and returns the error.
func (w *Watcher) Reload() (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	cfg, st, err := readConfigFile(w.path)
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	if st.sum == w.state.sum {
		w.state.modTime = st.modTime
		w.mu.Unlock()
		return false, nil
	}
	prev := w.current
	w.current, w.state = cfg, st
	w.mu.Unlock()

	slog.Info("config: reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(prev, cfg)
	}
	return true, nil
}

func readConfigFile(path string) (*Config, fileState, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fileState{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fileState{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{modTime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
