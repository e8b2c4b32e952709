package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] polls its file.
const DefaultWatchInterval = 5 * time.Second

// Watcher polls a config file and publishes every valid change through a
// callback. Invalid edits are logged and the previous config stays current.
//
// The callback runs on the watcher goroutine, one change at a time, and never
// after Stop has returned.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(d ConfigDiff, cfg *Config)

	current atomic.Pointer[Config]
	reload  chan chan error
	quit    chan struct{}
	exited  chan struct{}
	once    sync.Once

	// stamp identifies the file content behind current. Only the loop
	// goroutine touches it after NewWatcher returns.
	stamp fileStamp
}

type fileStamp struct {
	size  int64
	mtime time.Time
	sum   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values keep
// [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it. onChange may be nil.
func NewWatcher(path string, onChange func(d ConfigDiff, cfg *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		reload:   make(chan chan error),
		quit:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, stamp, err := readConfig(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current.Store(cfg)
	w.stamp = stamp

	go w.loop()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Reload re-reads the file now, even if its modification time is unchanged,
// and returns the load error if the new content is invalid. It is meant for
// SIGHUP handlers.
func (w *Watcher) Reload() error {
	res := make(chan error, 1)
	select {
	case w.reload <- res:
		return <-res
	case <-w.exited:
		return fmt.Errorf("config: watch %s: stopped", w.path)
	}
}

// Stop ends polling and waits for a running callback to return. It is safe
// to call more than once.
func (w *Watcher) Stop() {
	w.once.Do(func() { close(w.quit) })
	<-w.exited
}

func (w *Watcher) loop() {
	defer close(w.exited)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.quit:
			return
		case <-ticker.C:
			if err := w.check(false); err != nil {
				slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
			}
		case res := <-w.reload:
			res <- w.check(true)
		}
	}
}

// check publishes the file's config if its content changed. Unless force is
// set, a file whose size and modification time match the last read is not
// opened at all.
func (w *Watcher) check(force bool) error {
	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			return err
		}
		if info.Size() == w.stamp.size && info.ModTime().Equal(w.stamp.mtime) {
			return nil
		}
	}

	cfg, stamp, err := readConfig(w.path)
	seen := stamp.sum == w.stamp.sum
	if stamp != (fileStamp{}) {
		w.stamp = stamp
	}
	if err != nil {
		// An invalid file is reported once per content, not on every poll.
		if seen && !force {
			return nil
		}
		return err
	}
	if seen {
		return nil
	}

	old := w.current.Swap(cfg)
	d := Diff(old, cfg)
	if d.Empty() {
		slog.Debug("config watcher: file changed without effective changes", "path", w.path)
		return nil
	}

	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"next_session", d.NextSession(),
		"restart_required", d.RestartRequired,
	)
	if w.onChange != nil {
		w.onChange(d, cfg)
	}
	return nil
}

// readConfig loads and validates path and fingerprints its content. The
// fingerprint is returned even when validation fails.
func readConfig(path string) (*Config, fileStamp, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fileStamp{}, err
	}
	data := make([]byte, info.Size())
	if _, err := f.ReadAt(data, 0); err != nil && info.Size() > 0 {
		return nil, fileStamp{}, err
	}

	stamp := fileStamp{size: info.Size(), mtime: info.ModTime(), sum: sha256.Sum256(data)}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, stamp, err
	}
	return cfg, stamp, nil
}
