package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] polls the config file.
const DefaultWatchInterval = 2 * time.Second

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// fileStamp identifies one version of the config file.
type fileStamp struct {
	mtime time.Time
	size  int64
	sum   [sha256.Size]byte
}

// Watcher polls the config file and hands every effective change to an
// apply callback as a [ConfigDiff]. Log level, volume, wake debounce and
// cue root take effect immediately; other sections only appear in
// RestartRequired.
//
// A file that fails to load is reported once and ignored; the last valid
// config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	apply    func(ConfigDiff)

	mu      sync.Mutex
	current *Config
	stamp   fileStamp
	badSum  [sha256.Size]byte

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher loads path and starts polling it. apply may be nil.
func NewWatcher(path string, apply func(ConfigDiff), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		apply:    apply,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	data, stamp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.stamp = cfg, stamp

	go w.loop()
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling and waits for an in-flight apply to return. It is safe
// to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}

func (w *Watcher) loop() {
	defer close(w.done)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			if d, ok := w.reload(); ok && w.apply != nil {
				w.apply(d)
			}
		}
	}
}

// reload re-reads the file when its stamp moved and reports the diff
// against the current config. ok is false when nothing effective changed.
func (w *Watcher) reload() (d ConfigDiff, ok bool) {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: stat failed", "path", w.path, "err", err)
		return d, false
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.stamp.mtime) && info.Size() == w.stamp.size
	w.mu.Unlock()
	if unchanged {
		return d, false
	}

	data, stamp, err := w.read()
	if err != nil {
		slog.Warn("config watcher: read failed", "path", w.path, "err", err)
		return d, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if stamp.sum == w.stamp.sum || stamp.sum == w.badSum {
		w.stamp.mtime, w.stamp.size = stamp.mtime, stamp.size
		return d, false
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		w.badSum = stamp.sum
		w.stamp.mtime, w.stamp.size = stamp.mtime, stamp.size
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return d, false
	}

	d = Diff(w.current, cfg)
	w.current, w.stamp = cfg, stamp
	if !d.HasHotChanges() && len(d.RestartRequired) == 0 {
		return d, false
	}
	slog.Info("config watcher: config changed",
		"path", w.path,
		"hot", d.HasHotChanges(),
		"restart_required", d.RestartRequired,
	)
	return d, true
}

// read stats before reading so a write racing the read moves the mtime past
// the recorded stamp.
func (w *Watcher) read() ([]byte, fileStamp, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	return data, fileStamp{mtime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}, nil
}
