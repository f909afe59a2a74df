// Package indicator drives the "listening" light shown while a wake session
// is open.
package indicator

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Indicator switches the listening indication on or off.
type Indicator interface {
	SetEnabled(on bool)
}

// DefaultLEDRoot is the sysfs directory holding LED class devices.
const DefaultLEDRoot = "/sys/class/leds"

// LED drives a Linux LED class device through its brightness attribute.
type LED struct {
	path string
	on   string

	mu      sync.Mutex
	enabled bool
}

// NewLED returns an LED for /sys/class/leds/<name>. The device must exist;
// max_brightness is used as the "on" value when readable.
func NewLED(root, name string) (*LED, error) {
	if root == "" {
		root = DefaultLEDRoot
	}
	dir := filepath.Join(root, name)
	if _, err := os.Stat(filepath.Join(dir, "brightness")); err != nil {
		return nil, fmt.Errorf("indicator: led %q: %w", name, err)
	}
	on := "1"
	if b, err := os.ReadFile(filepath.Join(dir, "max_brightness")); err == nil {
		if v := string(trimNewline(b)); v != "" {
			on = v
		}
	}
	return &LED{path: filepath.Join(dir, "brightness"), on: on}, nil
}

// SetEnabled implements [Indicator]. Write failures are logged.
func (l *LED) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	v := "0"
	if on {
		v = l.on
	}
	if err := os.WriteFile(l.path, []byte(v), 0o644); err != nil {
		slog.Warn("indicator: led write failed", "path", l.path, "err", err)
		return
	}
	l.enabled = on
}

// Enabled returns the last successfully written state.
func (l *LED) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r' || b[len(b)-1] == ' ') {
		b = b[:len(b)-1]
	}
	return b
}

// Log is an [Indicator] that logs state changes.
type Log struct {
	mu      sync.Mutex
	enabled bool
}

// SetEnabled implements [Indicator].
func (l *Log) SetEnabled(on bool) {
	l.mu.Lock()
	changed := l.enabled != on
	l.enabled = on
	l.mu.Unlock()
	if changed {
		slog.Info("indicator: listening", "enabled", on)
	}
}

// Enabled returns the current state.
func (l *Log) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Multi fans SetEnabled out to every indicator.
type Multi []Indicator

// SetEnabled implements [Indicator].
func (m Multi) SetEnabled(on bool) {
	for _, ind := range m {
		ind.SetEnabled(on)
	}
}
