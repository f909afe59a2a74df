package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/genie/internal/indicator"
	"github.com/MrWong99/genie/pkg/audio"
	"github.com/MrWong99/genie/pkg/provider/classifier"
	"github.com/MrWong99/genie/pkg/provider/kws"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Provider kinds, used in errors and [ValidProviderNames].
const (
	KindCapture    = "capture"
	KindPlayback   = "playback"
	KindSpotter    = "kws"
	KindClassifier = "classifier"
	KindIndicator  = "indicator"
)

// Factory builds a provider from its config entry and the full config.
type Factory[T any] func(entry ProviderEntry, cfg *Config) (T, error)

// factories is one name → constructor table.
type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]Factory[T])}
}

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	capture    factories[audio.FrameSource]
	playback   factories[audio.Sink]
	spotter    factories[kws.Spotter]
	classifier factories[classifier.Model]
	indicator  factories[indicator.Indicator]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		capture:    newFactories[audio.FrameSource](KindCapture),
		playback:   newFactories[audio.Sink](KindPlayback),
		spotter:    newFactories[kws.Spotter](KindSpotter),
		classifier: newFactories[classifier.Model](KindClassifier),
		indicator:  newFactories[indicator.Indicator](KindIndicator),
	}
}

func register[T any](r *Registry, f factories[T], name string, factory Factory[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f.m[name] = factory
}

func create[T any](r *Registry, f factories[T], entry ProviderEntry, cfg *Config) (T, error) {
	r.mu.RLock()
	factory, ok := f.m[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return factory(entry, cfg)
}

func names[T any](r *Registry, f factories[T]) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(f.m))
	for name := range f.m {
		out = append(out, name)
	}
	return out
}

// RegisterCapture registers a capture device factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterCapture(name string, factory Factory[audio.FrameSource]) {
	register(r, r.capture, name, factory)
}

// RegisterPlayback registers a playback device factory under name.
func (r *Registry) RegisterPlayback(name string, factory Factory[audio.Sink]) {
	register(r, r.playback, name, factory)
}

// RegisterSpotter registers a keyword spotter factory under name.
func (r *Registry) RegisterSpotter(name string, factory Factory[kws.Spotter]) {
	register(r, r.spotter, name, factory)
}

// RegisterClassifier registers a command classifier factory under name.
func (r *Registry) RegisterClassifier(name string, factory Factory[classifier.Model]) {
	register(r, r.classifier, name, factory)
}

// RegisterIndicator registers an indicator factory under name.
func (r *Registry) RegisterIndicator(name string, factory Factory[indicator.Indicator]) {
	register(r, r.indicator, name, factory)
}

// CreateCapture instantiates the capture device registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) CreateCapture(entry ProviderEntry, cfg *Config) (audio.FrameSource, error) {
	return create(r, r.capture, entry, cfg)
}

// CreatePlayback instantiates the playback device registered under entry.Name.
func (r *Registry) CreatePlayback(entry ProviderEntry, cfg *Config) (audio.Sink, error) {
	return create(r, r.playback, entry, cfg)
}

// CreateSpotter instantiates the keyword spotter registered under entry.Name.
func (r *Registry) CreateSpotter(entry ProviderEntry, cfg *Config) (kws.Spotter, error) {
	return create(r, r.spotter, entry, cfg)
}

// CreateClassifier instantiates the classifier registered under entry.Name.
func (r *Registry) CreateClassifier(entry ProviderEntry, cfg *Config) (classifier.Model, error) {
	return create(r, r.classifier, entry, cfg)
}

// CreateIndicator instantiates the indicator registered under entry.Name.
func (r *Registry) CreateIndicator(entry ProviderEntry, cfg *Config) (indicator.Indicator, error) {
	return create(r, r.indicator, entry, cfg)
}

// Names returns the registered names for kind, in no particular order.
func (r *Registry) Names(kind string) []string {
	switch kind {
	case KindCapture:
		return names(r, r.capture)
	case KindPlayback:
		return names(r, r.playback)
	case KindSpotter:
		return names(r, r.spotter)
	case KindClassifier:
		return names(r, r.classifier)
	case KindIndicator:
		return names(r, r.indicator)
	}
	return nil
}
