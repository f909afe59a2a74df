package audio

import (
	"sync"
	"sync/atomic"
	"time"
)

// Fanout delivers each captured frame to every enabled [Tap]. Every tap owns
// a private [FrameRing], so consumers never compete for the same samples and
// a slow consumer only ever drops its own frames.
//
// Fanout is a [FrameWriter]; it is written by the capture goroutine only.
// Tap registration and Enable/Disable are safe for concurrent use.
type Fanout struct {
	frames   int
	frameLen int
	obs      Observer

	mu   sync.RWMutex
	taps []*Tap
}

// FanoutOption configures a [Fanout].
type FanoutOption func(*Fanout)

// WithFanoutObserver reports per-tap drops to obs.
func WithFanoutObserver(obs Observer) FanoutOption {
	return func(f *Fanout) {
		if obs != nil {
			f.obs = obs
		}
	}
}

// NewFanout creates a Fanout whose taps are rings of frames frames of
// frameLen samples.
func NewFanout(frames, frameLen int, opts ...FanoutOption) *Fanout {
	f := &Fanout{
		frames:   frames,
		frameLen: frameLen,
		obs:      nopObserver{},
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Tap registers a new consumer named name. A disabled tap receives nothing
// and accumulates no drops until [Tap.Enable] is called.
func (f *Fanout) Tap(name string, enabled bool) *Tap {
	t := &Tap{
		name: name,
		ring: NewFrameRing(f.frames, f.frameLen),
	}
	t.enabled.Store(enabled)

	f.mu.Lock()
	f.taps = append(f.taps, t)
	f.mu.Unlock()
	return t
}

// Write forwards frame to every enabled tap. It returns false if any enabled
// tap dropped the frame.
func (f *Fanout) Write(frame []int16) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	ok := true
	for _, t := range f.taps {
		if !t.enabled.Load() {
			continue
		}
		if !t.ring.Write(frame) {
			ok = false
			f.obs.FrameDropped(t.name)
		}
	}
	return ok
}

// Stats returns ring statistics keyed by tap name.
func (f *Fanout) Stats() map[string]RingStats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[string]RingStats, len(f.taps))
	for _, t := range f.taps {
		out[t.name] = t.ring.Stats()
	}
	return out
}

// Close closes every tap ring, unblocking their readers.
func (f *Fanout) Close() {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, t := range f.taps {
		t.ring.Close()
	}
}

// Tap is one consumer's view of a [Fanout]. It implements [Reader].
type Tap struct {
	name    string
	ring    *FrameRing
	enabled atomic.Bool
}

// Name returns the tap name given at registration.
func (t *Tap) Name() string { return t.name }

// Enabled reports whether the tap currently receives frames.
func (t *Tap) Enabled() bool { return t.enabled.Load() }

// Enable discards any stale samples and starts receiving frames.
func (t *Tap) Enable() {
	t.ring.Flush()
	t.enabled.Store(true)
}

// Disable stops receiving frames. Samples already buffered stay readable
// until the next Enable.
func (t *Tap) Disable() {
	t.enabled.Store(false)
}

// Read reads from the tap's ring. See [FrameRing.Read].
func (t *Tap) Read(dst []int16, timeout time.Duration) (int, error) {
	return t.ring.Read(dst, timeout)
}

// Ring exposes the underlying ring, mostly for statistics.
func (t *Tap) Ring() *FrameRing { return t.ring }
