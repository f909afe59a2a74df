// Package wake runs the keyword spotter over the wake tap of the capture
// fan-out and reports debounced wake events.
package wake

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/genie/internal/observe"
	"github.com/MrWong99/genie/internal/resilience"
	"github.com/MrWong99/genie/pkg/audio"
	"github.com/MrWong99/genie/pkg/provider/kws"
)

const (
	// DefaultReadTimeout bounds a single wait for a full model frame.
	DefaultReadTimeout = 200 * time.Millisecond

	// DefaultDebounce is the minimum spacing between two delivered wakes.
	DefaultDebounce = 1200 * time.Millisecond
)

// Trigger outcomes recorded in the genie.wake.triggers metric.
const (
	OutcomeDelivered  = "delivered"
	OutcomeSuppressed = "suppressed"
	OutcomeDropped    = "dropped"
)

// Option configures a [Spotter].
type Option func(*Spotter)

// WithReadTimeout overrides [DefaultReadTimeout].
func WithReadTimeout(d time.Duration) Option {
	return func(s *Spotter) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}

// WithDebounce overrides [DefaultDebounce].
func WithDebounce(d time.Duration) Option {
	return func(s *Spotter) { s.SetDebounce(d) }
}

// WithMetrics records trigger outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Spotter) { s.metrics = m }
}

// WithBreaker guards model inference with b. Frames are skipped while b is
// open.
func WithBreaker(b *resilience.Breaker) Option {
	return func(s *Spotter) { s.breaker = b }
}

// WithClock replaces time.Now. Tests use it to step through the debounce
// window without sleeping.
func WithClock(now func() time.Time) Option {
	return func(s *Spotter) {
		if now != nil {
			s.now = now
		}
	}
}

// Spotter feeds fixed-size frames to a [kws.Spotter] and calls onWake for
// every trigger outside the debounce window.
//
// onWake must not block. It returns false when the event could not be
// queued; the cool-down is armed either way.
type Spotter struct {
	model  kws.Spotter
	in     audio.Reader
	onWake func() bool

	readTimeout time.Duration
	debounce    atomic.Int64 // time.Duration
	now         func() time.Time
	metrics     *observe.Metrics
	breaker     *resilience.Breaker

	// coolDown is owned by the Run goroutine.
	coolDown time.Time
	triggers atomic.Uint64
}

// New creates a Spotter reading from in. model and onWake must not be nil.
func New(model kws.Spotter, in audio.Reader, onWake func() bool, opts ...Option) *Spotter {
	s := &Spotter{
		model:       model,
		in:          in,
		onWake:      onWake,
		readTimeout: DefaultReadTimeout,
		now:         time.Now,
	}
	s.debounce.Store(int64(DefaultDebounce))
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetDebounce changes the debounce window. Safe to call while Run is active;
// the new value applies to the next delivered trigger.
func (s *Spotter) SetDebounce(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.debounce.Store(int64(d))
}

// Debounce returns the current debounce window.
func (s *Spotter) Debounce() time.Duration {
	return time.Duration(s.debounce.Load())
}

// Triggers returns the number of positive detections seen so far, including
// suppressed ones.
func (s *Spotter) Triggers() uint64 {
	return s.triggers.Load()
}

// Run reads frames until ctx is cancelled or the input is closed. It returns
// nil in both cases.
//
// Samples accumulate until exactly one model frame is filled, so the model
// frame length is independent of the capture frame length.
func (s *Spotter) Run(ctx context.Context) error {
	frame := make([]int16, s.model.FrameLen())
	fill := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := s.in.Read(frame[fill:], s.readTimeout)
		fill += n
		if errors.Is(err, audio.ErrRingClosed) {
			return nil
		}
		if fill < len(frame) {
			continue
		}
		fill = 0

		hit, err := s.detect(frame)
		if errors.Is(err, resilience.ErrOpen) {
			continue
		}
		if err != nil {
			slog.Warn("wake: detect failed", "err", err)
			continue
		}
		if hit {
			s.trigger(ctx)
		}
	}
}

func (s *Spotter) detect(frame []int16) (bool, error) {
	if s.breaker == nil {
		return s.model.Detect(frame)
	}
	var hit bool
	err := s.breaker.Do(func() error {
		var err error
		hit, err = s.model.Detect(frame)
		return err
	})
	return hit, err
}

// trigger applies the debounce and delivers the wake.
func (s *Spotter) trigger(ctx context.Context) {
	s.triggers.Add(1)
	now := s.now()
	if now.Before(s.coolDown) {
		slog.Debug("wake: trigger suppressed", "cool_down_left", s.coolDown.Sub(now))
		s.record(ctx, OutcomeSuppressed)
		return
	}
	s.coolDown = now.Add(s.Debounce())

	if !s.onWake() {
		slog.Warn("wake: event queue full, wake dropped")
		s.record(ctx, OutcomeDropped)
		return
	}
	slog.Info("wake: wake word detected")
	s.record(ctx, OutcomeDelivered)
}

func (s *Spotter) record(ctx context.Context, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordWakeTrigger(ctx, outcome)
	}
}
