// Package mock provides in-memory mock implementations of the [audio.FrameSource]
// and [audio.Sink] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{}
//	src.Push(mock.StereoFrame(512, 0x10000))
//	c := audio.NewCapture(src, ring)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/genie/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.FrameSource = (*Source)(nil)
	_ audio.Sink        = (*Sink)(nil)
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock [audio.FrameSource]. Frames queued with [Source.Push] are
// returned in order; when the queue is empty ReadFrame waits for the timeout
// (or ctx) and returns [audio.ErrReadTimeout].
type Source struct {
	mu     sync.Mutex
	frames [][]int32
	errs   []error
	notify chan struct{}

	// CallCountReadFrame records how many times ReadFrame was called.
	CallCountReadFrame int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Push queues one raw interleaved stereo frame.
func (s *Source) Push(frame []int32) {
	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.errs = append(s.errs, nil)
	n := s.notifyLocked()
	s.mu.Unlock()
	signal(n)
}

// PushError queues a read failure.
func (s *Source) PushError(err error) {
	s.mu.Lock()
	s.frames = append(s.frames, nil)
	s.errs = append(s.errs, err)
	n := s.notifyLocked()
	s.mu.Unlock()
	signal(n)
}

// Pending returns the number of queued frames and errors not yet read.
func (s *Source) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// ReadFrame implements [audio.FrameSource].
func (s *Source) ReadFrame(ctx context.Context, dst []int32, timeout time.Duration) (int, error) {
	s.mu.Lock()
	s.CallCountReadFrame++
	s.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		s.mu.Lock()
		if len(s.frames) > 0 {
			f, err := s.frames[0], s.errs[0]
			s.frames, s.errs = s.frames[1:], s.errs[1:]
			s.mu.Unlock()
			if err != nil {
				return 0, err
			}
			return copy(dst, f), nil
		}
		n := s.notifyLocked()
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-t.C:
			return 0, audio.ErrReadTimeout
		case <-n:
		}
	}
}

// Close implements [audio.FrameSource].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

func (s *Source) notifyLocked() chan struct{} {
	if s.notify == nil {
		s.notify = make(chan struct{}, 1)
	}
	return s.notify
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// StereoFrame builds a raw frame of n stereo pairs whose left words are all
// left and whose right words are zero.
func StereoFrame(n int, left int32) []int32 {
	f := make([]int32, n*2)
	for i := 0; i < len(f); i += 2 {
		f[i] = left
	}
	return f
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock [audio.Sink] that records every written sample.
type Sink struct {
	mu sync.Mutex

	// FormatResult is returned by [Sink.Format]. Defaults to 16 kHz mono.
	FormatResult audio.Format

	// WriteErr, if non-nil, is returned by Write.
	WriteErr error

	// WriteDelay simulates device latency per Write call.
	WriteDelay time.Duration

	// Samples holds all samples written, in order.
	Samples []int16

	// CallCountWrite records how many times Write was called.
	CallCountWrite int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Format implements [audio.Sink].
func (s *Sink) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FormatResult.SampleRate == 0 {
		return audio.Format{SampleRate: audio.DefaultSampleRate, Channels: 1}
	}
	return s.FormatResult
}

// Write implements [audio.Sink].
func (s *Sink) Write(ctx context.Context, samples []int16) error {
	s.mu.Lock()
	delay := s.WriteDelay
	s.CallCountWrite++
	if s.WriteErr != nil {
		err := s.WriteErr
		s.mu.Unlock()
		return err
	}
	s.Samples = append(s.Samples, samples...)
	s.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// Close implements [audio.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// Written returns a copy of all samples written so far.
func (s *Sink) Written() []int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int16, len(s.Samples))
	copy(out, s.Samples)
	return out
}

// ─── Observer ─────────────────────────────────────────────────────────────────

// Observer is a mock [audio.Observer] that counts events.
type Observer struct {
	mu       sync.Mutex
	Captured int
	Padded   int
	Failed   []error
	Dropped  map[string]int
}

var _ audio.Observer = (*Observer)(nil)

// FrameCaptured implements [audio.Observer].
func (o *Observer) FrameCaptured(padded bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Captured++
	if padded {
		o.Padded++
	}
}

// CaptureFailed implements [audio.Observer].
func (o *Observer) CaptureFailed(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Failed = append(o.Failed, err)
}

// FrameDropped implements [audio.Observer].
func (o *Observer) FrameDropped(tap string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Dropped == nil {
		o.Dropped = make(map[string]int)
	}
	o.Dropped[tap]++
}

// Snapshot returns the captured, padded and failure counts.
func (o *Observer) Snapshot() (captured, padded, failed int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Captured, o.Padded, len(o.Failed)
}

// Drops returns the drop count for tap.
func (o *Observer) Drops(tap string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Dropped[tap]
}
