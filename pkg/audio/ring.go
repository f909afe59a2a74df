package audio

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrReadTimeout is returned by [FrameRing.Read] when no sample became
	// available before the timeout elapsed.
	ErrReadTimeout = errors.New("audio: read timeout")

	// ErrRingClosed is returned by [FrameRing.Read] once the ring has been
	// closed and fully drained.
	ErrRingClosed = errors.New("audio: ring closed")

	// ErrShortRead is reported when a hardware read returned less than one
	// stereo sample pair.
	ErrShortRead = errors.New("audio: short read")
)

// RingStats is a point-in-time copy of a [FrameRing]'s counters.
//
// Conservation holds at every snapshot:
//
//	AcceptedSamples = DeliveredSamples + FlushedSamples + Buffered
type RingStats struct {
	// Accepted is the number of frames stored by Write.
	Accepted uint64
	// Dropped is the number of frames rejected by Write because the ring was
	// full. It never decreases.
	Dropped uint64

	AcceptedSamples  uint64
	DeliveredSamples uint64
	FlushedSamples   uint64

	// Buffered is the number of samples currently waiting for a reader.
	Buffered int
	// Capacity is the ring size in samples.
	Capacity int
}

// FrameRing is a bounded FIFO of int16 samples sized for a whole number of
// frames.
//
// Write never blocks: a frame that does not fit in the free space is
// discarded entirely and counted as dropped, so existing data is never
// overwritten. Read blocks for the first available sample and then drains
// whatever else is immediately available without waiting.
//
// FrameRing supports one writer and one reader. All methods are safe for
// concurrent use.
type FrameRing struct {
	frameLen int

	mu     sync.Mutex
	buf    []int16
	head   int // index of the oldest buffered sample
	size   int // number of buffered samples
	closed bool
	stats  RingStats

	notify chan struct{} // signalled after each accepted write
	done   chan struct{} // closed by Close
}

// NewFrameRing creates a ring holding frames frames of frameLen samples
// each. Non-positive arguments fall back to [DefaultRingFrames] and
// [DefaultFrameSamples].
func NewFrameRing(frames, frameLen int) *FrameRing {
	if frames <= 0 {
		frames = DefaultRingFrames
	}
	if frameLen <= 0 {
		frameLen = DefaultFrameSamples
	}
	return &FrameRing{
		frameLen: frameLen,
		buf:      make([]int16, frames*frameLen),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// FrameLen returns the nominal frame length in samples.
func (r *FrameRing) FrameLen() int { return r.frameLen }

// Write stores a copy of frame if the whole frame fits. Otherwise the frame is
// dropped, the drop counter is incremented and false is returned. Write on a
// closed ring returns false without counting a drop.
func (r *FrameRing) Write(frame []int16) bool {
	if len(frame) == 0 {
		return true
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	if len(r.buf)-r.size < len(frame) {
		r.stats.Dropped++
		r.mu.Unlock()
		return false
	}

	tail := (r.head + r.size) % len(r.buf)
	n := copy(r.buf[tail:], frame)
	copy(r.buf, frame[n:])
	r.size += len(frame)
	r.stats.Accepted++
	r.stats.AcceptedSamples += uint64(len(frame))
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
	return true
}

// Read copies up to len(dst) samples into dst in write order. It waits at
// most timeout for the first sample; once data is present it returns
// immediately with whatever is buffered, which may be fewer samples than
// requested. A non-positive timeout polls once.
//
// Read returns [ErrReadTimeout] when nothing arrived and [ErrRingClosed] when
// the ring is closed and empty.
func (r *FrameRing) Read(dst []int16, timeout time.Duration) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	for {
		r.mu.Lock()
		if r.size > 0 {
			n := r.drainLocked(dst)
			r.mu.Unlock()
			return n, nil
		}
		closed := r.closed
		r.mu.Unlock()

		if closed {
			return 0, ErrRingClosed
		}
		if expired == nil {
			return 0, ErrReadTimeout
		}

		select {
		case <-r.notify:
		case <-r.done:
		case <-expired:
			return 0, ErrReadTimeout
		}
	}
}

// drainLocked moves min(len(dst), size) samples out of the ring.
// r.mu must be held.
func (r *FrameRing) drainLocked(dst []int16) int {
	n := min(len(dst), r.size)
	first := min(n, len(r.buf)-r.head)
	copy(dst, r.buf[r.head:r.head+first])
	copy(dst[first:n], r.buf[:n-first])
	r.head = (r.head + n) % len(r.buf)
	r.size -= n
	r.stats.DeliveredSamples += uint64(n)
	return n
}

// Flush discards all buffered samples.
func (r *FrameRing) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.FlushedSamples += uint64(r.size)
	r.head = 0
	r.size = 0
}

// Stats returns a snapshot of the ring counters.
func (r *FrameRing) Stats() RingStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.stats
	s.Buffered = r.size
	s.Capacity = len(r.buf)
	return s
}

// Close stops accepting writes and wakes any blocked reader. Buffered samples
// remain readable. Close is idempotent.
func (r *FrameRing) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	close(r.done)
}
