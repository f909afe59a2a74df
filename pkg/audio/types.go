// Package audio defines the frame contract and the capture-side plumbing of
// the genie voice pipeline.
//
// The primary abstractions are:
//
//   - [FrameSource]: the hardware (or test double) that yields one raw
//     interleaved stereo frame per read.
//   - [FrameRing]: a bounded single-writer queue of mono int16 samples with a
//     drop-newest overflow policy.
//   - [Fanout]: delivers every captured frame to one [FrameRing] per consumer
//     so that the wake spotter and the command session never steal each
//     other's samples.
//   - [Capture]: the sole writer, narrowing hardware words to int16.
//   - [Sink]: the playback device consumed by the playback service.
//
// Device adapters live in sub-packages (audio/miniaudio) and test doubles in
// audio/mock.
package audio

import (
	"context"
	"time"
)

// Default frame geometry used throughout the pipeline.
const (
	// DefaultSampleRate is the capture sample rate in Hz.
	DefaultSampleRate = 16000

	// DefaultFrameSamples is the number of mono samples per frame (32 ms at
	// 16 kHz).
	DefaultFrameSamples = 512

	// DefaultRingFrames is the ring capacity in frames (~256 ms).
	DefaultRingFrames = 8
)

// Frame is one fixed-length block of signed 16-bit mono samples.
type Frame []int16

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// FrameSource is a blocking reader of raw hardware frames.
//
// ReadFrame fills dst with interleaved stereo 32-bit words (left, right, left,
// right, ...) and returns the number of words written. It blocks for at most
// timeout. A return of fewer words than len(dst) is a short read; callers
// must tolerate it. Implementations return [ErrReadTimeout] (possibly
// wrapped) when no data arrived in time.
type FrameSource interface {
	ReadFrame(ctx context.Context, dst []int32, timeout time.Duration) (int, error)
	Close() error
}

// FrameWriter accepts completed mono frames. Both [FrameRing] and [Fanout]
// implement it.
type FrameWriter interface {
	Write(frame []int16) bool
}

// Reader is the consumer side of a [FrameRing]. It is the narrow view handed
// to the wake spotter and the command session.
type Reader interface {
	Read(dst []int16, timeout time.Duration) (int, error)
}

// Sink is a playback device for mono int16 PCM.
//
// Write blocks until samples have been queued to the device or ctx is done.
// Implementations must be safe for concurrent use with Close.
type Sink interface {
	Format() Format
	Write(ctx context.Context, samples []int16) error
	Close() error
}

// Observer receives pipeline events from [Capture] and [Fanout]. Methods are
// called on the capture goroutine and must not block.
type Observer interface {
	FrameCaptured(padded bool)
	CaptureFailed(err error)
	FrameDropped(tap string)
}

type nopObserver struct{}

func (nopObserver) FrameCaptured(bool)  {}
func (nopObserver) CaptureFailed(error) {}
func (nopObserver) FrameDropped(string) {}
