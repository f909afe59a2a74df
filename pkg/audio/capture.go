package audio

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// Capture defaults.
const (
	DefaultReadTimeout = 500 * time.Millisecond
	DefaultRetryDelay  = 10 * time.Millisecond

	// captureWarnInterval bounds how often repeated read failures are logged.
	captureWarnInterval = 5 * time.Second
)

// CaptureOption configures a [Capture].
type CaptureOption func(*Capture)

// WithFrameSamples sets the mono frame length produced per cycle.
func WithFrameSamples(n int) CaptureOption {
	return func(c *Capture) {
		if n > 0 {
			c.frameLen = n
		}
	}
}

// WithReadTimeout bounds each hardware read.
func WithReadTimeout(d time.Duration) CaptureOption {
	return func(c *Capture) {
		if d > 0 {
			c.readTimeout = d
		}
	}
}

// WithRetryDelay sets the pause after a failed or empty hardware read.
func WithRetryDelay(d time.Duration) CaptureOption {
	return func(c *Capture) {
		if d > 0 {
			c.retryDelay = d
		}
	}
}

// WithCaptureObserver reports captured frames and read failures to obs.
func WithCaptureObserver(obs Observer) CaptureOption {
	return func(c *Capture) {
		if obs != nil {
			c.obs = obs
		}
	}
}

// Capture is the single producer of the pipeline. Each cycle it reads one
// interleaved stereo frame of 32-bit words from a [FrameSource], keeps the
// left channel, narrows every word to int16 by an arithmetic right shift of
// 16 (the hardware delivers left-aligned samples), zero-pads short reads to a
// full frame and hands the frame to its [FrameWriter].
//
// Read failures are never fatal: they are logged at a bounded rate and
// retried after the retry delay.
type Capture struct {
	src FrameSource
	out FrameWriter
	obs Observer

	frameLen    int
	readTimeout time.Duration
	retryDelay  time.Duration

	raw   []int32
	frame []int16

	lastWarn   time.Time
	suppressed int
}

// NewCapture creates a Capture reading src and writing to out.
func NewCapture(src FrameSource, out FrameWriter, opts ...CaptureOption) *Capture {
	c := &Capture{
		src:         src,
		out:         out,
		obs:         nopObserver{},
		frameLen:    DefaultFrameSamples,
		readTimeout: DefaultReadTimeout,
		retryDelay:  DefaultRetryDelay,
	}
	for _, o := range opts {
		o(c)
	}
	c.raw = make([]int32, c.frameLen*2)
	c.frame = make([]int16, c.frameLen)
	return c
}

// Run captures frames until ctx is cancelled. It returns nil on cancellation.
func (c *Capture) Run(ctx context.Context) error {
	slog.Info("audio capture started",
		"frame_samples", c.frameLen,
		"read_timeout", c.readTimeout,
	)
	defer slog.Info("audio capture stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := c.src.ReadFrame(ctx, c.raw, c.readTimeout)
		if err != nil || n < 2 {
			if ctx.Err() != nil {
				return nil
			}
			switch {
			case err != nil:
			case n == 0:
				err = ErrReadTimeout
			default:
				err = ErrShortRead
			}
			c.obs.CaptureFailed(err)
			c.warn("audio capture read failed", err, n)
			if !sleepCtx(ctx, c.retryDelay) {
				return nil
			}
			continue
		}

		padded := c.narrow(n)
		if padded {
			c.warn("audio capture short frame", nil, n)
		}
		c.out.Write(c.frame)
		c.obs.FrameCaptured(padded)
	}
}

// narrow converts the first n raw words into c.frame and reports whether
// the frame had to be zero-padded.
func (c *Capture) narrow(n int) bool {
	out := 0
	for i := 0; i+1 < n && out < c.frameLen; i += 2 {
		c.frame[out] = NarrowSample(c.raw[i])
		out++
	}
	if out == c.frameLen {
		return false
	}
	clear(c.frame[out:])
	return true
}

// warn logs at most once per captureWarnInterval, reporting how many
// messages were suppressed in between.
func (c *Capture) warn(msg string, err error, words int) {
	now := time.Now()
	if !c.lastWarn.IsZero() && now.Sub(c.lastWarn) < captureWarnInterval {
		c.suppressed++
		return
	}
	attrs := []any{"words", words, "suppressed", c.suppressed}
	if err != nil {
		attrs = append(attrs, "err", err)
	}
	slog.Warn(msg, attrs...)
	c.lastWarn = now
	c.suppressed = 0
}

// NarrowSample converts one left-aligned 32-bit hardware word to int16 by
// keeping its high 16 bits.
func NarrowSample(raw int32) int16 {
	v := raw >> 16
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// sleepCtx waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
