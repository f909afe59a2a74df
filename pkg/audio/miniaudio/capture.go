package miniaudio

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/genie/pkg/audio"
)

var _ audio.FrameSource = (*Capture)(nil)

// CaptureConfig describes the capture device.
type CaptureConfig struct {
	// SampleRate in Hz. Defaults to [audio.DefaultSampleRate].
	SampleRate int

	// FrameSamples is the number of stereo pairs per device period, matching
	// the pipeline frame length. Defaults to [audio.DefaultFrameSamples].
	FrameSamples int

	// BufferFrames bounds how many periods are queued between the device
	// callback and ReadFrame. Older words are discarded when full.
	BufferFrames int
}

// Capture is a stereo S32 capture device. The device callback appends words
// to a bounded queue; ReadFrame drains one frame's worth at a time.
type Capture struct {
	device *malgo.Device
	maxLen int

	mu      sync.Mutex
	pending []int32
	overrun uint64

	notify chan struct{}
}

// NewCapture initialises and starts a capture device on c.
func NewCapture(c *Context, cfg CaptureConfig) (*Capture, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = audio.DefaultFrameSamples
	}
	if cfg.BufferFrames <= 0 {
		cfg.BufferFrames = audio.DefaultRingFrames
	}

	const channels = 2
	format := malgo.FormatS32
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	dc := malgo.DefaultDeviceConfig(malgo.Capture)
	dc.SampleRate = uint32(cfg.SampleRate)
	dc.Capture.Format = format
	dc.Capture.Channels = channels
	dc.Alsa.NoMMap = 1
	dc.PerformanceProfile = malgo.LowLatency
	dc.PeriodSizeInFrames = uint32(cfg.FrameSamples)
	dc.Periods = 3

	cp := &Capture{
		maxLen: cfg.FrameSamples * channels * cfg.BufferFrames,
		notify: make(chan struct{}, 1),
	}

	var err error
	cp.device, err = malgo.InitDevice(c.native(), dc, malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if n == 0 || len(input) < n {
				return
			}
			cp.push(input[:n])
		},
	})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init capture device: %w", err)
	}
	if err := cp.device.Start(); err != nil {
		cp.device.Uninit()
		return nil, fmt.Errorf("miniaudio: start capture device: %w", err)
	}
	return cp, nil
}

// push runs on the device thread and must not block.
func (cp *Capture) push(b []byte) {
	cp.mu.Lock()
	for i := 0; i+4 <= len(b); i += 4 {
		cp.pending = append(cp.pending, int32(binary.LittleEndian.Uint32(b[i:])))
	}
	if over := len(cp.pending) - cp.maxLen; over > 0 {
		// Keep whole stereo pairs.
		over += over % 2
		cp.pending = cp.pending[over:]
		cp.overrun += uint64(over)
	}
	cp.mu.Unlock()

	select {
	case cp.notify <- struct{}{}:
	default:
	}
}

// ReadFrame implements [audio.FrameSource]. It waits until len(dst) words
// are queued or timeout elapses. On timeout it returns whatever whole pairs
// are queued (a short read) or [audio.ErrReadTimeout] when none are.
func (cp *Capture) ReadFrame(ctx context.Context, dst []int32, timeout time.Duration) (int, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()

	for {
		cp.mu.Lock()
		if len(cp.pending) >= len(dst) {
			n := cp.takeLocked(dst, len(dst))
			cp.mu.Unlock()
			return n, nil
		}
		cp.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-cp.notify:
		case <-t.C:
			cp.mu.Lock()
			n := cp.takeLocked(dst, len(cp.pending)&^1)
			cp.mu.Unlock()
			if n == 0 {
				return 0, audio.ErrReadTimeout
			}
			return n, nil
		}
	}
}

func (cp *Capture) takeLocked(dst []int32, n int) int {
	n = copy(dst[:n], cp.pending)
	cp.pending = cp.pending[n:]
	return n
}

// Overruns returns the number of words discarded because ReadFrame fell
// behind the device.
func (cp *Capture) Overruns() uint64 {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.overrun
}

// Close stops and releases the device.
func (cp *Capture) Close() error {
	if cp.device == nil {
		return nil
	}
	err := cp.device.Stop()
	cp.device.Uninit()
	cp.device = nil
	if err != nil {
		return fmt.Errorf("miniaudio: stop capture device: %w", err)
	}
	return nil
}
