package miniaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/genie/pkg/audio"
)

var _ audio.Sink = (*Playback)(nil)

// ErrClosed is returned by [Playback.Write] after Close.
var ErrClosed = errors.New("miniaudio: device closed")

// PlaybackConfig describes the playback device.
type PlaybackConfig struct {
	// SampleRate in Hz. Defaults to [audio.DefaultSampleRate].
	SampleRate int

	// MaxBuffered bounds queued audio; Write blocks while it is exceeded.
	// Defaults to 200 ms.
	MaxBuffered time.Duration
}

// Playback is a mono S16 playback device. Write queues samples; the device
// callback drains them and fills gaps with silence.
type Playback struct {
	device *malgo.Device
	format audio.Format
	maxLen int

	mu      sync.Mutex
	pending []int16
	closed  bool

	drained chan struct{} // signalled by the device callback after draining
}

// NewPlayback initialises and starts a playback device on c.
func NewPlayback(c *Context, cfg PlaybackConfig) (*Playback, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	if cfg.MaxBuffered <= 0 {
		cfg.MaxBuffered = 200 * time.Millisecond
	}

	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format)

	dc := malgo.DefaultDeviceConfig(malgo.Playback)
	dc.SampleRate = uint32(cfg.SampleRate)
	dc.Playback.Format = format
	dc.Playback.Channels = 1
	dc.Alsa.NoMMap = 1
	dc.PeriodSizeInFrames = uint32(cfg.SampleRate / 50) // 20 ms
	dc.Periods = 4

	p := &Playback{
		format:  audio.Format{SampleRate: cfg.SampleRate, Channels: 1},
		maxLen:  int(int64(cfg.SampleRate) * int64(cfg.MaxBuffered) / int64(time.Second)),
		drained: make(chan struct{}, 1),
	}

	var err error
	p.device, err = malgo.InitDevice(c.native(), dc, malgo.DeviceCallbacks{
		Data: func(output, _ []byte, frameCount uint32) {
			p.fill(output, int(frameCount)*bytesPerFrame)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init playback device: %w", err)
	}
	if err := p.device.Start(); err != nil {
		p.device.Uninit()
		return nil, fmt.Errorf("miniaudio: start playback device: %w", err)
	}
	return p, nil
}

// fill runs on the device thread.
func (p *Playback) fill(output []byte, need int) {
	need = min(need, len(output))
	clear(output[:need])

	p.mu.Lock()
	n := min(need/2, len(p.pending))
	for i := range n {
		s := uint16(p.pending[i])
		output[i*2] = byte(s)
		output[i*2+1] = byte(s >> 8)
	}
	p.pending = p.pending[n:]
	p.mu.Unlock()

	select {
	case p.drained <- struct{}{}:
	default:
	}
}

// Format implements [audio.Sink].
func (p *Playback) Format() audio.Format { return p.format }

// Write implements [audio.Sink]. It blocks while more than MaxBuffered
// audio is queued.
func (p *Playback) Write(ctx context.Context, samples []int16) error {
	for len(samples) > 0 {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return ErrClosed
		}
		room := p.maxLen - len(p.pending)
		if room > 0 {
			n := min(room, len(samples))
			p.pending = append(p.pending, samples[:n]...)
			samples = samples[n:]
			p.mu.Unlock()
			continue
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.drained:
		}
	}
	return nil
}

// Clear drops queued audio that has not reached the device.
func (p *Playback) Clear() {
	p.mu.Lock()
	p.pending = nil
	p.mu.Unlock()
}

// Close stops and releases the device. Close is idempotent.
func (p *Playback) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.pending = nil
	p.mu.Unlock()

	err := p.device.Stop()
	p.device.Uninit()
	if err != nil {
		return fmt.Errorf("miniaudio: stop playback device: %w", err)
	}
	return nil
}
