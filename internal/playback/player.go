// Package playback plays cue files on an [audio.Sink], one at a time.
//
// [Player.Play] starts a file asynchronously and fails with [ErrBusy] while
// another file is playing. Every successful Play is followed by exactly one
// [Completion] delivered to the callback registered with
// [Player.OnComplete].
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/genie/internal/observe"
	"github.com/MrWong99/genie/pkg/audio"
)

// ErrBusy is returned by Play while a file is playing.
var ErrBusy = errors.New("playback: player busy")

// Reason tells why a playback ended.
type Reason int

const (
	ReasonOK Reason = iota
	ReasonStopped
	ReasonError
)

// String returns "ok", "stopped" or "error".
func (r Reason) String() string {
	switch r {
	case ReasonOK:
		return "ok"
	case ReasonStopped:
		return "stopped"
	case ReasonError:
		return "error"
	default:
		return "unknown"
	}
}

// Completion describes a finished playback. ID is the value Play returned
// for it.
type Completion struct {
	ID     uint64
	Path   string
	Reason Reason
	Err    error
}

// DefaultPCMRate is the sample rate assumed for headerless .pcm files.
const DefaultPCMRate = audio.DefaultSampleRate

// Option configures a [Player].
type Option func(*Player)

// WithPCMRate sets the rate of headerless .pcm files.
func WithPCMRate(rate int) Option {
	return func(p *Player) {
		if rate > 0 {
			p.pcmRate = rate
		}
	}
}

// WithVolume sets the initial volume in percent.
func WithVolume(pct int) Option {
	return func(p *Player) { p.SetVolume(pct) }
}

// WithMetrics records play requests and completions on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Player) { p.metrics = m }
}

// Player is a single-flight file player. All methods are safe for
// concurrent use.
type Player struct {
	sink    audio.Sink
	pcmRate int
	metrics *observe.Metrics

	volume atomic.Int32
	muted  atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc // non-nil while playing
	path   string
	seq    uint64
	onDone func(Completion)
	wg     sync.WaitGroup
}

// New creates a Player writing to sink at 100 % volume.
func New(sink audio.Sink, opts ...Option) *Player {
	p := &Player{sink: sink, pcmRate: DefaultPCMRate}
	p.volume.Store(100)
	for _, o := range opts {
		o(p)
	}
	return p
}

// OnComplete registers the completion callback. It is invoked from the
// playback goroutine after the player is idle again, so it may call Play.
func (p *Player) OnComplete(cb func(Completion)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDone = cb
}

// Play starts path asynchronously. It returns [ErrBusy] while another file
// plays, or an error when the file cannot be opened or decoded; in those
// cases no completion follows. On success it returns the non-zero ID that
// the matching [Completion] carries.
func (p *Player) Play(path string) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		p.record("busy")
		return 0, ErrBusy
	}

	src, err := open(path, p.pcmRate)
	if err != nil {
		p.record("error")
		return 0, err
	}

	p.seq++
	id := p.seq
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.path = path
	p.wg.Add(1)
	go p.run(ctx, id, path, src)

	p.record("started")
	return id, nil
}

// Stop asks the current playback to end. It returns immediately; the
// completion reports [ReasonStopped].
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}

// IsPlaying reports whether a file is playing.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Current returns the path being played, or "".
func (p *Player) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		return ""
	}
	return p.path
}

// SetVolume sets the volume, clamped to 0..100.
func (p *Player) SetVolume(pct int) {
	p.volume.Store(int32(max(0, min(100, pct))))
}

// Volume returns the volume in percent.
func (p *Player) Volume() int { return int(p.volume.Load()) }

// ToggleMute flips the mute flag and returns the new value.
func (p *Player) ToggleMute() bool {
	for {
		old := p.muted.Load()
		if p.muted.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// Muted reports whether output is muted.
func (p *Player) Muted() bool { return p.muted.Load() }

// Close stops playback and waits for the playback goroutine.
func (p *Player) Close() error {
	p.Stop()
	p.wg.Wait()
	return nil
}

func (p *Player) run(ctx context.Context, id uint64, path string, src source) {
	defer p.wg.Done()

	ctx, span := observe.StartPlaybackSpan(ctx, id, path)

	reason, err := p.stream(ctx, src)
	if cerr := src.Close(); cerr != nil && err == nil {
		slog.Debug("playback: close source", "path", path, "err", cerr)
	}

	observe.EndPlaybackSpan(span, reason.String(), err)

	p.mu.Lock()
	p.cancel()
	p.cancel = nil
	p.path = ""
	cb := p.onDone
	p.mu.Unlock()

	if err != nil {
		slog.Warn("playback: failed", "path", path, "err", err)
	} else {
		slog.Debug("playback: done", "path", path, "reason", reason.String())
	}
	if p.metrics != nil {
		p.metrics.RecordPlaybackCompleted(context.Background(), reason.String())
	}
	if cb != nil {
		cb(Completion{ID: id, Path: path, Reason: reason, Err: err})
	}
}

// stream copies decoded audio to the sink until EOF, error or Stop.
func (p *Player) stream(ctx context.Context, src source) (Reason, error) {
	format := p.sink.Format()
	for {
		if ctx.Err() != nil {
			return ReasonStopped, nil
		}

		chunk, err := src.Next()
		if errors.Is(err, io.EOF) {
			return ReasonOK, nil
		}
		if err != nil {
			return ReasonError, err
		}

		chunk = audio.ResampleMono(chunk, src.Rate(), format.SampleRate)
		if p.muted.Load() {
			clear(chunk)
		} else {
			audio.ApplyGain(chunk, p.Volume())
		}
		if format.Channels == 2 {
			chunk = duplicateChannels(chunk)
		}

		if err := p.sink.Write(ctx, chunk); err != nil {
			if ctx.Err() != nil {
				return ReasonStopped, nil
			}
			return ReasonError, fmt.Errorf("playback: sink write: %w", err)
		}
	}
}

func (p *Player) record(status string) {
	if p.metrics != nil {
		p.metrics.RecordPlaybackRequest(context.Background(), status)
	}
}

// duplicateChannels turns mono samples into interleaved L=R stereo.
func duplicateChannels(mono []int16) []int16 {
	out := make([]int16, len(mono)*2)
	for i, s := range mono {
		out[2*i] = s
		out[2*i+1] = s
	}
	return out
}
