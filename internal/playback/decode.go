package playback

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
	"layeh.com/gopus"

	"github.com/MrWong99/genie/pkg/audio"
)

// ErrUnsupportedFormat is returned for files with an unknown extension.
var ErrUnsupportedFormat = errors.New("playback: unsupported file format")

// Opus cue files use the DCA layout: each packet is preceded by its length
// as a little-endian int16. Packets are 20 ms of 48 kHz stereo.
const (
	opusSampleRate = 48000
	opusChannels   = 2
	opusFrameSize  = opusSampleRate * 20 / 1000 // 960 samples per channel
	opusMaxPacket  = 4000
)

// chunkSamples is the mono chunk size produced by the wav and pcm decoders.
const chunkSamples = 1024

// source yields mono int16 chunks until io.EOF.
type source interface {
	Next() ([]int16, error)
	Rate() int
	Close() error
}

// open selects a decoder from the file extension. pcmRate is the rate of
// headerless .pcm files.
func open(path string, pcmRate int) (source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("playback: open %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		s, err := newWavSource(f)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		return s, nil
	case ".opus", ".dca":
		s, err := newOpusSource(f)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		return s, nil
	case ".pcm", ".raw":
		return &pcmSource{f: f, r: bufio.NewReader(f), rate: pcmRate}, nil
	default:
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// ─── wav ──────────────────────────────────────────────────────────────────────

type wavSource struct {
	s      beep.StreamSeekCloser
	format beep.Format
	buf    [][2]float64
}

func newWavSource(r io.ReadCloser) (*wavSource, error) {
	s, format, err := wav.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("playback: decode wav: %w", err)
	}
	return &wavSource{s: s, format: format, buf: make([][2]float64, chunkSamples)}, nil
}

func (w *wavSource) Next() ([]int16, error) {
	n, ok := w.s.Stream(w.buf)
	if n == 0 || !ok {
		if err := w.s.Err(); err != nil {
			return nil, fmt.Errorf("playback: wav stream: %w", err)
		}
		if n == 0 {
			return nil, io.EOF
		}
	}
	out := make([]int16, n)
	for i := range n {
		out[i] = audio.FloatToSample((w.buf[i][0] + w.buf[i][1]) / 2)
	}
	return out, nil
}

func (w *wavSource) Rate() int    { return int(w.format.SampleRate) }
func (w *wavSource) Close() error { return w.s.Close() }

// ─── opus ─────────────────────────────────────────────────────────────────────

type opusSource struct {
	f   io.Closer
	r   *bufio.Reader
	dec *gopus.Decoder
	pkt []byte
}

func newOpusSource(f io.ReadCloser) (*opusSource, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("playback: create opus decoder: %w", err)
	}
	return &opusSource{f: f, r: bufio.NewReader(f), dec: dec, pkt: make([]byte, opusMaxPacket)}, nil
}

func (o *opusSource) Next() ([]int16, error) {
	var size int16
	if err := binary.Read(o.r, binary.LittleEndian, &size); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("playback: opus frame header: %w", err)
	}
	if size <= 0 || int(size) > len(o.pkt) {
		return nil, fmt.Errorf("playback: opus frame size %d out of range", size)
	}
	pkt := o.pkt[:size]
	if _, err := io.ReadFull(o.r, pkt); err != nil {
		return nil, fmt.Errorf("playback: opus frame body: %w", err)
	}
	pcm, err := o.dec.Decode(pkt, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("playback: opus decode: %w", err)
	}
	return audio.DownmixStereo(pcm), nil
}

func (o *opusSource) Rate() int    { return opusSampleRate }
func (o *opusSource) Close() error { return o.f.Close() }

// ─── pcm ──────────────────────────────────────────────────────────────────────

type pcmSource struct {
	f    io.Closer
	r    io.Reader
	rate int
	buf  [chunkSamples * 2]byte
}

func (p *pcmSource) Next() ([]int16, error) {
	n, err := io.ReadFull(p.r, p.buf[:])
	if n >= 2 {
		return audio.BytesToSamples(p.buf[:n&^1]), nil
	}
	if err == nil || errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return nil, err
}

func (p *pcmSource) Rate() int    { return p.rate }
func (p *pcmSource) Close() error { return p.f.Close() }
