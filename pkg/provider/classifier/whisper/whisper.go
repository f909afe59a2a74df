// Package whisper implements classifier.Model on top of whisper.cpp
// transcription followed by phonetic phrase matching.
//
// A handle buffers chunks while their RMS energy indicates speech. Once a
// run of silence (default 400 ms) follows speech, or the utterance reaches
// its maximum length, the buffered audio is transcribed and the text is
// ranked against the registered phrases with [phonetic.Matcher]. A match
// yields [classifier.Detected]; otherwise the handle keeps listening until
// its detection window, measured in consumed audio, elapses and it reports
// [classifier.TimedOut].
package whisper

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/MrWong99/genie/internal/phonetic"
	"github.com/MrWong99/genie/pkg/provider/classifier"
)

const (
	// defaultRMSThreshold is the root-mean-square energy level (in 16-bit PCM
	// units) below which audio is considered silent. The maximum possible value
	// for 16-bit audio is 32 767; 300 corresponds to near-silence.
	defaultRMSThreshold = 300.0

	defaultLanguage     = "en"
	defaultSampleRate   = 16000
	defaultChunkLen     = 480 // 30 ms at 16 kHz
	defaultEndSilence   = 400 * time.Millisecond
	defaultMaxUtterance = 4 * time.Second
)

var errClosed = errors.New("whisper: handle is closed")

// transcriber turns mono float32 samples into text.
type transcriber interface {
	Transcribe(samples []float32) (string, error)
}

// config is shared by the model and its handles.
type config struct {
	language     string
	sampleRate   int
	chunkLen     int
	rmsThreshold float64
	endSilence   time.Duration
	maxUtterance time.Duration
	matcherOpts  []phonetic.Option
}

// Option is a functional option for configuring a [Model].
type Option func(*config)

// WithLanguage sets the BCP-47 language code for transcription. Defaults to
// "en".
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithSampleRate sets the rate of the audio passed to Classify. Defaults to
// 16000.
func WithSampleRate(rate int) Option {
	return func(c *config) {
		if rate > 0 {
			c.sampleRate = rate
		}
	}
}

// WithChunkLen sets the chunk size reported by ChunkLen. Defaults to 480.
func WithChunkLen(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.chunkLen = n
		}
	}
}

// WithEndSilence sets how much trailing silence ends an utterance.
func WithEndSilence(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.endSilence = d
		}
	}
}

// WithRMSThreshold sets the energy level separating speech from silence.
func WithRMSThreshold(v float64) Option {
	return func(c *config) {
		if v > 0 {
			c.rmsThreshold = v
		}
	}
}

// WithMatcherOptions forwards options to the phonetic matcher.
func WithMatcherOptions(opts ...phonetic.Option) Option {
	return func(c *config) { c.matcherOpts = append(c.matcherOpts, opts...) }
}

func newConfig(opts []Option) config {
	c := config{
		language:     defaultLanguage,
		sampleRate:   defaultSampleRate,
		chunkLen:     defaultChunkLen,
		rmsThreshold: defaultRMSThreshold,
		endSilence:   defaultEndSilence,
		maxUtterance: defaultMaxUtterance,
	}
	for _, o := range opts {
		o(&c)
	}
	return c
}

// ---- handle -----------------------------------------------------------------

var _ classifier.Handle = (*handle)(nil)

// handle is one classifier instance. It is confined to the command session
// goroutine.
type handle struct {
	name    string
	cfg     config
	window  time.Duration
	tr      transcriber
	matcher *phonetic.Matcher
	phrases []phonetic.Phrase

	elapsed   time.Duration
	utterance []int16
	hadSpeech bool
	silence   time.Duration
	timedOut  bool
	results   []classifier.Score
	closed    bool
}

func newHandle(name string, window time.Duration, tr transcriber, cfg config) *handle {
	return &handle{
		name:    name,
		cfg:     cfg,
		window:  window,
		tr:      tr,
		matcher: phonetic.New(cfg.matcherOpts...),
	}
}

// ChunkLen implements [classifier.Handle].
func (h *handle) ChunkLen() int { return h.cfg.chunkLen }

// SetPhrases implements [classifier.Handle].
func (h *handle) SetPhrases(phrases []classifier.Phrase) error {
	if h.closed {
		return errClosed
	}
	out := make([]phonetic.Phrase, 0, len(phrases))
	for _, p := range phrases {
		if len(phonetic.Tokens(p.Text)) == 0 {
			return fmt.Errorf("whisper: phrase %d has no words", p.ID)
		}
		out = append(out, phonetic.Phrase{ID: p.ID, Text: p.Text})
	}
	h.phrases = out
	return nil
}

// Classify implements [classifier.Handle].
func (h *handle) Classify(chunk []int16) (classifier.State, error) {
	if h.closed {
		return classifier.Detecting, errClosed
	}
	if len(chunk) != h.cfg.chunkLen {
		return classifier.Detecting, fmt.Errorf("whisper: chunk has %d samples, want %d", len(chunk), h.cfg.chunkLen)
	}
	if h.timedOut {
		return classifier.TimedOut, nil
	}

	dur := samplesDuration(len(chunk), h.cfg.sampleRate)
	h.elapsed += dur

	if computeRMS(chunk) < h.cfg.rmsThreshold {
		if h.hadSpeech {
			h.silence += dur
			h.utterance = append(h.utterance, chunk...)
		}
	} else {
		h.hadSpeech = true
		h.silence = 0
		h.utterance = append(h.utterance, chunk...)
	}

	if h.hadSpeech && (h.silence >= h.cfg.endSilence ||
		samplesDuration(len(h.utterance), h.cfg.sampleRate) >= h.cfg.maxUtterance) {
		if h.flush() {
			return classifier.Detected, nil
		}
	}

	if h.window > 0 && h.elapsed >= h.window {
		h.timedOut = true
		return classifier.TimedOut, nil
	}
	return classifier.Detecting, nil
}

// flush transcribes the buffered utterance and reports whether it matched.
func (h *handle) flush() bool {
	samples := pcmToFloat32(h.utterance)
	h.utterance = h.utterance[:0]
	h.hadSpeech = false
	h.silence = 0

	text, err := h.tr.Transcribe(samples)
	if err != nil {
		slog.Error("whisper classifier inference failed", "handle", h.name, "error", err)
		return false
	}
	ranked := h.matcher.Rank(text, h.phrases)
	slog.Debug("whisper classifier utterance", "handle", h.name, "text", text, "candidates", len(ranked))
	if len(ranked) == 0 {
		return false
	}

	h.results = h.results[:0]
	for _, c := range ranked {
		h.results = append(h.results, classifier.Score{
			PhraseID: c.Phrase.ID,
			Prob:     c.Score,
			Text:     c.Phrase.Text,
		})
	}
	return true
}

// Results implements [classifier.Handle].
func (h *handle) Results() []classifier.Score {
	return append([]classifier.Score(nil), h.results...)
}

// Reset implements [classifier.Handle].
func (h *handle) Reset() {
	h.elapsed = 0
	h.utterance = h.utterance[:0]
	h.hadSpeech = false
	h.silence = 0
	h.timedOut = false
	h.results = nil
}

// Close implements [classifier.Handle].
func (h *handle) Close() error {
	h.closed = true
	h.utterance = nil
	return nil
}

// ---- helpers ----------------------------------------------------------------

// computeRMS returns the root-mean-square energy of the samples.
func computeRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// samplesDuration converts a mono sample count to a duration.
func samplesDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(sampleRate))
}

// pcmToFloat32 converts int16 samples to float32 normalised to [-1.0, 1.0].
func pcmToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}
