// This file contains the Model implementation backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/genie/pkg/provider/classifier"
)

// Compile-time assertion that Model satisfies classifier.Model.
var _ classifier.Model = (*Model)(nil)

// Model implements classifier.Model using whisper.cpp Go bindings. The
// model file is loaded once and shared by every handle.
type Model struct {
	model whisperlib.Model
	cfg   config
}

// New loads the whisper.cpp model at modelPath. The caller must call Close
// when the model is no longer needed.
func New(modelPath string, opts ...Option) (*Model, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	return &Model{model: model, cfg: newConfig(opts)}, nil
}

// Create implements [classifier.Model].
func (m *Model) Create(name string, window time.Duration) (classifier.Handle, error) {
	if m.model == nil {
		return nil, errors.New("whisper: model is closed")
	}
	tr := &nativeTranscriber{model: m.model, language: m.cfg.language}
	return newHandle(name, window, tr, m.cfg), nil
}

// Close releases the whisper model.
func (m *Model) Close() error {
	if m.model == nil {
		return nil
	}
	err := m.model.Close()
	m.model = nil
	return err
}

// nativeTranscriber runs whisper.cpp inference with a fresh context per
// utterance. Contexts are not thread-safe; the model is.
type nativeTranscriber struct {
	model    whisperlib.Model
	language string
}

// Transcribe implements transcriber.
func (t *nativeTranscriber) Transcribe(samples []float32) (string, error) {
	wctx, err := t.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(t.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", t.language, "error", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
