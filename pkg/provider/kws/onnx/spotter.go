//go:build onnx

package onnx

import (
	"errors"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/genie/pkg/provider/kws"
)

var _ kws.Spotter = (*Spotter)(nil)

// ortInitOnce ensures the ONNX Runtime environment is initialised exactly
// once per process; ortInitErr is surfaced to every later New call.
var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// NativeAvailable reports that the ONNX backend is compiled in.
func NativeAvailable() bool { return true }

// Spotter runs a keyword model through ONNX Runtime.
type Spotter struct {
	mu        sync.Mutex
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	output    *ort.Tensor[float32]
	frameLen  int
	threshold float32
}

// New loads the model described by cfg.
func New(cfg Config) (kws.Spotter, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("onnx: model path must not be empty")
	}
	cfg.applyDefaults()

	ortInitOnce.Do(func() {
		if p := os.Getenv(LibraryPathEnv); p != "" {
			ort.SetSharedLibraryPath(p)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("onnx: init runtime: %w", ortInitErr)
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.FrameLen)))
	if err != nil {
		return nil, fmt.Errorf("onnx: create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("onnx: create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.Value{input},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("onnx: create session for %q: %w", cfg.ModelPath, err)
	}

	return &Spotter{
		session:   session,
		input:     input,
		output:    output,
		frameLen:  cfg.FrameLen,
		threshold: cfg.Threshold,
	}, nil
}

// FrameLen implements [kws.Spotter].
func (s *Spotter) FrameLen() int { return s.frameLen }

// Detect implements [kws.Spotter].
func (s *Spotter) Detect(frame []int16) (bool, error) {
	if len(frame) != s.frameLen {
		return false, fmt.Errorf("onnx: frame has %d samples, want %d", len(frame), s.frameLen)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return false, errors.New("onnx: spotter is closed")
	}

	data := s.input.GetData()
	for i, v := range frame {
		data[i] = float32(v) / 32768.0
	}
	if err := s.session.Run(); err != nil {
		return false, fmt.Errorf("onnx: inference: %w", err)
	}
	return s.output.GetData()[0] >= s.threshold, nil
}

// Close implements [kws.Spotter].
func (s *Spotter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	if s.input != nil {
		s.input.Destroy()
		s.input = nil
	}
	if s.output != nil {
		s.output.Destroy()
		s.output = nil
	}
	return nil
}
