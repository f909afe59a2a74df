// Package onnx implements a keyword spotter backed by ONNX Runtime
// (github.com/yalue/onnxruntime_go).
//
// The model must take a single float32 input of shape [1, FrameLen] holding
// samples normalised to [-1, 1] and produce a float32 output of shape [1, 1]
// holding the wake-word probability. Streaming models keep their own state
// across calls.
//
// The native backend is only compiled with the "onnx" build tag; without it
// [New] returns [ErrNativeUnavailable].
package onnx

import "errors"

// ErrNativeUnavailable indicates the ONNX backend is not compiled in.
var ErrNativeUnavailable = errors.New("onnx: backend not available (build without -tags onnx)")

// LibraryPathEnv names the environment variable holding the path to the
// ONNX Runtime shared library.
const LibraryPathEnv = "GENIE_ORT_LIB_PATH"

// Config configures the spotter.
type Config struct {
	// ModelPath is the path of the .onnx model file. Required.
	ModelPath string

	// FrameLen is the input window in samples. Defaults to 512.
	FrameLen int

	// Threshold is the probability at or above which Detect reports a
	// trigger. Defaults to 0.5.
	Threshold float32

	// InputName and OutputName are the model's tensor names. Default to
	// "input" and "output".
	InputName  string
	OutputName string
}

func (c *Config) applyDefaults() {
	if c.FrameLen <= 0 {
		c.FrameLen = 512
	}
	if c.Threshold <= 0 {
		c.Threshold = 0.5
	}
	if c.InputName == "" {
		c.InputName = "input"
	}
	if c.OutputName == "" {
		c.OutputName = "output"
	}
}
