//go:build !onnx

package onnx

import "github.com/MrWong99/genie/pkg/provider/kws"

// NativeAvailable reports that no native backend is compiled in.
func NativeAvailable() bool { return false }

// New returns [ErrNativeUnavailable] when built without the onnx tag.
func New(_ Config) (kws.Spotter, error) {
	return nil, ErrNativeUnavailable
}
