// Package mock provides a test double for the kws.Spotter interface.
//
// Results are consumed in order from Triggers; once exhausted, Detect returns
// Default. Every Detect call is recorded.
//
// Example:
//
//	sp := &mock.Spotter{Len: 512, Triggers: []bool{false, true}}
package mock

import (
	"sync"

	"github.com/MrWong99/genie/pkg/provider/kws"
)

// Ensure Spotter implements kws.Spotter at compile time.
var _ kws.Spotter = (*Spotter)(nil)

// Spotter is a mock implementation of kws.Spotter.
type Spotter struct {
	mu sync.Mutex

	// Len is returned by FrameLen. Defaults to 512 when zero.
	Len int

	// Triggers is consumed one element per Detect call.
	Triggers []bool

	// Default is returned once Triggers is exhausted.
	Default bool

	// DetectErr, if non-nil, is returned by every Detect call.
	DetectErr error

	// TriggerFunc, if set, overrides Triggers and Default.
	TriggerFunc func(frame []int16) bool

	// --- Call records ---

	// DetectCallCount is the number of times Detect was called.
	DetectCallCount int

	// FrameLens records the length of every frame passed to Detect.
	FrameLens []int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// FrameLen implements kws.Spotter.
func (s *Spotter) FrameLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Len <= 0 {
		return 512
	}
	return s.Len
}

// Detect records the call and returns the next scripted trigger.
func (s *Spotter) Detect(frame []int16) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DetectCallCount++
	s.FrameLens = append(s.FrameLens, len(frame))
	if s.DetectErr != nil {
		return false, s.DetectErr
	}
	if s.TriggerFunc != nil {
		return s.TriggerFunc(frame), nil
	}
	if len(s.Triggers) > 0 {
		v := s.Triggers[0]
		s.Triggers = s.Triggers[1:]
		return v, nil
	}
	return s.Default, nil
}

// Close records the call.
func (s *Spotter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return nil
}

// Calls returns DetectCallCount. Thread-safe.
func (s *Spotter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.DetectCallCount
}
