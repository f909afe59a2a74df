// Package mock provides test doubles for the classifier package interfaces.
//
// Use Model to control handle creation and Handle to script Classify
// verdicts and inspect the chunks that were submitted.
//
// Example:
//
//	h := &mock.Handle{
//	    Len:    480,
//	    States: []classifier.State{classifier.Detecting, classifier.Detected},
//	    ResultsResult: []classifier.Score{{PhraseID: 2, Prob: 0.9}},
//	}
//	m := &mock.Model{Handle: h}
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/genie/pkg/provider/classifier"
)

// CreateCall records a single invocation of Model.Create.
type CreateCall struct {
	Name   string
	Window time.Duration
}

// Model is a mock implementation of classifier.Model.
type Model struct {
	mu sync.Mutex

	// Handle is returned by Create. If nil, Create returns a new default
	// Handle.
	Handle classifier.Handle

	// CreateErr, if non-nil, is returned as the error from Create.
	CreateErr error

	// CreateCalls records every call to Create in order.
	CreateCalls []CreateCall
}

// Create records the call and returns Handle, CreateErr.
func (m *Model) Create(name string, window time.Duration) (classifier.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls = append(m.CreateCalls, CreateCall{Name: name, Window: window})
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	if m.Handle != nil {
		return m.Handle, nil
	}
	return &Handle{}, nil
}

// Ensure Model implements classifier.Model at compile time.
var _ classifier.Model = (*Model)(nil)

// Handle is a mock implementation of classifier.Handle.
type Handle struct {
	mu sync.Mutex

	// Len is returned by ChunkLen. Defaults to 480 when zero.
	Len int

	// States is consumed one element per Classify call; once exhausted
	// Classify returns Default.
	States []classifier.State

	// Default is returned once States is exhausted.
	Default classifier.State

	// ClassifyFunc, if set, overrides States and Default.
	ClassifyFunc func(chunk []int16) classifier.State

	// ClassifyDelay simulates a slow model.
	ClassifyDelay time.Duration

	// ClassifyErr, if non-nil, is returned by every Classify call.
	ClassifyErr error

	// SetPhrasesErr, if non-nil, is returned by SetPhrases.
	SetPhrasesErr error

	// ResultsResult is returned by Results.
	ResultsResult []classifier.Score

	// --- Call records ---

	// Phrases holds the last list passed to SetPhrases.
	Phrases []classifier.Phrase

	// ChunkLens records the length of every chunk passed to Classify.
	ChunkLens []int

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// SetLen changes the chunk length reported from now on.
func (h *Handle) SetLen(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Len = n
}

// ChunkLen implements classifier.Handle.
func (h *Handle) ChunkLen() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Len == 0 {
		return 480
	}
	return h.Len
}

// SetPhrases records the phrases and returns SetPhrasesErr.
func (h *Handle) SetPhrases(phrases []classifier.Phrase) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Phrases = append([]classifier.Phrase(nil), phrases...)
	return h.SetPhrasesErr
}

// Classify records the call and returns the next scripted state.
func (h *Handle) Classify(chunk []int16) (classifier.State, error) {
	h.mu.Lock()
	delay := h.ClassifyDelay
	h.ChunkLens = append(h.ChunkLens, len(chunk))
	h.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ClassifyErr != nil {
		return classifier.Detecting, h.ClassifyErr
	}
	if h.ClassifyFunc != nil {
		return h.ClassifyFunc(chunk), nil
	}
	if len(h.States) > 0 {
		st := h.States[0]
		h.States = h.States[1:]
		return st, nil
	}
	return h.Default, nil
}

// Results returns ResultsResult.
func (h *Handle) Results() []classifier.Score {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ResultsResult
}

// Reset records the call by incrementing ResetCallCount.
func (h *Handle) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ResetCallCount++
}

// Close records the call.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CloseCallCount++
	return nil
}

// Calls returns the number of Classify calls so far. Thread-safe.
func (h *Handle) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.ChunkLens)
}

// Resets returns ResetCallCount. Thread-safe.
func (h *Handle) Resets() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ResetCallCount
}

// Ensure Handle implements classifier.Handle at compile time.
var _ classifier.Handle = (*Handle)(nil)
