// Package classifier defines the interfaces for command-phrase classification
// backends.
//
// A [Model] creates [Handle]s. A Handle consumes fixed-size chunks of mono
// int16 audio and, after each chunk, reports whether it is still listening,
// has recognised one of the registered phrases, or has given up because its
// detection window elapsed without a match. The numeric internals of the
// model are opaque to the pipeline.
//
// A Handle is driven by a single goroutine (the command session loop) and
// need not be safe for concurrent use.
package classifier

import "time"

// State is the verdict returned by [Handle.Classify].
type State int

const (
	// Detecting means no decision yet; keep feeding chunks.
	Detecting State = iota

	// Detected means a phrase was recognised; see [Handle.Results].
	Detected

	// TimedOut means the model's own detection window elapsed without a
	// match.
	TimedOut
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case Detecting:
		return "detecting"
	case Detected:
		return "detected"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Phrase is one registrable command phrase. Several phrases may share an ID.
type Phrase struct {
	ID   int
	Text string
}

// Score is one ranked recognition result.
type Score struct {
	PhraseID int

	// Prob is the model confidence in [0, 1].
	Prob float64

	// Text is the phrase text that matched, when the backend knows it.
	Text string
}

// Handle is one instantiated classifier.
type Handle interface {
	// ChunkLen returns the exact number of samples Classify expects.
	ChunkLen() int

	// SetPhrases replaces the registered phrase list.
	SetPhrases(phrases []Phrase) error

	// Classify consumes exactly ChunkLen samples.
	Classify(chunk []int16) (State, error)

	// Results returns the ranked results of the last Detected verdict, best
	// first. It may be empty.
	Results() []Score

	// Reset clears all detection state, including the elapsed detection
	// window, without dropping the phrase list.
	Reset()

	// Close releases the handle. Calling Close more than once is safe.
	Close() error
}

// Model is the factory for classifier handles.
type Model interface {
	// Create instantiates a handle named name whose detection window is
	// window.
	Create(name string, window time.Duration) (Handle, error)
}
