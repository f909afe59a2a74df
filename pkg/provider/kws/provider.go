// Package kws defines the Spotter interface for keyword (wake word) spotting
// backends.
//
// A Spotter wraps a frame-level keyword model and reports whether the wake
// word ended in the supplied frame. The numeric internals of the model are
// opaque to the pipeline; only the frame contract matters.
//
// Detect is synchronous and is called from a single goroutine (the wake
// spotter loop). Implementations need not be safe for concurrent Detect calls
// but must tolerate Close racing with a final Detect.
package kws

// Spotter is the keyword-spotting model consumed by the wake spotter.
type Spotter interface {
	// FrameLen returns the number of mono int16 samples Detect expects.
	FrameLen() int

	// Detect runs the model over exactly FrameLen samples and reports a
	// positive trigger. Errors are treated as "no trigger" by the caller.
	Detect(frame []int16) (bool, error)

	// Close releases the model. Calling Close more than once is safe.
	Close() error
}
