// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level activity detector (e.g., an RMS energy gate
// or a model-based detector) and surfaces it as a stateful, per-stream
// session. Each session tracks whether its stream was active on the previous
// frame so that it can report speech start and end transitions.
//
// ProcessFrame and ProcessSamples are synchronous and return a detection
// result immediately. The capture pipeline calls them once per window to
// decide whether echo suppression runs.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import "errors"

// ErrSessionClosed is returned by ProcessFrame after Close.
var ErrSessionClosed = errors.New("vad: session closed")

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to ProcessFrame.
	SampleRate int

	// FrameSizeMs is the expected duration of each PCM frame in milliseconds.
	// Zero accepts frames of any length, which suits reference audio that
	// arrives in irregular blocks.
	FrameSizeMs int

	// Threshold is the level above which a frame counts as active, in the
	// engine's native scale. Zero selects the engine default.
	Threshold float64
}

// SessionHandle represents an active VAD session for a single audio stream. It is
// an interface so that test code can supply mock implementations without a live
// engine. Each session maintains its own detection state; Reset clears this state
// without closing the session.
//
// A SessionHandle should not be shared between goroutines unless the implementation
// explicitly guarantees concurrent safety.
type SessionHandle interface {
	// ProcessFrame analyses a frame of raw little-endian PCM16 at the configured
	// SampleRate and returns the detection result. Returns an error if the frame
	// size is wrong, the frame holds a trailing half sample, or the session is
	// closed.
	ProcessFrame(frame []byte) (VADEvent, error)

	// ProcessSamples analyses a block of normalised float samples. Sessions
	// that have been closed report [VADSilence].
	ProcessSamples(samples []float32) VADEvent

	// Reset clears the accumulated detection state without closing the session.
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may call
// NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration. The session
	// is immediately ready to accept audio.
	//
	// Returns an error if the configuration is invalid (e.g., non-positive
	// sample rate or negative threshold).
	NewSession(cfg Config) (SessionHandle, error)
}
