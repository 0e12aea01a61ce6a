// Package vad defines the capability interface for Voice Activity Detection
// engines.
//
// A VAD engine classifies fixed-size audio frames as speech or silence and
// tracks the running duration of the current silence run. Two implementations
// ship with Cadenza: a low-cost adaptive energy detector (vad/energy) suitable
// for every frame, and a neural detector backed by a Silero ONNX model
// (vad/silero) with higher accuracy and higher per-frame cost. Selection
// between them is a configuration choice made once per session.
//
// Frame size is fixed per engine; callers must feed frames of exactly
// [SessionHandle.FrameSize] samples — the VAD does not resample or re-chunk.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle is owned by one goroutine (the segmentation loop)
// and need not be goroutine-safe.
package vad

import "time"

// Class is the classification of a single audio frame.
type Class int

const (
	// ClassSilence indicates no speech was detected in the frame.
	ClassSilence Class = iota

	// ClassSpeech indicates the frame contains speech.
	ClassSpeech
)

// String returns the human-readable name of the class.
func (c Class) String() string {
	switch c {
	case ClassSilence:
		return "silence"
	case ClassSpeech:
		return "speech"
	default:
		return "unknown"
	}
}

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// frames passed to Classify. The pipeline always uses 16000.
	SampleRate int

	// Threshold is the speech-probability (neural) or energy (RMS, [0, 1])
	// level above which a frame is classified as speech. Zero selects the
	// engine default.
	Threshold float64
}

// SessionHandle is an active VAD session for a single audio stream.
// It maintains the silence-run accumulator and any engine-internal state.
type SessionHandle interface {
	// Classify analyses one frame of exactly FrameSize() mono float32 samples
	// and returns its class. It must not block; it is called synchronously
	// from the segmentation loop. Returns an error on a wrong frame size or
	// an engine-internal failure.
	Classify(frame []float32) (Class, error)

	// SilenceDuration returns the accumulated duration of the current
	// silence run. It resets to zero on any speech frame and grows by one
	// frame duration per silence frame.
	SilenceDuration() time.Duration

	// FrameSize returns the fixed frame length in samples this engine
	// requires (commonly 10–30 ms of audio).
	FrameSize() int

	// Reset clears all accumulated detection state without closing the
	// session. Use when the audio stream is interrupted or a new segment
	// begins.
	Reset()

	// Close releases engine resources. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions, implemented by each backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a session with the given configuration. Returns an
	// error if the configuration is invalid or engine resources cannot be
	// allocated.
	NewSession(cfg Config) (SessionHandle, error)
}
