// Package asr defines the Backend interface for speech recognition engines.
//
// A backend receives one bounded segment of mono float32 audio at 16 kHz per
// call and returns the recognized text. Calls are independent: no
// cross-segment state is required for correctness, though implementations
// keep a loaded model handle alive across calls. The segmentation layer
// upstream guarantees no call ever receives audio longer than the configured
// segment ceiling.
//
// Backends do not retry. A failed call surfaces as either
// [ErrBackendUnavailable] (the engine is not ready to serve at all) or an
// [*InferenceError] (this particular segment failed); the caller decides
// whether to skip the segment, abort the session, or apply a retry policy.
package asr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrBackendUnavailable indicates the engine cannot serve any request right
// now, typically because its model is not loaded or its serving process is
// not reachable. Callers usually surface a "not ready" state rather than
// retrying.
var ErrBackendUnavailable = errors.New("asr: backend unavailable")

// InferenceError wraps an engine-internal failure for a single segment. The
// session continues with subsequent segments; the error is attached to this
// segment's slot in the transcript.
type InferenceError struct {
	// Backend names the engine, e.g. "whisper" or "parakeet".
	Backend string
	Err     error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("asr: %s inference failed: %v", e.Backend, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// Result is the outcome of transcribing one segment.
type Result struct {
	// Text is the recognized speech, trimmed. May be empty when the engine
	// found no words in the segment.
	Text string

	// Language is the language the engine detected or was configured with,
	// as a BCP-47 tag. Empty when the engine does not report it.
	Language string

	// Elapsed is the wall-clock inference duration.
	Elapsed time.Duration
}

// Backend is the capability interface over a speech recognition engine.
//
// Transcribe may be called from multiple goroutines; implementations that
// wrap a non-reentrant engine must serialize internally.
type Backend interface {
	// Transcribe recognizes speech in samples (mono float32, 16 kHz).
	Transcribe(ctx context.Context, samples []float32) (*Result, error)

	// Name identifies the backend in logs and per-segment errors.
	Name() string

	// Close releases the loaded model or connection. Transcribe calls after
	// Close return ErrBackendUnavailable.
	Close() error
}
