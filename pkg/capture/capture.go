// Package capture acquires audio from the machine's devices.
//
// A Source wraps one hardware stream (microphone or system loopback) behind
// miniaudio. The device is configured for mono float32 at the pipeline rate,
// so miniaudio performs any resampling on the device side and the data
// callback does nothing but copy: it writes into the session's ring buffer
// and appends to the source's full-session record. The callback never blocks
// on a consumer; the ring's overwrite-on-full policy absorbs consumer lag.
//
// Device failures are fatal to that source only and surface as
// [*CaptureError].
package capture

import (
	"context"
	"fmt"

	"github.com/cadenza-audio/cadenza/pkg/audio"
)

// CaptureError reports a device open, configure, or start failure. The
// failure kills this source; other sources and the process keep running.
type CaptureError struct {
	// Source names the failed source, e.g. "mic" or "loopback".
	Source string
	Err    error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture: source %s: %v", e.Source, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Source is one capture stream feeding a ring buffer.
//
// Start and Stop bracket the stream's life. Stop is idempotent and returns
// the complete session audio accumulated since Start, which diarization
// consumes after the fact. The ring, by contrast, only ever holds the recent
// window the segmentation monitor has not yet drained.
type Source interface {
	// Name identifies the source; channel-based diarization uses it as the
	// speaker label.
	Name() string

	// Start opens the device and begins filling the ring. It fails with a
	// *CaptureError when the device cannot be opened or configured.
	Start(ctx context.Context) error

	// Stop closes the device and returns the full session audio. Calling
	// Stop again returns the same samples.
	Stop() ([]float32, error)

	// Ring exposes the buffer the segmentation monitor drains. One writer
	// (the device callback) and one reader only.
	Ring() *audio.Ring
}
