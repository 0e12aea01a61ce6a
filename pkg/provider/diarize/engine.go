// Package diarize defines the Engine interface for speaker diarization.
//
// Two variants exist: channel-based attribution, where the capture source a
// sample arrived on is the speaker label (exact for two sources), and neural
// speaker separation via a local inference server. An engine returns
// speaker-labeled time ranges; merging those with transcription results
// happens at the presentation layer, not here.
package diarize

import (
	"context"
	"time"
)

// Turn is one speaker-labeled time range. Turns may overlap when the
// underlying model reports overlapping speech; callers must not assume
// non-overlap.
type Turn struct {
	// Speaker is the label for this range. Channel-based engines use the
	// source name (e.g. "mic", "loopback"); neural engines use integer
	// labels ("speaker-0", "speaker-1") that are stable within a session
	// but carry no meaning across sessions.
	Speaker string

	Start time.Duration
	End   time.Duration
}

// Duration returns the length of the turn.
func (t Turn) Duration() time.Duration { return t.End - t.Start }

// Overlaps reports whether the turn intersects [start, end).
func (t Turn) Overlaps(start, end time.Duration) bool {
	return t.Start < end && start < t.End
}

// Engine is the capability interface over a diarization variant.
type Engine interface {
	// Diarize labels speech in samples (mono float32 at sampleRate) and
	// returns the turns ordered by start time.
	Diarize(ctx context.Context, samples []float32, sampleRate int) ([]Turn, error)
}
