// Package segment implements the cascading split policy that reduces a
// continuous audio stream to an ordered sequence of bounded segments, the
// unit handed to speech recognition.
//
// The split decision is a pure cascade evaluated at every frame boundary
// ([Config.Decide]), driven frame-by-frame by a [Finder]. Two front-ends
// share the identical Finder: [Monitor] polls a live ring buffer, [Chunker]
// scans a preloaded buffer in one pass. Given the same [Config], VAD
// classifications, and samples, both produce identical boundaries.
package segment

import "time"

// Duration bounds and defaults for the split policy.
const (
	DefaultSemanticSilence = 2000 * time.Millisecond
	DefaultVADSilence      = 500 * time.Millisecond
	DefaultMaxSegment      = 300 * time.Second
	DefaultOverlap         = 500 * time.Millisecond
	DefaultMinContent      = 1 * time.Second

	// MinMaxSegment and MaxMaxSegment clamp the configurable size ceiling.
	MinMaxSegment = 30 * time.Second
	MaxMaxSegment = 1800 * time.Second
)

// Tier identifies which rung of the cascade produced a split.
type Tier int

const (
	// TierNone means no boundary at this frame.
	TierNone Tier = iota

	// TierSemantic is a long-silence boundary, assumed to correlate with a
	// topic or paragraph change. Preferred whenever available.
	TierSemantic

	// TierVAD is a short-silence (sentence) boundary.
	TierVAD

	// TierSize is a forced split at the segment duration ceiling,
	// independent of silence.
	TierSize

	// TierFlush marks a final, possibly short segment emitted when a
	// session stops with content still in progress.
	TierFlush
)

// String returns the tier name used in logs and metrics attributes.
func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierSemantic:
		return "semantic"
	case TierVAD:
		return "vad"
	case TierSize:
		return "size"
	case TierFlush:
		return "flush"
	default:
		return "unknown"
	}
}

// Config is the immutable split policy for one session, shared read-only by
// the streaming and batch front-ends. The zero value is not usable directly;
// pass it through [Config.Normalize] (constructors do this for you).
type Config struct {
	// SemanticSilence is the accumulated-silence threshold for a semantic
	// (topic) boundary. Default 2000 ms.
	SemanticSilence time.Duration

	// VADSilence is the accumulated-silence threshold for a sentence
	// boundary. Default 500 ms.
	VADSilence time.Duration

	// MaxSegment is the hard duration ceiling for any segment. Clamped to
	// [MinMaxSegment, MaxMaxSegment]. Default 300 s. This cap is what keeps
	// an inference backend from ever receiving an unbounded recording.
	MaxSegment time.Duration

	// Overlap is the trailing window retained on a forced split and
	// prepended to the next segment, so speech cut mid-word is not wholly
	// lost to either side. Default 500 ms.
	Overlap time.Duration

	// MinContent is the minimum in-progress duration before a semantic
	// split may fire. Default 1 s.
	MinContent time.Duration
}

// Normalize returns a copy with defaults applied and MaxSegment clamped.
func (c Config) Normalize() Config {
	if c.SemanticSilence <= 0 {
		c.SemanticSilence = DefaultSemanticSilence
	}
	if c.VADSilence <= 0 {
		c.VADSilence = DefaultVADSilence
	}
	if c.MaxSegment <= 0 {
		c.MaxSegment = DefaultMaxSegment
	}
	if c.MaxSegment < MinMaxSegment {
		c.MaxSegment = MinMaxSegment
	}
	if c.MaxSegment > MaxMaxSegment {
		c.MaxSegment = MaxMaxSegment
	}
	if c.Overlap <= 0 {
		c.Overlap = DefaultOverlap
	}
	if c.Overlap > c.MaxSegment/2 {
		c.Overlap = c.MaxSegment / 2
	}
	if c.MinContent <= 0 {
		c.MinContent = DefaultMinContent
	}
	return c
}

// Decide evaluates the cascade for an in-progress segment of duration segDur
// whose current silence run is silence. hadSpeech reports whether the
// segment contains any speech frame. Checked in priority order every frame:
// semantic, then VAD, then the size ceiling.
//
// The semantic tier fires on any long pause once MinContent has accumulated.
// The VAD tier is the fallback for conversations without long pauses; it
// only arms once the segment has grown to half the ceiling, so a short
// sentence pause early on does not fragment the stream, but a boundary is
// still found well before the hard cap. The size tier is evaluated
// regardless of VAD state, so continuous speech (or noise misclassified as
// speech) still splits.
func (c Config) Decide(segDur, silence time.Duration, hadSpeech bool) Tier {
	if hadSpeech && silence >= c.SemanticSilence && segDur >= c.MinContent {
		return TierSemantic
	}
	if hadSpeech && silence >= c.VADSilence && segDur >= c.MaxSegment/2 {
		return TierVAD
	}
	if segDur >= c.MaxSegment {
		return TierSize
	}
	return TierNone
}
