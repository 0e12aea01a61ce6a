// Package session orchestrates the capture → segmentation → transcription
// pipeline for live and batch input.
//
// A streaming [Session] owns one capture source, the segmentation monitor
// polling its ring, and a single serialized transcription worker. Segments
// are transcribed strictly in emission order; a failed segment keeps its
// slot with the error attached and the session continues, so one bad
// segment never loses a recording. [RunBatch] produces the same entry
// sequence synchronously from a preloaded buffer, and [ConferenceSession]
// adds multi-source capture with speaker attribution.
package session

import (
	"time"

	"github.com/cadenza-audio/cadenza/pkg/provider/asr"
	"github.com/cadenza-audio/cadenza/pkg/segment"
)

// SegmentInfo is the metadata of one emitted segment, kept after the
// samples themselves are released.
type SegmentInfo struct {
	ID    uint64
	Start time.Duration
	End   time.Duration
	Tier  segment.Tier
}

// Duration returns the segment length.
func (s SegmentInfo) Duration() time.Duration { return s.End - s.Start }

// Entry is one slot of a session transcript: a segment with its
// transcription outcome and, once diarization has run, a speaker label.
type Entry struct {
	Segment SegmentInfo

	// Result is the transcription. Nil when Err is set.
	Result *asr.Result

	// Err is the per-segment transcription failure, if any. The session
	// keeps processing subsequent segments.
	Err error

	// Backend names the engine that produced (or failed) this entry.
	Backend string

	// Speaker is filled by [MergeSpeakers] when diarization is active.
	Speaker string
}

func segmentInfo(seg *segment.Segment) SegmentInfo {
	return SegmentInfo{ID: seg.ID, Start: seg.Start, End: seg.End, Tier: seg.Tier}
}
